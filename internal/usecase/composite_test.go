package usecase

import (
	"math"
	"testing"

	"ChartDesk/internal/domain/models"
)

func TestBuildCompositeNormalizesToBase100(t *testing.T) {
	series := map[string][]models.Candle{
		// Two symbols at very different price levels but identical shape:
		// each gains 10% at the second bar.
		"HIGH": {
			{Time: 1, Open: 1000, High: 1000, Low: 1000, Close: 1000, Volume: 10},
			{Time: 2, Open: 1000, High: 1100, Low: 1000, Close: 1100, Volume: 20},
		},
		"LOW": {
			{Time: 1, Open: 10, High: 10, Low: 10, Close: 10, Volume: 30},
			{Time: 2, Open: 10, High: 11, Low: 10, Close: 11, Volume: 40},
		},
	}
	out := BuildComposite(series)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if math.Abs(out[0].Close-100) > 1e-9 {
		t.Fatalf("first close = %f, want 100", out[0].Close)
	}
	if math.Abs(out[1].Close-110) > 1e-9 {
		t.Fatalf("second close = %f, want 110 (both symbols +10%%)", out[1].Close)
	}
	if out[0].Volume != 40 || out[1].Volume != 60 {
		t.Fatalf("volumes = %f,%f, want summed 40,60", out[0].Volume, out[1].Volume)
	}
}

func TestBuildCompositeOrderInvariant(t *testing.T) {
	a := map[string][]models.Candle{
		"AAA": {{Time: 1, Open: 50, High: 51, Low: 49, Close: 50, Volume: 1}},
		"BBB": {{Time: 1, Open: 200, High: 210, Low: 190, Close: 205, Volume: 2}},
		"CCC": {{Time: 2, Open: 7, High: 8, Low: 7, Close: 8, Volume: 3}},
	}
	b := map[string][]models.Candle{
		"CCC": a["CCC"],
		"AAA": a["AAA"],
		"BBB": a["BBB"],
	}
	outA := BuildComposite(a)
	outB := BuildComposite(b)
	if len(outA) != len(outB) {
		t.Fatalf("lengths differ: %d vs %d", len(outA), len(outB))
	}
	for i := range outA {
		if outA[i] != outB[i] {
			t.Fatalf("bar %d differs across iteration orders: %+v vs %+v", i, outA[i], outB[i])
		}
	}
}

func TestBuildCompositeUnionTimestampsNoInterpolation(t *testing.T) {
	series := map[string][]models.Candle{
		"X": {
			{Time: 1, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
			{Time: 3, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		},
		"Y": {
			{Time: 2, Open: 10, High: 10, Low: 10, Close: 10, Volume: 1},
		},
	}
	out := BuildComposite(series)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want union of 3 timestamps", len(out))
	}
	// The middle timestamp has only Y contributing; no interpolation of X.
	if out[1].Time != 2 || math.Abs(out[1].Close-100) > 1e-9 {
		t.Fatalf("bar at t=2 = %+v, want Y's normalized close alone", out[1])
	}
}

func TestBuildCompositeExcludesUnusableBase(t *testing.T) {
	series := map[string][]models.Candle{
		"GOOD": {{Time: 1, Open: 100, High: 100, Low: 100, Close: 100, Volume: 5}},
		// Zero open and zero close: no usable normalization base.
		"BAD": {{Time: 1, Open: 0, High: 0, Low: 0, Close: 0, Volume: 7}},
	}
	out := BuildComposite(series)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Volume != 5 {
		t.Fatalf("volume = %f: excluded symbol still contributed", out[0].Volume)
	}
}

func TestBuildCompositeFallsBackToCloseBase(t *testing.T) {
	series := map[string][]models.Candle{
		"Z": {{Time: 1, Open: 0, High: 52, Low: 48, Close: 50, Volume: 1}},
	}
	out := BuildComposite(series)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if math.Abs(out[0].Close-100) > 1e-9 {
		t.Fatalf("close = %f, want 100 with close-based normalization", out[0].Close)
	}
}
