package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	"ChartDesk/internal/service/session"
)

type fakeStreamCache struct {
	bars         []models.StreamBar
	sessionStart int64
	err          error
}

func (f *fakeStreamCache) IntradayBars(string) ([]models.StreamBar, int64, error) {
	return f.bars, f.sessionStart, f.err
}

type fakeVendor struct {
	candles   []models.Candle
	err       error
	available bool
	calls     int
}

func (f *fakeVendor) Intraday(_ context.Context, _ string, _ repository.Resolution, _, _ int64) ([]models.Candle, error) {
	f.calls++
	return f.candles, f.err
}

func (f *fakeVendor) Available() bool { return f.available }

func regularWindow(t *testing.T) session.Window {
	t.Helper()
	start := time.Date(2024, time.June, 12, 13, 30, 0, 0, time.UTC)
	return session.Window{
		Start:        start,
		End:          start.Add(390 * time.Minute),
		ExpectedBars: 390,
		Range:        repository.Range1D,
		Resolution:   repository.Res1m,
		Session:      repository.SessionRegular,
	}
}

func minuteBars(w session.Window, n int) []models.StreamBar {
	startMs := w.Start.UnixMilli()
	bars := make([]models.StreamBar, n)
	for i := range bars {
		bars[i] = models.StreamBar{
			Symbol: "AAPL",
			Start:  startMs + int64(i)*60_000,
			Open:   100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		}
	}
	return bars
}

func restBars(w session.Window, n int) []models.Candle {
	startMs := w.Start.UnixMilli()
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{Time: startMs + int64(i)*60_000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000}
	}
	return candles
}

func TestReconcileStreamingViable(t *testing.T) {
	w := regularWindow(t)
	cache := &fakeStreamCache{bars: minuteBars(w, 390), sessionStart: w.Start.UnixMilli()}
	api := &fakeVendor{available: true}
	r := NewReconciler(cache, api, nil, nil, nil)

	res, err := r.Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.Source != models.SourceStreaming || res.Meta.FallbackUsed {
		t.Fatalf("meta = %+v, want viable streaming", res.Meta)
	}
	if api.calls != 0 {
		t.Fatal("REST must not be called when streaming is viable")
	}
	if res.Meta.ReceivedBars != 390 {
		t.Fatalf("receivedBars = %d, want 390", res.Meta.ReceivedBars)
	}
}

func TestReconcileUndersuppliedFallsBackToRest(t *testing.T) {
	// 200 of 390 bars is 51%: under the 60% threshold.
	w := regularWindow(t)
	cache := &fakeStreamCache{bars: minuteBars(w, 200), sessionStart: w.Start.UnixMilli()}
	api := &fakeVendor{available: true, candles: restBars(w, 390)}
	r := NewReconciler(cache, api, nil, nil, nil)

	res, err := r.Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.Source != models.SourceRest {
		t.Fatalf("source = %s, want rest", res.Meta.Source)
	}
	if !res.Meta.FallbackUsed || res.Meta.FallbackReason != models.FallbackWSUndersupplied {
		t.Fatalf("meta = %+v, want fallback WS_UNDERSUPPLIED", res.Meta)
	}
	if len(res.Candles) != 390 {
		t.Fatalf("len(candles) = %d, want REST payload", len(res.Candles))
	}
}

func TestReconcileUndersupplyBoundary(t *testing.T) {
	// Exactly 60% of 390 is 234 bars: NOT undersupplied. One fewer is.
	w := regularWindow(t)
	api := &fakeVendor{available: true, candles: restBars(w, 390)}

	cache := &fakeStreamCache{bars: minuteBars(w, 234), sessionStart: w.Start.UnixMilli()}
	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.Source != models.SourceStreaming || res.Meta.FallbackUsed {
		t.Fatalf("234/390 bars: meta = %+v, want viable streaming", res.Meta)
	}

	cache = &fakeStreamCache{bars: minuteBars(w, 233), sessionStart: w.Start.UnixMilli()}
	res, err = NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.FallbackReason != models.FallbackWSUndersupplied {
		t.Fatalf("233/390 bars: reason = %s, want WS_UNDERSUPPLIED", res.Meta.FallbackReason)
	}
}

func TestReconcileEmptyCache(t *testing.T) {
	w := regularWindow(t)
	cache := &fakeStreamCache{}
	api := &fakeVendor{available: true, candles: restBars(w, 390)}

	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.FallbackReason != models.FallbackWSEmpty {
		t.Fatalf("reason = %s, want WS_EMPTY", res.Meta.FallbackReason)
	}
}

func TestReconcileCacheError(t *testing.T) {
	w := regularWindow(t)
	cache := &fakeStreamCache{err: errors.New("cache broken")}
	api := &fakeVendor{available: true, candles: restBars(w, 390)}

	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.FallbackReason != models.FallbackWSError {
		t.Fatalf("reason = %s, want WS_ERROR", res.Meta.FallbackReason)
	}
}

func TestReconcileWindowSkew(t *testing.T) {
	w := regularWindow(t)
	api := &fakeVendor{available: true, candles: restBars(w, 390)}

	// 61 seconds of skew exceeds the tolerance.
	cache := &fakeStreamCache{bars: minuteBars(w, 390), sessionStart: w.Start.UnixMilli() - 61_000}
	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.FallbackReason != models.FallbackWSWindowMismatch {
		t.Fatalf("reason = %s, want WS_WINDOW_MISMATCH", res.Meta.FallbackReason)
	}

	// 60 seconds exactly is within tolerance.
	cache = &fakeStreamCache{bars: minuteBars(w, 390), sessionStart: w.Start.UnixMilli() - 60_000}
	res, err = NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Meta.FallbackUsed {
		t.Fatalf("60s skew must be tolerated, got %+v", res.Meta)
	}
}

func TestReconcileDegradedStreamingWhenRestFails(t *testing.T) {
	w := regularWindow(t)
	cache := &fakeStreamCache{bars: minuteBars(w, 100), sessionStart: w.Start.UnixMilli()}
	api := &fakeVendor{available: true, err: errors.New("vendor down")}

	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("partial streaming truth must not error: %v", err)
	}
	if res.Meta.Source != models.SourceStreaming || !res.Meta.FallbackUsed {
		t.Fatalf("meta = %+v, want degraded streaming", res.Meta)
	}
	if res.Meta.FallbackReason != models.FallbackRestFallbackFailed {
		t.Fatalf("reason = %s, want REST_FALLBACK_FAILED", res.Meta.FallbackReason)
	}
	if len(res.Candles) != 100 {
		t.Fatalf("len(candles) = %d, want the partial streaming payload", len(res.Candles))
	}
}

func TestReconcileTotalFailure(t *testing.T) {
	w := regularWindow(t)
	cache := &fakeStreamCache{}
	api := &fakeVendor{available: true, err: errors.New("vendor down")}

	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
	if res.Meta.Source != models.SourceNone {
		t.Fatalf("source = %s, want none", res.Meta.Source)
	}
	if len(res.Candles) != 0 {
		t.Fatal("total failure must carry no candles")
	}
}

func TestReconcileSkipsOpenCircuit(t *testing.T) {
	w := regularWindow(t)
	cache := &fakeStreamCache{bars: minuteBars(w, 100), sessionStart: w.Start.UnixMilli()}
	api := &fakeVendor{available: false, candles: restBars(w, 390)}

	res, err := NewReconciler(cache, api, nil, nil, nil).Reconcile(context.Background(), "AAPL", w)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if api.calls != 0 {
		t.Fatal("open circuit must skip the provider entirely")
	}
	if res.Meta.FallbackReason != models.FallbackRestFallbackFailed {
		t.Fatalf("reason = %s, want REST_FALLBACK_FAILED", res.Meta.FallbackReason)
	}
}

func TestDownsampleToFiveMinutes(t *testing.T) {
	w := regularWindow(t)
	w.Resolution = repository.Res5m
	w.ExpectedBars = 78

	startMs := w.Start.UnixMilli()
	bars := []models.StreamBar{
		{Start: startMs, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		{Start: startMs + 60_000, Open: 100, High: 103, Low: 100, Close: 102, Volume: 20},
		{Start: startMs + 4*60_000, Open: 102, High: 102, Low: 98, Close: 99, Volume: 30},
		{Start: startMs + 5*60_000, Open: 99, High: 100, Low: 99, Close: 100, Volume: 40},
	}
	out := downsample(bars, w)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 buckets", len(out))
	}
	first := out[0]
	if first.Open != 100 || first.High != 103 || first.Low != 98 || first.Close != 99 || first.Volume != 60 {
		t.Fatalf("first bucket = %+v", first)
	}
	if out[1].Time != startMs+5*60_000 {
		t.Fatalf("second bucket time = %d", out[1].Time)
	}
}
