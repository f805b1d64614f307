package usecase

import (
	"math"
	"sort"

	"ChartDesk/internal/domain/models"
)

// BuildComposite fuses per-symbol series into one synthetic basket series.
// Every constituent is rebased to 100 at its own first bar, so the composite
// is scale-invariant across symbols with different absolute price levels, and
// it is invariant to the map's iteration order.
func BuildComposite(seriesBySymbol map[string][]models.Candle) []models.Candle {
	type normalized struct {
		bars map[int64]models.Candle
	}

	constituents := make([]normalized, 0, len(seriesBySymbol))
	timestampSet := make(map[int64]struct{})

	for _, series := range seriesBySymbol {
		if len(series) == 0 {
			continue
		}
		base := series[0].Open
		if base <= 0 || math.IsNaN(base) || math.IsInf(base, 0) {
			base = series[0].Close
		}
		if base <= 0 || math.IsNaN(base) || math.IsInf(base, 0) {
			// No usable normalization base excludes the symbol entirely.
			continue
		}
		bars := make(map[int64]models.Candle, len(series))
		for _, c := range series {
			bars[c.Time] = models.Candle{
				Time:   c.Time,
				Open:   c.Open / base * 100,
				High:   c.High / base * 100,
				Low:    c.Low / base * 100,
				Close:  c.Close / base * 100,
				Volume: c.Volume,
			}
			timestampSet[c.Time] = struct{}{}
		}
		constituents = append(constituents, normalized{bars: bars})
	}

	if len(constituents) == 0 {
		return nil
	}

	timestamps := make([]int64, 0, len(timestampSet))
	for ts := range timestampSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	out := make([]models.Candle, 0, len(timestamps))
	for _, ts := range timestamps {
		var sum models.Candle
		n := 0
		for _, c := range constituents {
			bar, ok := c.bars[ts]
			if !ok {
				continue
			}
			sum.Open += bar.Open
			sum.High += bar.High
			sum.Low += bar.Low
			sum.Close += bar.Close
			sum.Volume += bar.Volume
			n++
		}
		if n == 0 {
			continue
		}
		out = append(out, models.Candle{
			Time:   ts,
			Open:   sum.Open / float64(n),
			High:   sum.High / float64(n),
			Low:    sum.Low / float64(n),
			Close:  sum.Close / float64(n),
			Volume: sum.Volume,
		})
	}
	return out
}
