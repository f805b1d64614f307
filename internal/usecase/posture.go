package usecase

import (
	"math"
	"sort"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/service/calendar"
	"ChartDesk/pkg/config"
)

const (
	postureAnchorDays = 11 // 11 day keys bound 10 consecutive session pairs
	trendLookback     = 5
	trendDeadbandPct  = 2.0
	relIndexDeadband  = 0.25 // percentage points around INLINE
)

type dayQuote struct {
	ts     int64
	close  float64
	volume float64
}

// PostureAggregator computes cross-sectional industry posture snapshots.
type PostureAggregator struct {
	cal *calendar.Calendar
}

func NewPostureAggregator(cal *calendar.Calendar) *PostureAggregator {
	return &PostureAggregator{cal: cal}
}

// ComputePosture derives one posture item per industry group. The session
// anchor day keys come from the index proxy series, so every industry is
// measured over the same calendar span. Output ordering is deterministic for
// identical inputs.
func (p *PostureAggregator) ComputePosture(groups []config.IndustryGroup, seriesBySymbol map[string][]models.Candle, indexSeries []models.Candle) []models.IndustryPostureItem {
	anchors := p.anchorDayKeys(indexSeries, postureAnchorDays)
	indexChange := latestPairChange(p.quotesByDay(indexSeries), anchors)

	items := make([]models.IndustryPostureItem, 0, len(groups))
	for _, g := range groups {
		items = append(items, p.computeIndustry(g, seriesBySymbol, anchors, indexChange))
	}
	sortPosture(items)
	return items
}

// DegradedPosture returns classification-only items: numeric fields zeroed and
// labels neutral. This is a distinct provenance, not a real zero-change
// reading; callers tag the response accordingly.
func (p *PostureAggregator) DegradedPosture(groups []config.IndustryGroup) []models.IndustryPostureItem {
	items := make([]models.IndustryPostureItem, 0, len(groups))
	for _, g := range groups {
		symbols := append([]string(nil), g.Symbols...)
		sort.Strings(symbols)
		items = append(items, models.IndustryPostureItem{
			IndustryCode:   g.Code,
			IndustryAbbrev: g.Abbrev,
			Trend5D:        models.TrendFlat,
			RelToIndex:     models.RelInline,
			Symbols:        symbols,
		})
	}
	sortPosture(items)
	return items
}

// anchorDayKeys walks the index proxy series newest-first, keeps the first n
// distinct valid trading-session day keys, and returns them in chronological
// order.
func (p *PostureAggregator) anchorDayKeys(indexSeries []models.Candle, n int) []string {
	ordered := append([]models.Candle(nil), indexSeries...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Time > ordered[j].Time })

	seen := make(map[string]struct{}, n)
	keys := make([]string, 0, n)
	for _, c := range ordered {
		key := p.cal.DayKeyFromTimestamp(c.Time)
		if _, dup := seen[key]; dup {
			continue
		}
		if p.cal.IsWeekend(key) || p.cal.IsHoliday(key) {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		if len(keys) == n {
			break
		}
	}
	// Reverse newest-first into chronological order.
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

// quotesByDay folds a series into a day-keyed close/volume map; the latest
// timestamp wins when multiple rows map to the same day key.
func (p *PostureAggregator) quotesByDay(series []models.Candle) map[string]dayQuote {
	out := make(map[string]dayQuote, len(series))
	for _, c := range series {
		key := p.cal.DayKeyFromTimestamp(c.Time)
		if q, ok := out[key]; ok && q.ts >= c.Time {
			continue
		}
		out[key] = dayQuote{ts: c.Time, close: c.Close, volume: c.Volume}
	}
	return out
}

func (p *PostureAggregator) computeIndustry(g config.IndustryGroup, seriesBySymbol map[string][]models.Candle, anchors []string, indexChange *float64) models.IndustryPostureItem {
	quotes := make(map[string]map[string]dayQuote, len(g.Symbols))
	for _, sym := range g.Symbols {
		quotes[sym] = p.quotesByDay(seriesBySymbol[sym])
	}

	pairs := len(anchors) - 1
	if pairs < 0 {
		pairs = 0
	}
	rotation := make([]*float64, pairs)
	volumes := make([]float64, pairs)

	for i := 1; i <= pairs; i++ {
		prevKey, currKey := anchors[i-1], anchors[i]
		var sum, vol float64
		n := 0
		for _, sym := range g.Symbols {
			prev, okPrev := quotes[sym][prevKey]
			curr, okCurr := quotes[sym][currKey]
			if !okPrev || !okCurr || prev.close == 0 {
				continue
			}
			sum += (curr.close/prev.close - 1) * 100
			vol += curr.volume
			n++
		}
		if n > 0 {
			// Equal weight per symbol, never an average of raw closes.
			avg := sum / float64(n)
			rotation[i-1] = &avg
			volumes[i-1] = vol
		}
	}

	item := models.IndustryPostureItem{
		IndustryCode:   g.Code,
		IndustryAbbrev: g.Abbrev,
		Trend5D:        p.trendVote(g.Symbols, quotes, anchors),
		RelToIndex:     models.RelInline,
		Rotation10D:    rotation,
		Volumes10D:     volumes,
		Symbols:        sortedCopy(g.Symbols),
	}

	if pairs > 0 && rotation[pairs-1] != nil {
		item.DayChangePct = *rotation[pairs-1]
	}
	item.Pct5D = compound5d(rotation)
	item.VolRel = volRel(volumes)

	if indexChange != nil {
		diff := item.DayChangePct - *indexChange
		switch {
		case diff > relIndexDeadband:
			item.RelToIndex = models.RelOutperform
		case diff < -relIndexDeadband:
			item.RelToIndex = models.RelUnderperform
		}
	}
	return item
}

// compound5d multiplies the last five finite rotation values into a cumulative
// percentage. All five must be present; partial estimates are never produced.
func compound5d(rotation []*float64) *float64 {
	if len(rotation) < trendLookback {
		return nil
	}
	product := 1.0
	for _, r := range rotation[len(rotation)-trendLookback:] {
		if r == nil || math.IsNaN(*r) || math.IsInf(*r, 0) {
			return nil
		}
		product *= 1 + *r/100
	}
	pct := (product - 1) * 100
	return &pct
}

// volRel maps the latest-volume pressure ratio onto [0,1] with the 5-session
// average baseline at the 0.5 midpoint.
func volRel(volumes []float64) float64 {
	if len(volumes) == 0 {
		return 0.5
	}
	latest := volumes[len(volumes)-1]

	var sum float64
	n := 0
	lo := len(volumes) - 1 - trendLookback
	if lo < 0 {
		lo = 0
	}
	for _, v := range volumes[lo : len(volumes)-1] {
		if v > 0 {
			sum += v
			n++
		}
	}

	ratio := 1.0
	if n > 0 && sum > 0 {
		ratio = latest / (sum / float64(n))
	}
	rel := 0.5 + (ratio-1)*0.25
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}

// trendVote labels the industry by majority vote over each symbol's own
// 5-session trend. Ties resolve to FLAT.
func (p *PostureAggregator) trendVote(symbols []string, quotes map[string]map[string]dayQuote, anchors []string) models.Trend5D {
	if len(anchors) < trendLookback+1 {
		return models.TrendFlat
	}
	lastKey := anchors[len(anchors)-1]
	priorKey := anchors[len(anchors)-1-trendLookback]

	var up, down, flat int
	for _, sym := range symbols {
		prior, okPrior := quotes[sym][priorKey]
		last, okLast := quotes[sym][lastKey]
		if !okPrior || !okLast || prior.close == 0 {
			continue
		}
		pct := (last.close/prior.close - 1) * 100
		switch {
		case pct > trendDeadbandPct:
			up++
		case pct < -trendDeadbandPct:
			down++
		default:
			flat++
		}
	}
	switch {
	case up > down && up > flat:
		return models.TrendUp
	case down > up && down > flat:
		return models.TrendDown
	default:
		return models.TrendFlat
	}
}

// latestPairChange computes the percentage change over the final anchor pair.
func latestPairChange(quotes map[string]dayQuote, anchors []string) *float64 {
	if len(anchors) < 2 {
		return nil
	}
	prev, okPrev := quotes[anchors[len(anchors)-2]]
	curr, okCurr := quotes[anchors[len(anchors)-1]]
	if !okPrev || !okCurr || prev.close == 0 {
		return nil
	}
	pct := (curr.close/prev.close - 1) * 100
	return &pct
}

// sortPosture orders items descending by volRel, then descending absolute day
// change, then ascending abbreviation, then ascending code.
func sortPosture(items []models.IndustryPostureItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.VolRel != b.VolRel {
			return a.VolRel > b.VolRel
		}
		absA, absB := math.Abs(a.DayChangePct), math.Abs(b.DayChangePct)
		if absA != absB {
			return absA > absB
		}
		if a.IndustryAbbrev != b.IndustryAbbrev {
			return a.IndustryAbbrev < b.IndustryAbbrev
		}
		return a.IndustryCode < b.IndustryCode
	})
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
