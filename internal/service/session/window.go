// Package session turns (range, resolution, session) requests into canonical
// UTC trading windows with expected bar counts.
package session

import (
	"time"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	"ChartDesk/internal/service/calendar"
)

var resolutionOrder = []repository.Resolution{
	repository.Res1m,
	repository.Res5m,
	repository.Res15m,
	repository.Res30m,
	repository.Res1h,
	repository.Res4h,
	repository.Res1d,
}

var rangeOrder = []repository.Range{
	repository.Range1D,
	repository.Range5D,
	repository.Range1M,
	repository.Range3M,
	repository.Range6M,
	repository.Range1Y,
}

// compat maps each resolution to the inclusive [min, max] slice of rangeOrder
// indexes it supports.
var compat = map[repository.Resolution][2]int{
	repository.Res1m:  {0, 0}, // 1D
	repository.Res5m:  {0, 1}, // 1D..5D
	repository.Res15m: {0, 1},
	repository.Res30m: {0, 1},
	repository.Res1h:  {0, 2}, // 1D..1M
	repository.Res4h:  {2, 4}, // 1M..6M
	repository.Res1d:  {2, 5}, // 1M..1Y
}

// Window is a resolved canonical session window. Start is inclusive, End
// exclusive, both in UTC. Range and Resolution carry any compatibility bump
// applied to the request.
type Window struct {
	Start        time.Time
	End          time.Time
	ExpectedBars int
	Range        repository.Range
	Resolution   repository.Resolution
	Session      repository.Session
}

// Model renders the window in its boundary shape.
func (w Window) Model() models.SessionWindow {
	return models.SessionWindow{
		StartISO:     w.Start.UTC().Format(time.RFC3339),
		EndISO:       w.End.UTC().Format(time.RFC3339),
		ExpectedBars: w.ExpectedBars,
	}
}

// Computer resolves canonical windows against a trading calendar.
type Computer struct {
	cal *calendar.Calendar
}

func NewComputer(cal *calendar.Calendar) *Computer {
	return &Computer{cal: cal}
}

// Normalize bumps an incompatible (range, resolution) pair to the nearest
// valid combination. A resolution too fine for the requested range is bumped
// coarser; a resolution too coarse for the requested range bumps the range up
// instead. Valid pairs pass through unchanged.
func (c *Computer) Normalize(rng repository.Range, res repository.Resolution) (repository.Range, repository.Resolution) {
	ri := rangeIndex(rng)
	bounds, ok := compat[res]
	if !ok {
		return rng, repository.Res1d
	}
	if ri > bounds[1] {
		// Range too long for this resolution: coarsen the resolution until
		// the range fits.
		for _, cand := range resolutionOrder[resolutionIndex(res)+1:] {
			if b := compat[cand]; ri >= b[0] && ri <= b[1] {
				return rng, cand
			}
		}
		return rng, repository.Res1d
	}
	if ri < bounds[0] {
		// Resolution too coarse for this range: widen the range to the
		// shortest one the resolution supports.
		return rangeOrder[bounds[0]], res
	}
	return rng, res
}

// ComputeWindow resolves the canonical UTC window ending at the most recent
// trading session relative to now. Identical inputs at the same calendar
// instant always produce the same window.
func (c *Computer) ComputeWindow(now time.Time, rng repository.Range, res repository.Resolution, sess repository.Session) Window {
	rng, res = c.Normalize(rng, res)

	days := c.recentTradingDays(now, rng.TradingDays())
	first, last := days[0], days[len(days)-1]

	openH, openM, closeH := sessionHours(sess)
	loc := c.cal.Location()
	firstDate, _ := c.cal.ParseDayKey(first)
	lastDate, _ := c.cal.ParseDayKey(last)

	start := time.Date(firstDate.Year(), firstDate.Month(), firstDate.Day(), openH, openM, 0, 0, loc)
	end := time.Date(lastDate.Year(), lastDate.Month(), lastDate.Day(), closeH, 0, 0, 0, loc)

	return Window{
		Start:        start.UTC(),
		End:          end.UTC(),
		ExpectedBars: len(days) * barsPerDay(res, sess),
		Range:        rng,
		Resolution:   res,
		Session:      sess,
	}
}

// recentTradingDays returns the latest n trading-day keys in chronological
// order, ending at now's session (or the most recent one).
func (c *Computer) recentTradingDays(now time.Time, n int) []string {
	keys := make([]string, n)
	key := c.cal.LatestTradingDay(now)
	for i := n - 1; i >= 0; i-- {
		keys[i] = key
		if i > 0 {
			prev, err := c.cal.PrevTradingDay(key)
			if err != nil {
				break
			}
			key = prev
		}
	}
	return keys
}

// sessionHours returns the exchange-local open hour/minute and close hour.
// Regular hours run 09:30-16:00, extended hours 04:00-20:00.
func sessionHours(s repository.Session) (openH, openM, closeH int) {
	if s == repository.SessionExtended {
		return 4, 0, 20
	}
	return 9, 30, 16
}

// sessionMinutes is the span of one session at the given hours.
func sessionMinutes(s repository.Session) int {
	if s == repository.SessionExtended {
		return 960
	}
	return 390
}

// barsPerDay is the expected bar count for one session day. Partial trailing
// bars count as whole bars for intraday resolutions.
func barsPerDay(res repository.Resolution, sess repository.Session) int {
	m := res.Minutes()
	if m == 0 {
		return 1
	}
	span := sessionMinutes(sess)
	return (span + m - 1) / m
}

func resolutionIndex(r repository.Resolution) int {
	for i, x := range resolutionOrder {
		if x == r {
			return i
		}
	}
	return len(resolutionOrder) - 1
}

func rangeIndex(r repository.Range) int {
	for i, x := range rangeOrder {
		if x == r {
			return i
		}
	}
	return 0
}
