package repository

// Resolution is a candle granularity token.
type Resolution string

const (
	Res1m  Resolution = "1m"
	Res5m  Resolution = "5m"
	Res15m Resolution = "15m"
	Res30m Resolution = "30m"
	Res1h  Resolution = "1h"
	Res4h  Resolution = "4h"
	Res1d  Resolution = "1d"
)

// Range is a lookback range token.
type Range string

const (
	Range1D Range = "1D"
	Range5D Range = "5D"
	Range1M Range = "1M"
	Range3M Range = "3M"
	Range6M Range = "6M"
	Range1Y Range = "1Y"
)

// Session selects regular or extended trading hours.
type Session string

const (
	SessionRegular  Session = "regular"
	SessionExtended Session = "extended"
)

// Minutes returns the bar length in minutes, or 0 for daily.
func (r Resolution) Minutes() int {
	switch r {
	case Res1m:
		return 1
	case Res5m:
		return 5
	case Res15m:
		return 15
	case Res30m:
		return 30
	case Res1h:
		return 60
	case Res4h:
		return 240
	default:
		return 0
	}
}

// Intraday reports whether the resolution is served by the streaming cache
// or REST backfill rather than the durable store.
func (r Resolution) Intraday() bool {
	switch r {
	case Res1m, Res5m, Res15m, Res30m:
		return true
	default:
		return false
	}
}

// TradingDays returns the range length in trading sessions.
func (rg Range) TradingDays() int {
	switch rg {
	case Range1D:
		return 1
	case Range5D:
		return 5
	case Range1M:
		return 21
	case Range3M:
		return 63
	case Range6M:
		return 126
	case Range1Y:
		return 252
	default:
		return 1
	}
}

// IsValidResolution returns true if s is a supported resolution token.
func IsValidResolution(s string) bool {
	switch Resolution(s) {
	case Res1m, Res5m, Res15m, Res30m, Res1h, Res4h, Res1d:
		return true
	default:
		return false
	}
}

// IsValidRange returns true if s is a supported range token.
func IsValidRange(s string) bool {
	switch Range(s) {
	case Range1D, Range5D, Range1M, Range3M, Range6M, Range1Y:
		return true
	default:
		return false
	}
}

// NormalizeSession converts raw string to a valid session (or regular).
func NormalizeSession(s string) Session {
	if Session(s) == SessionExtended {
		return SessionExtended
	}
	return SessionRegular
}
