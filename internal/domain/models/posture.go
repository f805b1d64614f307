package models

// Trend5D is a 5-session trend label.
type Trend5D string

const (
	TrendUp   Trend5D = "UP"
	TrendFlat Trend5D = "FLAT"
	TrendDown Trend5D = "DOWN"
)

// RelToIndex classifies an industry's latest daily change against the index
// proxy's own latest daily change.
type RelToIndex string

const (
	RelOutperform   RelToIndex = "OUTPERFORM"
	RelInline       RelToIndex = "INLINE"
	RelUnderperform RelToIndex = "UNDERPERFORM"
)

// IndustryPostureItem is a derived cross-sectional snapshot of one industry.
// Recomputed on every aggregator invocation, never persisted.
//
// Rotation10d entries are nil where a session pair had zero qualifying
// symbol-pairs: an explicit "no data" marker, distinct from zero.
type IndustryPostureItem struct {
	IndustryCode   string     `json:"industryCode"`
	IndustryAbbrev string     `json:"industryAbbrev"`
	DayChangePct   float64    `json:"dayChangePct"`
	VolRel         float64    `json:"volRel"`
	Trend5D        Trend5D    `json:"trend5d"`
	RelToIndex     RelToIndex `json:"relToIndex"`
	Pct5D          *float64   `json:"pct5d,omitempty"`
	Rotation10D    []*float64 `json:"rotation10d,omitempty"`
	Volumes10D     []float64  `json:"volumes10d,omitempty"`
	Symbols        []string   `json:"symbols"`
}
