package models

// Candle is one OHLCV bar. Time is epoch milliseconds; Volume may be zero
// when the upstream row carried none.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// SessionWindow is the canonical UTC window for a (range, resolution,
// session) request. Identical inputs at the same calendar instant always
// produce the same window.
type SessionWindow struct {
	StartISO     string `json:"startISO"`
	EndISO       string `json:"endISO"`
	ExpectedBars int    `json:"expectedBars"`
}

// Source identifies where a candle payload came from.
type Source string

const (
	SourceStore     Source = "store"
	SourceStreaming Source = "streaming"
	SourceRest      Source = "rest"
	SourceComposite Source = "composite"
	SourceNone      Source = "none"
)

// FallbackReason explains why the streaming source was abandoned, or why the
// payload is degraded.
type FallbackReason string

const (
	FallbackNone               FallbackReason = ""
	FallbackWSError            FallbackReason = "WS_ERROR"
	FallbackWSEmpty            FallbackReason = "WS_EMPTY"
	FallbackWSUndersupplied    FallbackReason = "WS_UNDERSUPPLIED"
	FallbackWSWindowMismatch   FallbackReason = "WS_WINDOW_MISMATCH"
	FallbackRestFallbackFailed FallbackReason = "REST_FALLBACK_FAILED"
)

// CanonicalMeta describes the provenance of a candle payload. It always
// accompanies a candle array at the boundary.
type CanonicalMeta struct {
	Source         Source         `json:"source"`
	ExpectedBars   int            `json:"expectedBars"`
	ReceivedBars   int            `json:"receivedBars"`
	FallbackUsed   bool           `json:"fallbackUsed"`
	FallbackReason FallbackReason `json:"fallbackReason,omitempty"`
	Window         SessionWindow  `json:"window"`
}
