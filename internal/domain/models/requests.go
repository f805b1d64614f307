package models

// Requests for market HTTP endpoints. Defined in domain for consistency and reuse.

type CandlesRequest struct {
	Symbol     string `query:"symbol" json:"symbol" validate:"required_without=Watchlist"`
	Watchlist  string `query:"watchlist" json:"watchlist"`
	Range      string `query:"range" json:"range" default:"1D" validate:"oneof=1D 5D 1M 3M 6M 1Y"`
	Resolution string `query:"resolution" json:"resolution" default:"1m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Session    string `query:"session" json:"session" default:"regular" validate:"oneof=regular extended"`
}

type PostureRequest struct {
	Owner     string `query:"owner" json:"owner" validate:"required"`
	Watchlist string `query:"watchlist" json:"watchlist"`
	CacheOnly bool   `query:"cacheOnly" json:"cacheOnly"`
}
