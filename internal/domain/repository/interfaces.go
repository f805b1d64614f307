package repository

import (
	"context"
	"time"

	"ChartDesk/internal/domain/models"
)

// CandleStore reads day-level series from the durable row store.
type CandleStore interface {
	FetchDailySeries(ctx context.Context, symbols []string, startDate time.Time) (map[string][]models.Candle, error)
	Health(ctx context.Context) error
}

// VendorAPI backfills intraday bars over REST.
type VendorAPI interface {
	Intraday(ctx context.Context, symbol string, resolution Resolution, startMs, endMs int64) ([]models.Candle, error)
	Available() bool
}

// StreamCache exposes bars accumulated from the realtime socket. sessionStartMs
// is the open time of the earliest cached bar for the current session, 0 when
// the cache is empty.
type StreamCache interface {
	IntradayBars(symbol string) (bars []models.StreamBar, sessionStartMs int64, err error)
}

// TickSink receives verbatim ticks from the socket adapter for downstream
// routing (publish or store).
type TickSink interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickWriter persists ticks/bars into the durable store.
type TickWriter interface {
	WriteBar(ctx context.Context, bar *models.StreamBar) error
	Close() error
}

// TickPublisher forwards ticks to the message bus.
type TickPublisher interface {
	PublishTick(ctx context.Context, t *models.Tick) error
	Close() error
}

// Metrics abstracts operational counters so use cases stay provider-agnostic.
type Metrics interface {
	RecordTickIngested(backend, symbol string)
	RecordError(kind string)
	RecordFallback(reason string)
	RecordReconnect()
	RecordStreamConnected(connected bool)
	RecordLatency(op string, seconds float64)
}
