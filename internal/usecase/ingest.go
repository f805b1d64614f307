package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	applogger "ChartDesk/pkg/logger"
)

// IngestConfig tunes the tick ingestion pipeline.
type IngestConfig struct {
	Backend    string // "kafka" publishes to the bus, "clickhouse" writes direct
	BufferSize int
	Workers    int
}

// Ingestor implements repository.TickSink. Ticks from the socket adapter are
// buffered and drained by workers into the configured backend. A full buffer
// drops the tick rather than blocking the adapter's read loop.
type Ingestor struct {
	cfg       IngestConfig
	publisher repository.TickPublisher
	writer    repository.TickWriter
	metrics   repository.Metrics
	log       *applogger.Logger

	agg *minuteAggregator
	buf chan *models.Tick
	wg  sync.WaitGroup
}

func NewIngestor(cfg IngestConfig, publisher repository.TickPublisher, writer repository.TickWriter, m repository.Metrics, log *applogger.Logger) *Ingestor {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Ingestor{
		cfg:       cfg,
		publisher: publisher,
		writer:    writer,
		metrics:   m,
		log:       log,
		agg:       newMinuteAggregator(),
		buf:       make(chan *models.Tick, cfg.BufferSize),
	}
}

// Start launches the drain workers.
func (i *Ingestor) Start(ctx context.Context) {
	for n := 0; n < i.cfg.Workers; n++ {
		i.wg.Add(1)
		go i.worker(ctx)
	}
}

// Stop waits for the workers to finish draining.
func (i *Ingestor) Stop() {
	close(i.buf)
	i.wg.Wait()
}

// Process enqueues one tick. Never blocks the caller.
func (i *Ingestor) Process(_ context.Context, t *models.Tick) error {
	select {
	case i.buf <- t:
		return nil
	default:
		if i.metrics != nil {
			i.metrics.RecordError("ingest_buffer_full")
		}
		return fmt.Errorf("ingest buffer full, tick for %s dropped", t.Symbol)
	}
}

func (i *Ingestor) worker(ctx context.Context) {
	defer i.wg.Done()
	for t := range i.buf {
		if err := i.route(ctx, t); err != nil {
			if i.log != nil {
				i.log.Warn("tick ingest", applogger.String("symbol", t.Symbol), applogger.Error(err))
			}
			if i.metrics != nil {
				i.metrics.RecordError("ingest")
			}
			continue
		}
		if i.metrics != nil {
			i.metrics.RecordTickIngested(i.cfg.Backend, t.Symbol)
		}
	}
}

func (i *Ingestor) route(ctx context.Context, t *models.Tick) error {
	switch i.cfg.Backend {
	case "kafka":
		if i.publisher == nil {
			return fmt.Errorf("kafka backend without publisher")
		}
		return i.publisher.PublishTick(ctx, t)
	case "clickhouse":
		if i.writer == nil {
			return fmt.Errorf("clickhouse backend without writer")
		}
		if done := i.agg.fold(t); done != nil {
			return i.writer.WriteBar(ctx, done)
		}
		return nil
	default:
		return nil
	}
}

// BarSinkHandler drains the tick topic into the durable store: ticks are
// folded into minute bars and each completed minute is written once.
type BarSinkHandler struct {
	topic  string
	writer repository.TickWriter
	agg    *minuteAggregator
	log    *applogger.Logger
}

func NewBarSinkHandler(topic string, writer repository.TickWriter, log *applogger.Logger) *BarSinkHandler {
	return &BarSinkHandler{topic: topic, writer: writer, agg: newMinuteAggregator(), log: log}
}

func (h *BarSinkHandler) Topic() string { return h.topic }

func (h *BarSinkHandler) Handle(ctx context.Context, value []byte) error {
	var t models.Tick
	if err := json.Unmarshal(value, &t); err != nil {
		// Malformed messages are dropped, not redelivered forever.
		if h.log != nil {
			h.log.Warn("bar sink decode", applogger.Error(err))
		}
		return nil
	}
	if done := h.agg.fold(&t); done != nil {
		if err := h.writer.WriteBar(ctx, done); err != nil {
			return fmt.Errorf("bar sink write: %w", err)
		}
	}
	return nil
}

// tickQuote is the minimal slice of a verbatim tick payload the aggregator
// needs. Unknown fields stay untouched in the payload itself.
type tickQuote struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// minuteAggregator folds ticks into per-symbol minute bars. fold returns the
// previous bar when a tick opens a new minute.
type minuteAggregator struct {
	mu   sync.Mutex
	open map[string]*models.StreamBar
}

func newMinuteAggregator() *minuteAggregator {
	return &minuteAggregator{open: make(map[string]*models.StreamBar)}
}

func (a *minuteAggregator) fold(t *models.Tick) *models.StreamBar {
	var q tickQuote
	if err := json.Unmarshal(t.Payload, &q); err != nil || q.Price <= 0 {
		return nil
	}
	minute := t.ReceivedMs - t.ReceivedMs%60_000

	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.open[t.Symbol]
	if !ok || cur.Start != minute {
		a.open[t.Symbol] = &models.StreamBar{
			Symbol: t.Symbol,
			Start:  minute,
			Open:   q.Price,
			High:   q.Price,
			Low:    q.Price,
			Close:  q.Price,
			Volume: q.Size,
		}
		if ok && cur.Start < minute {
			return cur
		}
		return nil
	}
	if q.Price > cur.High {
		cur.High = q.Price
	}
	if q.Price < cur.Low {
		cur.Low = q.Price
	}
	cur.Close = q.Price
	cur.Volume += q.Size
	return nil
}
