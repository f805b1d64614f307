// Package middleware sits between the socket adapter and the ingestion
// backend: validation, per-symbol throttling, and buffering when downstream
// rejects.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ChartDesk/internal/domain/models"
	domrepo "ChartDesk/internal/domain/repository"
)

// TickPipeline implements repository.TickSink in front of the real ingestor.
// Invalid ticks are rejected, per-symbol rates are capped, and ticks the
// downstream refuses are parked in a bounded buffer for a retry loop.
type TickPipeline struct {
	next    domrepo.TickSink
	metrics domrepo.Metrics

	maxRPS  int
	bufCh   chan *models.Tick
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex

	seen map[string]symbolRate
}

type symbolRate struct {
	second int64
	count  int
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS caps accepted ticks per symbol per second.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer capacity.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufCh = make(chan *models.Tick, n)
		}
	}
}

func NewTickPipeline(next domrepo.TickSink, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		next:    next,
		metrics: metrics,
		maxRPS:  20,
		bufCh:   make(chan *models.Tick, 1000),
		stopCh:  make(chan struct{}),
		seen:    make(map[string]symbolRate),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the retry loop for buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case t := <-p.bufCh:
				if t == nil {
					continue
				}
				if err := p.next.Process(ctx, t); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.recordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- t:
					default:
						p.recordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop halts the retry loop.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Process validates, throttles, and forwards one tick, buffering on
// downstream refusal.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	if err := validateTick(t); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if !p.allow(t.Symbol, t.ReceivedMs) {
		// Over the per-symbol cap; drop silently.
		p.recordError("pipeline_throttle")
		return nil
	}

	if err := p.next.Process(ctx, t); err != nil {
		select {
		case p.bufCh <- t:
		default:
			p.recordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	return nil
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.ReceivedMs <= 0 {
		return fmt.Errorf("received time invalid")
	}
	if len(t.Payload) == 0 {
		return fmt.Errorf("payload empty")
	}
	return nil
}

func (p *TickPipeline) allow(symbol string, ms int64) bool {
	if p.maxRPS <= 0 {
		return true
	}
	second := ms / 1000
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.seen[symbol]
	if r.second != second {
		p.seen[symbol] = symbolRate{second: second, count: 1}
		return true
	}
	if r.count >= p.maxRPS {
		return false
	}
	r.count++
	p.seen[symbol] = r
	return true
}

func (p *TickPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
