// Package stream owns the single realtime socket connection: reconnect with
// deterministic backoff, diffed subscription management, and verbatim storage
// of tick/status payloads for downstream consumers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	"ChartDesk/pkg/logger"
)

// Config holds the adapter's connection and notification settings.
type Config struct {
	URL            string
	APIKey         string
	Symbols        []string
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	JitterPct      float64
	NotifyInterval time.Duration
}

// Subscriber receives batched state snapshots. Invoked at most once per
// notification tick regardless of how many mutations happened in between.
type Subscriber func(models.StreamSnapshot)

// Adapter maintains the process-wide streaming connection. Exactly one
// Adapter runs per process; no other component opens a socket to the
// provider.
type Adapter struct {
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics
	sink    repository.TickSink

	mu           sync.RWMutex
	state        models.ConnectionState
	lastMsgMs    int64
	lastError    string
	tracked      map[string]struct{}
	ticks        map[string]json.RawMessage
	provider     json.RawMessage
	symbolStatus map[string]json.RawMessage
	bars         map[string][]models.StreamBar
	sessionStart map[string]int64
	conn         *websocket.Conn
	dirty        bool
	subscribers  []Subscriber

	// gorilla/websocket allows one concurrent writer per connection;
	// every outbound frame goes through writeControl.
	writeMu sync.Mutex

	attempt int
	rnd     func() float64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a disconnected Adapter. sink may be nil when tick ingestion is
// disabled.
func New(cfg Config, log *logger.Logger, m repository.Metrics, sink repository.TickSink) *Adapter {
	a := &Adapter{
		cfg:          cfg,
		log:          log,
		metrics:      m,
		sink:         sink,
		state:        models.StateDisconnected,
		tracked:      make(map[string]struct{}),
		ticks:        make(map[string]json.RawMessage),
		symbolStatus: make(map[string]json.RawMessage),
		bars:         make(map[string][]models.StreamBar),
		sessionStart: make(map[string]int64),
		done:         make(chan struct{}),
		rnd:          rand.Float64,
	}
	for _, s := range cfg.Symbols {
		a.tracked[s] = struct{}{}
	}
	return a
}

// Start launches the connection and notification loops. Safe to call once;
// subsequent calls are no-ops.
func (a *Adapter) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		go a.run(runCtx)
		go a.notifyLoop(runCtx)
	})
}

// Stop tears the connection down and stops both loops.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.setStateLocked(models.StateDisconnected)
	a.mu.Unlock()
	<-a.done
}

// OnUpdate registers a snapshot subscriber. Must be called before Start.
func (a *Adapter) OnUpdate(s Subscriber) {
	a.mu.Lock()
	a.subscribers = append(a.subscribers, s)
	a.mu.Unlock()
}

// SetSymbols replaces the tracked set. Only the added and removed symbols are
// sent upstream; a full resubscribe happens solely on reconnect.
func (a *Adapter) SetSymbols(symbols []string) error {
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}

	a.mu.Lock()
	added, removed := diffSymbols(a.tracked, next)
	a.tracked = next
	conn := a.conn
	connected := a.state == models.StateConnected
	a.dirty = true
	a.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	if len(added) > 0 {
		if err := a.writeControl(conn, controlMessage{Type: "subscribe", Symbols: added}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	if len(removed) > 0 {
		if err := a.writeControl(conn, controlMessage{Type: "unsubscribe", Symbols: removed}); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	return nil
}

// writeControl serializes outbound frames; SetSymbols callers and the run
// goroutine's reconnect resubscribe may otherwise write concurrently.
func (a *Adapter) writeControl(conn *websocket.Conn, msg controlMessage) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Snapshot returns a point-in-time copy of the adapter state.
func (a *Adapter) Snapshot() models.StreamSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Tick returns the verbatim last payload for a symbol.
func (a *Adapter) Tick(symbol string) (json.RawMessage, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.ticks[symbol]
	return p, ok
}

// IntradayBars implements repository.StreamCache over the minute-aggregate
// table. Bars are returned sorted ascending by open time.
func (a *Adapter) IntradayBars(symbol string) ([]models.StreamBar, int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src, ok := a.bars[symbol]
	if !ok || len(src) == 0 {
		return nil, 0, nil
	}
	out := make([]models.StreamBar, len(src))
	copy(out, src)
	return out, a.sessionStart[symbol], nil
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)
	for {
		if ctx.Err() != nil {
			return
		}
		a.setState(models.StateConnecting)

		conn, err := a.dial(ctx)
		if err != nil {
			a.recordError(err)
			a.setState(models.StateReconnecting)
			if !a.sleepBackoff(ctx) {
				return
			}
			continue
		}

		// Successful open resets the backoff to its initial delay.
		a.mu.Lock()
		a.attempt = 0
		a.conn = conn
		a.setStateLocked(models.StateConnected)
		tracked := a.trackedLocked()
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordStreamConnected(true)
		}
		a.log.Info("stream connected", logger.String("url", a.cfg.URL))

		// Reconnect is the one case where the full tracked set is resent.
		if len(tracked) > 0 {
			if err := a.writeControl(conn, controlMessage{Type: "subscribe", Symbols: tracked}); err != nil {
				a.recordError(fmt.Errorf("resubscribe: %w", err))
			}
		}

		a.readLoop(ctx, conn)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		_ = conn.Close()
		if a.metrics != nil {
			a.metrics.RecordStreamConnected(false)
			a.metrics.RecordReconnect()
		}
		if ctx.Err() != nil {
			return
		}
		a.setState(models.StateReconnecting)
		if !a.sleepBackoff(ctx) {
			return
		}
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	u := a.cfg.URL
	if a.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, a.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	return conn, nil
}

func (a *Adapter) sleepBackoff(ctx context.Context) bool {
	a.mu.Lock()
	attempt := a.attempt
	a.attempt++
	a.mu.Unlock()

	delay := nextBackoff(attempt, a.cfg.BackoffInitial, a.cfg.BackoffMax, a.cfg.JitterPct, a.rnd)
	a.log.Warn("stream reconnecting",
		logger.Int("attempt", attempt),
		logger.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.recordError(fmt.Errorf("stream read: %w", err))
			}
			return
		}
		a.handleMessage(ctx, b)
	}
}

// handleMessage routes one inbound frame. Every frame, recognized or not,
// refreshes the last-message timestamp.
func (a *Adapter) handleMessage(ctx context.Context, b []byte) {
	now := time.Now().UnixMilli()
	env, ok := decodeEnvelope(b)

	a.mu.Lock()
	a.lastMsgMs = now
	a.dirty = true
	a.mu.Unlock()
	if !ok {
		return
	}

	switch env.Type {
	case msgHello:
		// Greeting only.
	case msgProviderStatus:
		a.mu.Lock()
		a.provider = append(json.RawMessage(nil), b...)
		a.mu.Unlock()
	case msgSymbolStatus:
		if env.Symbol == "" {
			return
		}
		a.mu.Lock()
		a.symbolStatus[env.Symbol] = append(json.RawMessage(nil), b...)
		a.mu.Unlock()
	case msgTick:
		a.handleTick(ctx, env.Symbol, b, now)
	case msgBar:
		a.handleBar(b)
	case msgError:
		var em errorMessage
		_ = json.Unmarshal(b, &em)
		a.mu.Lock()
		a.lastError = em.Message
		a.mu.Unlock()
		a.log.Warn("stream protocol error", logger.String("message", em.Message))
	default:
		// Unknown types are tolerated for forward compatibility.
	}
}

func (a *Adapter) handleTick(ctx context.Context, symbol string, b []byte, now int64) {
	if symbol == "" {
		return
	}
	payload := append(json.RawMessage(nil), b...)
	a.mu.Lock()
	a.ticks[symbol] = payload
	a.mu.Unlock()

	if a.sink != nil {
		t := &models.Tick{Symbol: symbol, ReceivedMs: now, Payload: payload}
		if err := a.sink.Process(ctx, t); err != nil {
			a.log.Warn("tick sink", logger.String("symbol", symbol), logger.Error(err))
		}
	}
}

func (a *Adapter) handleBar(b []byte) {
	var bm barMessage
	if err := json.Unmarshal(b, &bm); err != nil || bm.Symbol == "" {
		return
	}
	bar := models.StreamBar{
		Symbol: bm.Symbol,
		Start:  bm.Start,
		Open:   bm.Open,
		High:   bm.High,
		Low:    bm.Low,
		Close:  bm.Close,
		Volume: bm.Volume,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if bm.SessionStart > 0 {
		a.sessionStart[bm.Symbol] = bm.SessionStart
	} else if a.sessionStart[bm.Symbol] == 0 {
		a.sessionStart[bm.Symbol] = bm.Start
	}
	bars := a.bars[bm.Symbol]
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Start >= bar.Start })
	switch {
	case idx < len(bars) && bars[idx].Start == bar.Start:
		bars[idx] = bar
	case idx == len(bars):
		bars = append(bars, bar)
	default:
		bars = append(bars, models.StreamBar{})
		copy(bars[idx+1:], bars[idx:])
		bars[idx] = bar
	}
	a.bars[bm.Symbol] = bars
}

// notifyLoop delivers at most one batched snapshot per tick to all
// subscribers, collapsing any number of mutations in between.
func (a *Adapter) notifyLoop(ctx context.Context) {
	interval := a.cfg.NotifyInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			if !a.dirty {
				a.mu.Unlock()
				continue
			}
			a.dirty = false
			snap := a.snapshotLocked()
			subs := a.subscribers
			a.mu.Unlock()
			for _, s := range subs {
				s(snap)
			}
		}
	}
}

func (a *Adapter) setState(s models.ConnectionState) {
	a.mu.Lock()
	a.setStateLocked(s)
	a.mu.Unlock()
}

func (a *Adapter) setStateLocked(s models.ConnectionState) {
	if a.state != s {
		a.state = s
		a.dirty = true
	}
}

func (a *Adapter) recordError(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	a.dirty = true
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.RecordError("stream")
	}
	a.log.Warn("stream error", logger.Error(err))
}

// diffSymbols computes the exact deltas between the current and next tracked
// sets, sorted for deterministic emission order.
func diffSymbols(current map[string]struct{}, next map[string]struct{}) (added, removed []string) {
	for s := range next {
		if _, ok := current[s]; !ok {
			added = append(added, s)
		}
	}
	for s := range current {
		if _, ok := next[s]; !ok {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func (a *Adapter) trackedLocked() []string {
	out := make([]string, 0, len(a.tracked))
	for s := range a.tracked {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) snapshotLocked() models.StreamSnapshot {
	status := make(map[string]json.RawMessage, len(a.symbolStatus))
	for k, v := range a.symbolStatus {
		status[k] = v
	}
	return models.StreamSnapshot{
		State:          a.state,
		LastMessageMs:  a.lastMsgMs,
		LastError:      a.lastError,
		Tracked:        a.trackedLocked(),
		ProviderStatus: a.provider,
		SymbolStatus:   status,
	}
}
