package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ChartDesk/internal/domain/models"
	"ChartDesk/pkg/logger"
)

func noJitter() float64 { return 0 }

func TestBackoffSequence(t *testing.T) {
	initial := 250 * time.Millisecond
	max := 10 * time.Second
	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for attempt, w := range want {
		got := nextBackoff(attempt, initial, max, 0.10, noJitter)
		if got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	initial := 250 * time.Millisecond
	max := 10 * time.Second
	almostOne := func() float64 { return 0.999999 }
	for attempt := 0; attempt < 8; attempt++ {
		base := nextBackoff(attempt, initial, max, 0.10, noJitter)
		jittered := nextBackoff(attempt, initial, max, 0.10, almostOne)
		if jittered < base {
			t.Fatalf("attempt %d: jitter reduced the delay", attempt)
		}
		if ceiling := base + base/10; jittered > ceiling {
			t.Fatalf("attempt %d: jitter %v exceeds 10%% bound %v", attempt, jittered, ceiling)
		}
	}
}

func TestBackoffResetsAfterConnect(t *testing.T) {
	// The adapter zeroes its attempt counter on every successful open, so the
	// next reconnect starts the sequence over at the initial delay.
	initial := 250 * time.Millisecond
	max := 10 * time.Second
	if got := nextBackoff(0, initial, max, 0.10, noJitter); got != initial {
		t.Fatalf("fresh attempt delay = %v, want %v", got, initial)
	}
}

func TestDiffSymbols(t *testing.T) {
	current := map[string]struct{}{"AAPL": {}, "MSFT": {}, "NVDA": {}}
	next := map[string]struct{}{"MSFT": {}, "NVDA": {}, "TSLA": {}, "AMD": {}}

	added, removed := diffSymbols(current, next)
	if len(added) != 2 || added[0] != "AMD" || added[1] != "TSLA" {
		t.Fatalf("added = %v, want [AMD TSLA]", added)
	}
	if len(removed) != 1 || removed[0] != "AAPL" {
		t.Fatalf("removed = %v, want [AAPL]", removed)
	}

	added, removed = diffSymbols(next, next)
	if added != nil || removed != nil {
		t.Fatalf("identical sets should yield no deltas, got %v / %v", added, removed)
	}
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(Config{
		URL:            "ws://localhost/stream",
		BackoffInitial: 250 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		JitterPct:      0.10,
		NotifyInterval: 10 * time.Millisecond,
	}, log, nil, nil)
}

func TestHandleMessageStoresTickVerbatim(t *testing.T) {
	a := newTestAdapter(t)
	raw := []byte(`{"type":"tick","symbol":"AAPL","price":191.23,"extra":{"nested":true}}`)
	a.handleMessage(context.Background(), raw)

	got, ok := a.Tick("AAPL")
	if !ok {
		t.Fatal("tick for AAPL not stored")
	}
	if string(got) != string(raw) {
		t.Fatalf("payload mutated: got %s", got)
	}
}

func TestHandleMessageUnknownTypeUpdatesLastMessage(t *testing.T) {
	a := newTestAdapter(t)
	a.handleMessage(context.Background(), []byte(`{"type":"totally_new_frame","x":1}`))

	snap := a.Snapshot()
	if snap.LastMessageMs == 0 {
		t.Fatal("unknown frame must still refresh lastMessageMs")
	}
	if snap.LastError != "" {
		t.Fatalf("unknown frame raised error %q", snap.LastError)
	}
}

func TestHandleMessageStatusAndError(t *testing.T) {
	a := newTestAdapter(t)
	a.handleMessage(context.Background(), []byte(`{"type":"provider_status","status":"degraded"}`))
	a.handleMessage(context.Background(), []byte(`{"type":"symbol_status","symbol":"MSFT","halted":true}`))
	a.handleMessage(context.Background(), []byte(`{"type":"error","message":"rate limited"}`))

	snap := a.Snapshot()
	if len(snap.ProviderStatus) == 0 {
		t.Fatal("provider status not stored")
	}
	if _, ok := snap.SymbolStatus["MSFT"]; !ok {
		t.Fatal("symbol status not stored")
	}
	if snap.LastError != "rate limited" {
		t.Fatalf("lastError = %q, want rate limited", snap.LastError)
	}
}

func TestHandleBarKeepsAscendingOrderAndReplaces(t *testing.T) {
	a := newTestAdapter(t)
	a.handleBar([]byte(`{"symbol":"AAPL","start":2000,"open":1,"high":2,"low":1,"close":2,"volume":10}`))
	a.handleBar([]byte(`{"symbol":"AAPL","start":1000,"open":1,"high":1,"low":1,"close":1,"volume":5}`))
	a.handleBar([]byte(`{"symbol":"AAPL","start":2000,"open":1,"high":3,"low":1,"close":3,"volume":12}`))

	bars, sessionStart, err := a.IntradayBars("AAPL")
	if err != nil {
		t.Fatalf("IntradayBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(bars))
	}
	if bars[0].Start != 1000 || bars[1].Start != 2000 {
		t.Fatalf("bars out of order: %+v", bars)
	}
	if bars[1].Close != 3 || bars[1].Volume != 12 {
		t.Fatal("repeated bar start must replace the earlier bar")
	}
	if sessionStart != 2000 {
		// First observed bar start becomes the session anchor when the frame
		// carries no explicit sessionStart.
		t.Fatalf("sessionStart = %d, want 2000", sessionStart)
	}
}

func TestSetSymbolsTracksSetWhileDisconnected(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.SetSymbols([]string{"AAPL", "MSFT"}); err != nil {
		t.Fatalf("SetSymbols: %v", err)
	}
	snap := a.Snapshot()
	if len(snap.Tracked) != 2 || snap.Tracked[0] != "AAPL" || snap.Tracked[1] != "MSFT" {
		t.Fatalf("tracked = %v", snap.Tracked)
	}
	if snap.State != models.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", snap.State)
	}
}

func TestNotifyLoopBatchesMutations(t *testing.T) {
	a := newTestAdapter(t)
	got := make(chan models.StreamSnapshot, 16)
	a.OnUpdate(func(s models.StreamSnapshot) { got <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.notifyLoop(ctx)

	for i := 0; i < 50; i++ {
		a.handleMessage(ctx, []byte(`{"type":"tick","symbol":"AAPL","p":1}`))
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("no batched notification delivered")
	}
	// Many mutations inside one tick collapse into few notifications.
	time.Sleep(50 * time.Millisecond)
	if n := len(got); n > 6 {
		t.Fatalf("received %d notifications for one burst, expected batching", n)
	}
}

func TestConcurrentControlWritesAreSerialized(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// SetSymbols callers and the run goroutine's reconnect resubscribe can
	// write at the same time; unserialized concurrent writers panic inside
	// gorilla/websocket.
	a := newTestAdapter(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := a.writeControl(conn, controlMessage{Type: "subscribe", Symbols: []string{"AAPL"}}); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
}
