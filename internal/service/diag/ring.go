// Package diag keeps a bounded in-memory ring of source-selection events for
// the diagnostics endpoint.
package diag

import (
	"sync"
	"time"
)

// Event records one reconcile decision.
type Event struct {
	At           time.Time `json:"at"`
	Symbol       string    `json:"symbol"`
	Source       string    `json:"source"`
	FallbackUsed bool      `json:"fallbackUsed"`
	Reason       string    `json:"reason,omitempty"`
	ExpectedBars int       `json:"expectedBars"`
	ReceivedBars int       `json:"receivedBars"`
}

// Ring is a fixed-capacity event buffer; the oldest entries are overwritten.
type Ring struct {
	mu   sync.RWMutex
	buf  []Event
	next int
	full bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{buf: make([]Event, capacity)}
}

// Add appends one event.
func (r *Ring) Add(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to n events, newest first.
func (r *Ring) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
