package provider

import (
	"sync"
	"time"
)

// Breaker trips after repeated provider failures and holds requests off until
// a cool-down passes. A throttling failure opens the breaker until the next
// rate-limit window boundary; other failures open it for a fixed cooldown
// once the consecutive-failure threshold is reached.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	cooldown    time.Duration
	window      time.Duration
	openUntil   time.Time

	now func() time.Time
}

func NewBreaker(maxFailures int, cooldown, window time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		window:      window,
		now:         time.Now,
	}
}

// Allow reports whether a request may go to the provider.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// Success resets the consecutive-failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failure records a provider failure. throttled marks rate-limit rejections,
// which open the breaker immediately since the current window is exhausted.
func (b *Breaker) Failure(throttled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if throttled {
		b.failures = 0
		b.openUntil = now.Truncate(b.window).Add(b.window)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.failures = 0
		b.openUntil = now.Add(b.cooldown)
	}
}
