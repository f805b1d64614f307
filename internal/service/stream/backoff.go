package stream

import "time"

// nextBackoff returns the reconnect delay for the given attempt (0-based):
// the initial delay doubled per attempt, capped at max, plus a bounded jitter
// of at most jitterPct of the capped delay. rnd supplies a value in [0,1).
func nextBackoff(attempt int, initial, max time.Duration, jitterPct float64, rnd func() float64) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	if jitterPct > 0 && rnd != nil {
		delay += time.Duration(float64(delay) * jitterPct * rnd())
	}
	return delay
}
