package progress

import (
	"sync"
	"time"
)

// DefaultDebounceInterval is the minimum spacing between accepted samples
// for one download.
const DefaultDebounceInterval = 100 * time.Millisecond

// EstimateRemaining projects the time left for a download that started at
// start and has reached percentage at now. It returns false when no estimate
// makes sense: nothing done yet, already finished, or no time elapsed.
//
// The result depends only on its arguments.
func EstimateRemaining(start, now time.Time, percentage float64) (time.Duration, bool) {
	if percentage <= 0 || percentage >= 100 {
		return 0, false
	}
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return 0, false
	}
	rate := percentage / float64(elapsed) // percent per nanosecond
	remaining := time.Duration((100 - percentage) / rate)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Speed returns the average transfer rate in bytes per second, or 0 when it
// cannot be computed.
func Speed(start, now time.Time, bytes int64) float64 {
	elapsed := now.Sub(start).Seconds()
	if bytes <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}

// Gate debounces progress samples per key. A sample is accepted when at
// least Interval has passed since the last accepted sample for the same key,
// or when it is terminal. Safe for concurrent use.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGate creates a gate with the given interval. A non-positive interval
// uses DefaultDebounceInterval.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &Gate{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Interval returns the configured debounce interval.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Allow reports whether a sample for key observed at now should be applied,
// and records it as the last accepted sample if so.
func (g *Gate) Allow(key string, now time.Time, terminal bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[key]; ok && !terminal && now.Sub(prev) < g.interval {
		return false
	}
	g.last[key] = now
	return true
}

// Forget drops the history for key.
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	delete(g.last, key)
	g.mu.Unlock()
}

// Clear drops all history.
func (g *Gate) Clear() {
	g.mu.Lock()
	g.last = make(map[string]time.Time)
	g.mu.Unlock()
}
