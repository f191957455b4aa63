// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package report

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultThrottleInterval is how long an identical report is suppressed
	// after it was forwarded once.
	DefaultThrottleInterval = 24 * time.Hour

	// DefaultThrottleCleanup is how often idle throttle entries are evicted.
	DefaultThrottleCleanup = time.Hour
)

// ThrottleConfig configures a Throttle.
type ThrottleConfig struct {
	// Interval is the minimum time between two identical reports.
	// Default: DefaultThrottleInterval.
	Interval time.Duration

	// Cleanup is the eviction period for idle entries.
	// Default: DefaultThrottleCleanup.
	Cleanup time.Duration
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle forwards a report to the next reporter at most once per interval
// for each distinct (host, verdict, computed pins) combination. A server
// presenting the wrong key to every client would otherwise flood the sink
// with identical reports.
type Throttle struct {
	next     Reporter
	mu       sync.Mutex
	entries  map[string]*throttleEntry
	limit    rate.Limit
	staleAge time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewThrottle wraps next. Call Close to stop the background eviction
// goroutine.
func NewThrottle(next Reporter, cfg *ThrottleConfig) (*Throttle, error) {
	if next == nil {
		return nil, ErrInvalidConfig
	}
	interval := DefaultThrottleInterval
	cleanup := DefaultThrottleCleanup
	if cfg != nil {
		if cfg.Interval > 0 {
			interval = cfg.Interval
		}
		if cfg.Cleanup > 0 {
			cleanup = cfg.Cleanup
		}
	}

	t := &Throttle{
		next:     next,
		entries:  make(map[string]*throttleEntry),
		limit:    rate.Every(interval),
		staleAge: interval,
		stopCh:   make(chan struct{}),
	}
	go t.cleanup(cleanup)
	return t, nil
}

// Report forwards r unless an identical report was forwarded within the
// interval.
func (t *Throttle) Report(ctx context.Context, r *Report) {
	if !t.allow(throttleKey(r)) {
		return
	}
	t.next.Report(ctx, r)
}

// Close stops the eviction goroutine. It is safe to call more than once.
func (t *Throttle) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

func (t *Throttle) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, 1)}
		t.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (t *Throttle) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			now := time.Now()
			for key, e := range t.entries {
				if now.Sub(e.lastSeen) > t.staleAge {
					delete(t.entries, key)
				}
			}
			t.mu.Unlock()
		}
	}
}

func throttleKey(r *Report) string {
	pins := slices.Clone(r.ComputedPins)
	slices.Sort(pins)
	return r.Host + "|" + r.Verdict.String() + "|" + strings.Join(pins, ",")
}
