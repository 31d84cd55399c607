// Package ratelimit implements a fixed-window request counter per key.
//
// A window opens on the first request for a key and lasts Window. Requests are
// allowed while the count stays under Limit; a denied request does not count.
// Once the window has passed, the next request starts a fresh one with count 1.
// This allows bursts of up to 2x Limit around a window boundary, which is an
// accepted trade-off of the fixed-window policy.
package ratelimit

import (
	"context"
	"time"
)

// Defaults match one request per second averaged over a minute.
const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Window is the counter state for one key.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// WindowStore holds windows and applies the fixed-window step atomically per key.
type WindowStore interface {
	// Hit applies one request at now and returns the resulting window and
	// whether it was allowed.
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error)
}

// Limiter applies a fixed limit per window to arbitrary keys.
type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. Non-positive limit or window fall back to the defaults.
func New(store WindowStore, limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the per-window ceiling.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window size.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	w, allowed, err := l.store.Hit(ctx, key, l.limit, l.window, now)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:   allowed,
		Count:     w.Count,
		Limit:     l.limit,
		Remaining: l.limit - w.Count,
		ResetAt:   w.ResetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !allowed {
		d.RetryAfter = w.ResetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}
