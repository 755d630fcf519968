// Package ratelimit bounds outbound calls to the aggregation API with a fixed-window counter.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of calls admitted per window.
	DefaultLimit = 10
	// DefaultWindow is the fixed window length.
	DefaultWindow = time.Minute
)

var (
	// ErrInvalidLimit indicates a non-positive limit.
	ErrInvalidLimit = errors.New("ratelimit: limit must be positive")
	// ErrInvalidWindow indicates a non-positive window.
	ErrInvalidWindow = errors.New("ratelimit: window must be positive")
)

// Decision reports whether a call was admitted and, when denied, how long to wait.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter gates calls. Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context) (Decision, error)
}

// FixedWindowConfig configures an in-process fixed-window limiter.
type FixedWindowConfig struct {
	Limit  int
	Window time.Duration
	Clock  func() time.Time
}

// FixedWindow is a process-local fixed-window counter. State is lost on restart and
// is not shared between processes.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   func() time.Time
	count   int
	resetAt time.Time
}

// NewFixedWindow constructs a limiter whose first window starts now.
func NewFixedWindow(cfg FixedWindowConfig) (*FixedWindow, error) {
	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	if window < 0 {
		return nil, ErrInvalidWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &FixedWindow{
		limit:   limit,
		window:  window,
		clock:   clock,
		resetAt: clock().Add(window),
	}, nil
}

// Allow admits the call when the current window has capacity left.
func (l *FixedWindow) Allow(_ context.Context) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if !now.Before(l.resetAt) {
		l.count = 0
		l.resetAt = now.Add(l.window)
	}
	if l.count < l.limit {
		l.count++
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: l.resetAt.Sub(now)}, nil
}
