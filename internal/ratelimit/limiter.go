// Package ratelimit implements per-user sliding-window admission control
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is matched by every *LimitError
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError is returned by Admit when the caller has used up the window
type LimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry in %s", e.Limit, e.Window, e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limiter admits at most limit calls per user within any trailing window.
// Denied calls are not recorded.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter allowing limit requests per window
func NewLimiter(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records a request for userID, or returns a *LimitError if the window is full
func (l *Limiter) Admit(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := evict(l.hits[userID], now.Add(-l.window))

	if len(recent) >= l.limit {
		l.hits[userID] = recent
		return &LimitError{
			Limit:      l.limit,
			Window:     l.window,
			RetryAfter: recent[0].Add(l.window).Sub(now),
		}
	}

	l.hits[userID] = append(recent, now)
	return nil
}

// Sweep forgets users with no timestamps left in the window and returns how many were dropped
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	dropped := 0
	for userID, hits := range l.hits {
		recent := evict(hits, cutoff)
		if len(recent) == 0 {
			delete(l.hits, userID)
			dropped++
			continue
		}
		l.hits[userID] = recent
	}
	return dropped
}

// Tracked returns the number of users with a window record
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// evict drops timestamps at or before cutoff; hits is ordered oldest first
func evict(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}
