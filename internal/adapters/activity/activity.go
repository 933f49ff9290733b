// Package activity provides the globally-recently-active user set
// consumed by dispatch. This in-process implementation stands in for the
// shared fast store a multi-process deployment would consult; the
// dispatcher only sees the ActiveSource interface.
package activity

import (
	"context"
	"sync"
	"time"
)

// defaultTTL is how long a user stays in the set after acting.
const defaultTTL = 60 * time.Second

// Set tracks users who acted within a TTL window.
type Set struct {
	mu     sync.Mutex
	stamps map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// Option applies a configuration option to the Set.
type Option func(*Set)

// WithTTL sets how long a user counts as globally active.
func WithTTL(ttl time.Duration) Option {
	return func(s *Set) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Set) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty active-user set.
func New(opts ...Option) *Set {
	s := &Set{
		stamps: make(map[string]time.Time),
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch marks userID as active now.
func (s *Set) Touch(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	s.stamps[userID] = s.now()
	s.mu.Unlock()
}

// ActiveUserIDs returns the users still inside the TTL window. Expired
// entries are dropped on the way.
func (s *Set) ActiveUserIDs(ctx context.Context) (map[string]struct{}, error) {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.stamps))
	for id, ts := range s.stamps {
		if ts.Before(cutoff) {
			delete(s.stamps, id)
			continue
		}
		out[id] = struct{}{}
	}
	return out, nil
}

// Len returns the number of tracked users, expired entries included.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stamps)
}
