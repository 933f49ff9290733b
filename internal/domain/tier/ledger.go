// Package tier classifies subscribers into delivery tiers based on how
// recently they acted.
package tier

import (
	"context"
	"sync"
	"time"
)

// Ledger tracks the last score-submission time per user. Entries persist
// until pruned; Prune exists because the map otherwise grows for the life
// of the process.
type Ledger struct {
	mu   sync.RWMutex
	last map[string]time.Time
	now  func() time.Time
}

// LedgerOption applies a configuration option to the Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source, used by tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates an empty activity ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stamps userID with the current time.
func (l *Ledger) Record(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	l.mu.Lock()
	l.last[userID] = l.now()
	l.mu.Unlock()
}

// Last returns the recorded activity time for userID, if any.
func (l *Ledger) Last(ctx context.Context, userID string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts, ok := l.last[userID]
	return ts, ok
}

// Size returns the number of tracked users.
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.last)
}

// Prune drops entries older than maxAge and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) int {
	cutoff := l.now().Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, ts := range l.last {
		if ts.Before(cutoff) {
			delete(l.last, id)
			removed++
		}
	}
	return removed
}
