package dispatch

import (
	"time"

	"github.com/keytempo/fanout/internal/domain/tier"
	"github.com/keytempo/fanout/pkg/logger"
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithLedger injects a pre-built activity ledger, shared with callers
// that stamp activity outside the dispatcher.
func WithLedger(l *tier.Ledger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.ledger = l
		}
	}
}

// WithPassiveFlushInterval sets the passive tier's flush cadence.
func WithPassiveFlushInterval(every time.Duration) Option {
	return func(d *Dispatcher) {
		if every > 0 {
			d.passiveEvery = every
		}
	}
}

// WithObserverFlushInterval sets the observer tier's flush cadence.
func WithObserverFlushInterval(every time.Duration) Option {
	return func(d *Dispatcher) {
		if every > 0 {
			d.observerEvery = every
		}
	}
}

// WithMaxPendingKeys bounds distinct topics per deferred-tier store.
func WithMaxPendingKeys(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxPendingKeys = n
		}
	}
}

// WithMaxAccumulated bounds deltas retained per topic.
func WithMaxAccumulated(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAccumulated = n
		}
	}
}

// WithActiveWindow sets the recency window for the active tier.
func WithActiveWindow(w time.Duration) Option {
	return func(d *Dispatcher) {
		if w > 0 {
			d.activeWindow = w
		}
	}
}

// WithPassiveWindow sets the recency window for the passive tier.
func WithPassiveWindow(w time.Duration) Option {
	return func(d *Dispatcher) {
		if w > 0 {
			d.passiveWindow = w
		}
	}
}

// WithLedgerPruneInterval sets the activity-ledger sweep cadence.
// Zero or negative disables pruning; entries then live for the life of
// the process.
func WithLedgerPruneInterval(every time.Duration) Option {
	return func(d *Dispatcher) {
		d.pruneEvery = every
	}
}
