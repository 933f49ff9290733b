package tier

import (
	"context"
	"time"

	"github.com/keytempo/fanout/internal/domain/model"
)

// Default recency windows for tier promotion.
const (
	defaultActiveWindow  = 5 * time.Minute
	defaultPassiveWindow = 30 * time.Minute
)

// Classifier maps a subscriber to a delivery tier. Classification is a
// pure function of the subscriber record, the globally-active set, and
// the ledger snapshot: identical inputs always yield the same tier.
type Classifier struct {
	ledger        *Ledger
	activeWindow  time.Duration
	passiveWindow time.Duration
}

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithActiveWindow sets the recency window for the active tier.
func WithActiveWindow(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.activeWindow = d
		}
	}
}

// WithPassiveWindow sets the recency window for the passive tier.
func WithPassiveWindow(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.passiveWindow = d
		}
	}
}

// NewClassifier creates a classifier reading recency from ledger.
func NewClassifier(ledger *Ledger, opts ...Option) *Classifier {
	c := &Classifier{
		ledger:        ledger,
		activeWindow:  defaultActiveWindow,
		passiveWindow: defaultPassiveWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify resolves the tier for sub given the globally-active user set.
//
// Anonymous subscribers are always observers, regardless of any other
// signal. Known users are active when globally active or when they acted
// within the active window, passive within the passive window. With no
// qualifying signal the subscriber demotes one step from its last-known
// tier: active falls to passive, everything else lands on observer.
func (c *Classifier) Classify(ctx context.Context, sub model.SubscriberRecord, active map[string]struct{}) model.Tier {
	if sub.Anonymous() {
		return model.TierObserver
	}
	if _, ok := active[sub.UserID]; ok {
		return model.TierActive
	}
	if last, ok := c.ledger.Last(ctx, sub.UserID); ok {
		elapsed := c.ledger.now().Sub(last)
		switch {
		case elapsed < c.activeWindow:
			return model.TierActive
		case elapsed < c.passiveWindow:
			return model.TierPassive
		}
	}
	if sub.Tier == model.TierActive {
		return model.TierPassive
	}
	return model.TierObserver
}
