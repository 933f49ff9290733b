// Package dispatch implements the tiered update dispatcher: it classifies
// each connected subscriber into a delivery tier, pushes updates to active
// subscribers immediately, and accumulates deltas for the deferred tiers
// until their flush timers fire.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/internal/domain/pending"
	"github.com/keytempo/fanout/internal/domain/tier"
	"github.com/keytempo/fanout/pkg/logger"
	"github.com/keytempo/fanout/pkg/metrics"
)

// Default flush cadences for the deferred tiers.
const (
	defaultPassiveFlushInterval  = 8 * time.Second
	defaultObserverFlushInterval = 45 * time.Second
	defaultLedgerPruneInterval   = time.Hour
)

// Connection pairs a live connection with its subscriber record. Record
// is nil while the connection exists but has not subscribed yet.
type Connection struct {
	ID     string
	Record *model.SubscriberRecord
}

// Connections enumerates the locally-held live connections.
type Connections interface {
	All(ctx context.Context) []Connection
}

// ActiveSource resolves the set of globally recently-active users. The
// lookup may cross process boundaries (e.g. a shared fast store).
type ActiveSource interface {
	ActiveUserIDs(ctx context.Context) (map[string]struct{}, error)
}

// Transport delivers one flattened update to whichever connections want
// it. The dispatcher emits and trusts the transport layer to route by
// topic; delivery confirmation is out of its contract.
type Transport interface {
	Broadcast(ctx context.Context, u model.Update)
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Running           bool  `json:"running"`
	DeliveredActive   int64 `json:"delivered_active"`
	DeliveredPassive  int64 `json:"delivered_passive"`
	DeliveredObserver int64 `json:"delivered_observer"`
	Dropped           int64 `json:"dropped_updates"`
	PassiveKeys       int   `json:"passive_pending_keys"`
	PassiveItems      int   `json:"passive_pending_items"`
	ObserverKeys      int   `json:"observer_pending_keys"`
	ObserverItems     int   `json:"observer_pending_items"`
	LedgerSize        int   `json:"activity_ledger_size"`
}

// Dispatcher owns all mutable dispatch state: the two pending stores, the
// activity ledger, and the delivery counters. Nothing lives in package
// globals, so tests can run independent instances side by side.
//
// A single mutex serializes dispatch loops and flushes, mirroring the
// non-interleaving guarantee the design depends on: once the active-user
// lookup resolves, a dispatch runs to completion without a flush cutting
// in, and vice versa.
type Dispatcher struct {
	mu sync.Mutex

	conns     Connections
	active    ActiveSource
	transport Transport

	ledger     *tier.Ledger
	classifier *tier.Classifier
	passive    *pending.Store
	observer   *pending.Store

	passiveEvery  time.Duration
	observerEvery time.Duration
	pruneEvery    time.Duration
	activeWindow  time.Duration
	passiveWindow time.Duration

	maxPendingKeys int
	maxAccumulated int

	deliveredActive   int64
	deliveredPassive  int64
	deliveredObserver int64
	dropped           int64

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a dispatcher over the given collaborators.
func New(conns Connections, active ActiveSource, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conns:          conns,
		active:         active,
		transport:      transport,
		passiveEvery:   defaultPassiveFlushInterval,
		observerEvery:  defaultObserverFlushInterval,
		pruneEvery:     defaultLedgerPruneInterval,
		maxPendingKeys: 0, // store defaults apply when unset
		maxAccumulated: 0,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named("dispatch")
	}
	if d.ledger == nil {
		d.ledger = tier.NewLedger()
	}

	var tierOpts []tier.Option
	var storeOpts []pending.Option
	if d.passiveWindow > 0 {
		tierOpts = append(tierOpts, tier.WithPassiveWindow(d.passiveWindow))
	}
	if d.activeWindow > 0 {
		tierOpts = append(tierOpts, tier.WithActiveWindow(d.activeWindow))
	}
	if d.maxPendingKeys > 0 {
		storeOpts = append(storeOpts, pending.WithMaxKeys(d.maxPendingKeys))
	}
	if d.maxAccumulated > 0 {
		storeOpts = append(storeOpts, pending.WithMaxPerKey(d.maxAccumulated))
	}
	d.classifier = tier.NewClassifier(d.ledger, tierOpts...)
	d.passive = pending.NewStore(storeOpts...)
	d.observer = pending.NewStore(storeOpts...)
	return d
}

// DispatchDelta routes one delta to every matching live connection.
//
// Active-tier subscribers receive an immediate flattened update built
// from the delta's first change; deferred tiers have the delta
// accumulated for their next flush. Connections without a record and
// non-matching topics are skipped silently.
func (d *Dispatcher) DispatchDelta(ctx context.Context, delta model.Delta) {
	// The external lookup is the one suspending step; everything after
	// runs to completion under the dispatch mutex.
	activeSet, err := d.active.ActiveUserIDs(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("dispatch", "active_lookup")
		d.logger.Warn(ctx, "active-user lookup failed, using recency only", logger.Error(err))
		activeSet = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	metrics.RecordDeltaDispatched()
	for _, conn := range d.conns.All(ctx) {
		if conn.Record == nil {
			continue
		}
		rec := *conn.Record
		if !rec.Topic.Matches(delta.Topic) {
			continue
		}
		t := d.classifier.Classify(ctx, rec, activeSet)
		metrics.RecordClassification(string(t))
		switch t {
		case model.TierActive:
			if len(delta.Changes) == 0 {
				continue
			}
			// Only the first change is pushed on the fast path; the
			// deferred tiers replay the full change set after merging.
			d.transport.Broadcast(ctx, model.UpdateFrom(delta, delta.Changes[0]))
			d.deliveredActive++
			metrics.RecordDelivery(string(model.TierActive))
		case model.TierPassive:
			d.accumulate(ctx, d.passive, model.TierPassive, delta)
		case model.TierObserver:
			d.accumulate(ctx, d.observer, model.TierObserver, delta)
		}
	}
}

// DispatchUpdate ingests a legacy pre-formed single-change update by
// wrapping it into a one-change delta.
func (d *Dispatcher) DispatchUpdate(ctx context.Context, u model.Update) {
	d.DispatchDelta(ctx, model.DeltaFrom(u))
}

// accumulate appends delta to the tier's store and accounts for evictions.
// Must be called with d.mu held.
func (d *Dispatcher) accumulate(ctx context.Context, store *pending.Store, t model.Tier, delta model.Delta) {
	if n := store.Append(ctx, delta); n > 0 {
		d.dropped += int64(n)
		metrics.RecordDroppedUpdates(n)
		d.logger.Debug(ctx, "evicted pending deltas",
			logger.String("tier", string(t)),
			logger.String("topic", delta.Topic.String()),
			logger.Int("dropped", n),
		)
	}
	metrics.UpdatePendingKeys(string(t), store.Keys())
	metrics.UpdatePendingItems(string(t), store.Items())
}

// RecordActivity stamps a user's score-submission time, feeding the
// recency side of classification.
func (d *Dispatcher) RecordActivity(ctx context.Context, userID string) {
	d.ledger.Record(ctx, userID)
	metrics.UpdateLedgerSize(d.ledger.Size())
}

// Stats returns a snapshot of cumulative counters and current pending
// depths. It is a snapshot, not a time series.
func (d *Dispatcher) Stats(ctx context.Context) Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Running:           d.started,
		DeliveredActive:   d.deliveredActive,
		DeliveredPassive:  d.deliveredPassive,
		DeliveredObserver: d.deliveredObserver,
		Dropped:           d.dropped,
		PassiveKeys:       d.passive.Keys(),
		PassiveItems:      d.passive.Items(),
		ObserverKeys:      d.observer.Keys(),
		ObserverItems:     d.observer.Items(),
		LedgerSize:        d.ledger.Size(),
	}
}
