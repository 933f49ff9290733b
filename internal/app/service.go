// Package app composes the dispatcher with its collaborators and exposes
// the dependencies required by the HTTP API.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keytempo/fanout/internal/adapters/activity"
	"github.com/keytempo/fanout/internal/adapters/registry"
	"github.com/keytempo/fanout/internal/adapters/transport"
	"github.com/keytempo/fanout/internal/dispatch"
	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/internal/domain/tier"
	"github.com/keytempo/fanout/pkg/logger"
)

// Service wires the connection registry, active-user set, broadcaster,
// and dispatcher together.
type Service struct {
	mu sync.Mutex

	registry    *registry.Registry
	activeSet   *activity.Set
	broadcaster *transport.Broadcaster
	ledger      *tier.Ledger
	dispatcher  *dispatch.Dispatcher

	// Configuration
	maxPendingKeys   int
	maxAccumulated   int
	passiveFlush     time.Duration
	observerFlush    time.Duration
	activeWindow     time.Duration
	passiveWindow    time.Duration
	ledgerPrune      time.Duration
	ledgerPruneSet   bool
	subscriberBuffer int

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPendingBounds sets both growth bounds of the deferred stores.
func WithPendingBounds(maxKeys, maxPerKey int) Option {
	return func(s *Service) {
		if maxKeys > 0 {
			s.maxPendingKeys = maxKeys
		}
		if maxPerKey > 0 {
			s.maxAccumulated = maxPerKey
		}
	}
}

// WithFlushIntervals sets the passive and observer flush cadences.
func WithFlushIntervals(passive, observer time.Duration) Option {
	return func(s *Service) {
		if passive > 0 {
			s.passiveFlush = passive
		}
		if observer > 0 {
			s.observerFlush = observer
		}
	}
}

// WithRecencyWindows sets the classification windows.
func WithRecencyWindows(active, passive time.Duration) Option {
	return func(s *Service) {
		if active > 0 {
			s.activeWindow = active
		}
		if passive > 0 {
			s.passiveWindow = passive
		}
	}
}

// WithLedgerPruneInterval sets the activity-ledger sweep cadence; zero
// disables pruning.
func WithLedgerPruneInterval(every time.Duration) Option {
	return func(s *Service) {
		s.ledgerPrune = every
		s.ledgerPruneSet = true
	}
}

// WithSubscriberBuffer sets the per-connection update channel depth.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// New constructs the service and all of its components. Components exist
// from construction; Start only arms the flush timers.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("app")
	}

	s.registry = registry.New()
	s.activeSet = activity.New()
	s.ledger = tier.NewLedger()

	var transportOpts []transport.Option
	if s.subscriberBuffer > 0 {
		transportOpts = append(transportOpts, transport.WithBufferSize(s.subscriberBuffer))
	}
	s.broadcaster = transport.New(transportOpts...)

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(s.logger.Named("dispatch")),
		dispatch.WithLedger(s.ledger),
	}
	if s.maxPendingKeys > 0 || s.maxAccumulated > 0 {
		dispatchOpts = append(dispatchOpts,
			dispatch.WithMaxPendingKeys(s.maxPendingKeys),
			dispatch.WithMaxAccumulated(s.maxAccumulated),
		)
	}
	if s.passiveFlush > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithPassiveFlushInterval(s.passiveFlush))
	}
	if s.observerFlush > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithObserverFlushInterval(s.observerFlush))
	}
	if s.activeWindow > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithActiveWindow(s.activeWindow))
	}
	if s.passiveWindow > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithPassiveWindow(s.passiveWindow))
	}
	if s.ledgerPruneSet {
		dispatchOpts = append(dispatchOpts, dispatch.WithLedgerPruneInterval(s.ledgerPrune))
	}
	s.dispatcher = dispatch.New(s.registry, s.activeSet, s.broadcaster, dispatchOpts...)
	return s
}

// Start arms the flush timers. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.dispatcher.Start(ctx)
	s.started = true
	s.logger.Info(ctx, "fanout service started")
	return nil
}

// Stop halts the timers and performs the final drain. Idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.dispatcher.Stop(ctx)
	s.started = false
	s.logger.Info(ctx, "fanout service stopped")
}

// DispatchDelta ingests one ranking delta.
func (s *Service) DispatchDelta(ctx context.Context, d model.Delta) {
	s.dispatcher.DispatchDelta(ctx, d)
}

// DispatchUpdate ingests a legacy single-change update.
func (s *Service) DispatchUpdate(ctx context.Context, u model.Update) {
	s.dispatcher.DispatchUpdate(ctx, u)
}

// RecordActivity stamps a user's score submission in both the local
// ledger and the globally-active set.
func (s *Service) RecordActivity(ctx context.Context, userID string) {
	s.dispatcher.RecordActivity(ctx, userID)
	s.activeSet.Touch(ctx, userID)
}

// Subscribe registers a connection and opens its update feed.
func (s *Service) Subscribe(ctx context.Context, rec model.SubscriberRecord) (string, *transport.Subscription) {
	connID := uuid.NewString()
	s.registry.Register(ctx, connID, &rec)
	sub := s.broadcaster.Subscribe(ctx, rec.Topic)
	s.logger.Debug(ctx, "subscriber registered",
		logger.String("conn_id", connID),
		logger.String("topic", rec.Topic.String()),
		logger.Bool("anonymous", rec.Anonymous()),
	)
	return connID, sub
}

// Unsubscribe tears down a connection's registration and feed.
func (s *Service) Unsubscribe(ctx context.Context, connID string, sub *transport.Subscription) {
	s.broadcaster.Unsubscribe(ctx, sub)
	s.registry.Unregister(ctx, connID)
	s.logger.Debug(ctx, "subscriber removed", logger.String("conn_id", connID))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	st := s.dispatcher.Stats(context.Background())
	return map[string]interface{}{
		"running":              st.Running,
		"connections":          s.registry.Len(),
		"delivered_active":     st.DeliveredActive,
		"delivered_passive":    st.DeliveredPassive,
		"delivered_observer":   st.DeliveredObserver,
		"dropped_updates":      st.Dropped,
		"passive_pending_keys": st.PassiveKeys,
		"passive_pending":      st.PassiveItems,
		"observer_pending_keys": st.ObserverKeys,
		"observer_pending":     st.ObserverItems,
		"activity_ledger_size": st.LedgerSize,
	}
}
