package dispatch

import (
	"context"
	"time"

	"github.com/keytempo/fanout/internal/domain/merge"
	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/internal/domain/pending"
	"github.com/keytempo/fanout/pkg/logger"
	"github.com/keytempo/fanout/pkg/metrics"
)

// Start launches the flush timers (and the ledger pruner when enabled).
// It is idempotent; a running dispatcher ignores further calls.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.stopCh = make(chan struct{})

	d.wg.Add(2)
	go d.flushLoop(ctx, model.TierPassive, d.passiveEvery)
	go d.flushLoop(ctx, model.TierObserver, d.observerEvery)
	if d.pruneEvery > 0 {
		d.wg.Add(1)
		go d.pruneLoop(ctx)
	}
	d.logger.Info(ctx, "dispatcher started",
		logger.Any("passive_flush", d.passiveEvery),
		logger.Any("observer_flush", d.observerEvery),
	)
}

// Stop halts the timers first and then drains both tiers once, so that
// buffered updates are not silently lost on exit. Idempotent.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.stopCh)
	d.mu.Unlock()

	// Timers must be fully stopped before the final drain so a late tick
	// cannot race the shutdown flush.
	d.wg.Wait()

	d.FlushTier(ctx, model.TierPassive)
	d.FlushTier(ctx, model.TierObserver)
	d.logger.Info(ctx, "dispatcher stopped")
}

// flushLoop periodically drains one deferred tier until shutdown.
func (d *Dispatcher) flushLoop(ctx context.Context, t model.Tier, every time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.FlushTier(ctx, t)
		}
	}
}

// pruneLoop periodically drops ledger entries older than the passive
// window; beyond that horizon recency can no longer affect classification.
func (d *Dispatcher) pruneLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			maxAge := d.passiveWindow
			if maxAge <= 0 {
				maxAge = 30 * time.Minute
			}
			if n := d.ledger.Prune(ctx, maxAge); n > 0 {
				d.logger.Debug(ctx, "pruned activity ledger", logger.Int("removed", n))
			}
			metrics.UpdateLedgerSize(d.ledger.Size())
		}
	}
}

// FlushTier merges and delivers everything accumulated for one deferred
// tier. Every change in a merged delta is replayed as its own transport
// message, unlike the first-change-only fast path.
func (d *Dispatcher) FlushTier(ctx context.Context, t model.Tier) {
	var store *pending.Store
	switch t {
	case model.TierPassive:
		store = d.passive
	case model.TierObserver:
		store = d.observer
	default:
		return
	}

	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for topic, deltas := range store.Drain(ctx) {
		if len(deltas) == 0 {
			continue
		}
		merged, err := merge.Deltas(deltas)
		if err != nil {
			metrics.RecordErrorByComponent("dispatch", "merge")
			d.logger.Error(ctx, "merge failed",
				logger.String("tier", string(t)),
				logger.String("topic", topic.String()),
				logger.Error(err),
			)
			continue
		}
		metrics.RecordMergedBatchSize(string(t), len(deltas))
		for _, c := range merged.Changes {
			d.transport.Broadcast(ctx, model.UpdateFrom(merged, c))
			d.addDelivered(t)
			metrics.RecordDelivery(string(t))
		}
	}

	metrics.UpdatePendingKeys(string(t), store.Keys())
	metrics.UpdatePendingItems(string(t), store.Items())
	metrics.RecordFlushDuration(string(t), float64(time.Since(start).Milliseconds()))
}

// addDelivered bumps the tier's delivery counter. Must be called with
// d.mu held.
func (d *Dispatcher) addDelivered(t model.Tier) {
	switch t {
	case model.TierPassive:
		d.deliveredPassive++
	case model.TierObserver:
		d.deliveredObserver++
	}
}
