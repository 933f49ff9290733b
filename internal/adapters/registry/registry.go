// Package registry tracks live subscriber connections local to this
// process.
package registry

import (
	"context"
	"sync"

	"github.com/keytempo/fanout/internal/dispatch"
	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/pkg/metrics"
)

// Registry is a concurrent map of connection ID to subscriber record.
// A connection may be registered before its subscription details arrive,
// in which case its record is nil and dispatch skips it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*model.SubscriberRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns: make(map[string]*model.SubscriberRecord),
	}
}

// Register adds or replaces the record for a connection.
func (r *Registry) Register(ctx context.Context, connID string, rec *model.SubscriberRecord) {
	r.mu.Lock()
	r.conns[connID] = rec
	n := len(r.conns)
	r.mu.Unlock()
	metrics.UpdateConnectionCount(n)
}

// Unregister removes a connection. Unknown IDs are a no-op.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	n := len(r.conns)
	r.mu.Unlock()
	metrics.UpdateConnectionCount(n)
}

// All returns a snapshot of every live connection.
func (r *Registry) All(ctx context.Context) []dispatch.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dispatch.Connection, 0, len(r.conns))
	for id, rec := range r.conns {
		out = append(out, dispatch.Connection{ID: id, Record: rec})
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
