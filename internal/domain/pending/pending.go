// Package pending accumulates not-yet-delivered deltas for one deferred
// delivery tier, bounded in both directions.
package pending

import (
	"context"
	"sync"

	"github.com/keytempo/fanout/internal/domain/model"
)

// Default growth bounds.
const (
	defaultMaxKeys   = 500
	defaultMaxPerKey = 50
)

// Store holds pending deltas keyed by topic. Growth is bounded two ways:
// at most maxKeys distinct topics (exceeding evicts the least recently
// inserted topic wholesale) and at most maxPerKey deltas per topic
// (exceeding evicts that topic's oldest delta). Shedding oldest data is
// the backpressure mechanism; producers are never blocked.
type Store struct {
	mu        sync.Mutex
	buckets   map[model.Topic][]model.Delta
	order     []model.Topic // topic insertion order, oldest first
	maxKeys   int
	maxPerKey int
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithMaxKeys bounds the number of distinct topics held.
func WithMaxKeys(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// WithMaxPerKey bounds the number of deltas retained per topic.
func WithMaxPerKey(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPerKey = n
		}
	}
}

// NewStore creates an empty bounded store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		buckets:   make(map[model.Topic][]model.Delta),
		maxKeys:   defaultMaxKeys,
		maxPerKey: defaultMaxPerKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append queues a delta under its topic in arrival order and returns the
// number of deltas dropped by eviction to make room.
func (s *Store) Append(ctx context.Context, d model.Delta) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	bucket, exists := s.buckets[d.Topic]
	if !exists {
		if len(s.order) >= s.maxKeys {
			dropped += s.evictOldestKey()
		}
		s.order = append(s.order, d.Topic)
	}

	bucket = append(bucket, d)
	if len(bucket) > s.maxPerKey {
		over := len(bucket) - s.maxPerKey
		bucket = bucket[over:]
		dropped += over
	}
	s.buckets[d.Topic] = bucket
	return dropped
}

// evictOldestKey removes the least-recently-inserted topic and its whole
// queue. Must be called with s.mu held.
func (s *Store) evictOldestKey() int {
	if len(s.order) == 0 {
		return 0
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	n := len(s.buckets[oldest])
	delete(s.buckets, oldest)
	return n
}

// Drain returns every accumulated bucket and clears the store, including
// topics that happened to hold no deltas.
func (s *Store) Drain(ctx context.Context) map[model.Topic][]model.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.buckets
	s.buckets = make(map[model.Topic][]model.Delta)
	s.order = nil
	return out
}

// Keys returns the number of distinct topics currently held.
func (s *Store) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Items returns the total number of pending deltas across all topics.
func (s *Store) Items() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.buckets {
		total += len(b)
	}
	return total
}
