// Package transport fans flattened updates out to subscribed connections.
package transport

import (
	"context"
	"sync"

	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/pkg/metrics"
)

// defaultBufferSize is the per-subscription channel depth.
const defaultBufferSize = 64

// Subscription is one connection's update feed.
type Subscription struct {
	topic model.Topic
	ch    chan model.Update
}

// Updates returns the channel delivering this subscription's updates.
// It is closed on unsubscribe.
func (s *Subscription) Updates() <-chan model.Update {
	return s.ch
}

// Topic returns the subscription's topic filter.
func (s *Subscription) Topic() model.Topic {
	return s.topic
}

// Broadcaster routes updates to subscriptions whose topic filter matches.
// Sends never block: a subscriber that cannot keep up loses the update
// and catches up on the next one.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

// Option applies a configuration option to the Broadcaster.
type Option func(*Broadcaster)

// WithBufferSize sets the per-subscription channel depth.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates an empty broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscription filtering on topic.
func (b *Broadcaster) Subscribe(ctx context.Context, topic model.Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan model.Update, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ctx context.Context, sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Broadcast delivers u to every subscription whose filter matches its
// topic.
func (b *Broadcaster) Broadcast(ctx context.Context, u model.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.topic.Matches(u.Topic) {
			continue
		}
		select {
		case sub.ch <- u:
		default:
			metrics.RecordBroadcastDropped()
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
