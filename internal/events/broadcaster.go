// Package events provides the typed channels that connect engine components.
//
// Delivery is non-blocking: a subscriber whose buffer is full misses the
// value and the miss is counted. Producers such as the connection manager
// never wait on a slow consumer.
package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when Subscribe is called with a non-positive size.
const DefaultBufferSize = 16

// Stats is a snapshot of broadcaster counters.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// Broadcaster fans values of type T out to any number of subscribers.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe returns a receive channel with the given buffer and a cancel
// function that unsubscribes and closes the channel. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *Broadcaster[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	sub := &subscriber[T]{ch: make(chan T, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}

	return sub.ch, cancel
}

// Publish delivers v to every subscriber with buffer space and reports how
// many received it. It never blocks. Publishing after Close is a no-op.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	b.published.Add(1)

	sent := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
			sent++
			b.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	return sent
}

// Stats returns the current counters.
func (b *Broadcaster[T]) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close closes every subscriber channel. It is safe to call more than once.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
