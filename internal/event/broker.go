package event

import (
	"slices"
	"sync"
)

// Handler receives published values. Handlers run on the publisher's
// goroutine and must not block for long.
type Handler[T any] func(T)

// Broker fans a value out to every subscribed handler.
// It is safe for concurrent use; a handler may unsubscribe itself while
// being invoked.
type Broker[T any] struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler[T]
	nextID   uint64
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{handlers: make(map[uint64]Handler[T])}
}

// Subscription identifies one registered handler.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers h and returns its subscription.
func (b *Broker[T]) Subscribe(h Handler[T]) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()
	return &Subscription{cancel: func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}}
}

// Publish delivers v to a snapshot of the current handlers in
// subscription order.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	if len(b.handlers) == 0 {
		b.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	hs := make([]Handler[T], 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(v)
	}
}

// Len returns the number of subscribed handlers.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
