// Package notify provides typed, per-entity observer lists.
package notify

import (
	"sync"
	"sync/atomic"
)

// Topic fans one value out to every attached observer, in subscription order,
// on the publisher's goroutine.
type Topic[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
}

// Subscription is one observer attached to a Topic.
type Subscription[T any] struct {
	topic    *Topic[T]
	fn       func(T)
	detached atomic.Bool
}

// Subscribe attaches fn.
func (t *Topic[T]) Subscribe(fn func(T)) *Subscription[T] {
	s := &Subscription[T]{topic: t, fn: fn}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s
}

// Publish calls every attached observer with v. An observer detached while
// the publish is in flight is skipped.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	subs := make([]*Subscription[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		if s.detached.Load() {
			continue
		}
		s.fn(v)
	}
}

// Len returns the number of attached observers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Clear detaches every observer.
func (t *Topic[T]) Clear() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		s.detached.Store(true)
	}
}

// Unsubscribe detaches the observer. Calling it more than once is harmless.
func (s *Subscription[T]) Unsubscribe() {
	if s == nil || s.detached.Swap(true) {
		return
	}
	t := s.topic
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, other := range t.subs {
		if other == s {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Active reports whether the observer is still attached.
func (s *Subscription[T]) Active() bool {
	return s != nil && !s.detached.Load()
}
