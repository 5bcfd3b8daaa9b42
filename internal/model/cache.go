// Package model holds the live, listener-backed mirrors of rides, events and
// users, and the multi-document mutations that keep them consistent.
package model

import (
	"log/slog"
	"sync"

	"eventrides/internal/notify"
	"eventrides/internal/observability"
	"eventrides/internal/store"
)

// cache is the listener bookkeeping shared by every entity type. The entity
// owns its fields and lock; cache owns attachment, readiness and the change
// and gone topics.
type cache[T any] struct {
	kind    string
	self    T
	logger  *slog.Logger
	sources []string
	attach  func() []store.Registration

	mu        sync.Mutex
	listening bool
	closed    bool
	regs      []store.Registration
	pending   map[string]bool
	ready     chan struct{}
	isReady   bool

	// pub orders publishes against late-subscriber replay so an observer
	// sees each state once. Observers must not subscribe to the same entity
	// from inside a callback.
	pub     sync.Mutex
	changed notify.Topic[T]
	gone    notify.Topic[T]
}

// newCache prepares a cache whose attach func registers one listener per source.
func newCache[T any](kind string, self T, logger *slog.Logger, sources []string, attach func() []store.Registration) *cache[T] {
	return &cache[T]{
		kind:    kind,
		self:    self,
		logger:  logger,
		sources: sources,
		attach:  attach,
		ready:   make(chan struct{}),
	}
}

func (c *cache[T]) subscribe(fn func(T)) *notify.Subscription[T] {
	c.pub.Lock()
	defer c.pub.Unlock()
	sub := c.changed.Subscribe(fn)
	if c.listen() {
		return sub
	}
	if c.loaded() && sub.Active() {
		fn(c.self)
	}
	return sub
}

func (c *cache[T]) onGone(fn func(T)) *notify.Subscription[T] {
	return c.gone.Subscribe(fn)
}

func (c *cache[T]) fetch() {
	if c.listen() {
		return
	}
	if c.loaded() {
		c.notify()
	}
}

// notify publishes the current state to every change observer.
func (c *cache[T]) notify() {
	c.pub.Lock()
	defer c.pub.Unlock()
	c.changed.Publish(c.self)
}

// listen attaches the remote listeners unless already attached or closed.
// It reports whether this call attached them.
func (c *cache[T]) listen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening || c.closed {
		return false
	}
	c.listening = true
	c.pending = make(map[string]bool, len(c.sources))
	for _, s := range c.sources {
		c.pending[s] = true
	}
	c.regs = c.attach()
	observability.ListenersAttached.WithLabelValues(c.kind).Add(float64(len(c.regs)))
	return true
}

// active is the "still attached" check every snapshot callback makes before
// touching entity state.
func (c *cache[T]) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening && !c.closed
}

func (c *cache[T]) loaded() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *cache[T]) delivered(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, source)
	if len(c.pending) == 0 && !c.isReady {
		c.isReady = true
		close(c.ready)
	}
}

func (c *cache[T]) listenError(source string, err error) {
	observability.SnapshotErrors.WithLabelValues(c.kind).Inc()
	c.logger.Warn("listener error, keeping cached state", "entity", c.kind, "source", source, "error", err)
}

// applied marks source delivered and notifies observers.
func (c *cache[T]) applied(source string, gone bool) {
	observability.SnapshotsApplied.WithLabelValues(c.kind).Inc()
	c.pub.Lock()
	defer c.pub.Unlock()
	c.delivered(source)
	if gone {
		c.gone.Publish(c.self)
		return
	}
	c.changed.Publish(c.self)
}

func (c *cache[T]) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	regs := c.regs
	c.regs = nil
	c.mu.Unlock()

	for _, r := range regs {
		r.Remove()
	}
	c.changed.Clear()
	c.gone.Clear()
}
