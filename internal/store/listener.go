package store

import (
	"sync"
	"sync/atomic"
)

// Listener serializes deliveries for one registration on its own goroutine.
// Deliveries are run in the order they were posted and never after Remove.
type Listener struct {
	removed atomic.Bool
	once    sync.Once
	detach  func()

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
}

// NewListener starts a delivery goroutine. detach runs once on Remove.
func NewListener(detach func()) *Listener {
	l := &Listener{
		detach: detach,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Deliver queues fn behind every earlier delivery.
func (l *Listener) Deliver(fn func()) {
	if l.removed.Load() {
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Removed reports whether the registration was removed.
func (l *Listener) Removed() bool { return l.removed.Load() }

// Remove stops deliveries. A delivery already running completes.
func (l *Listener) Remove() {
	l.once.Do(func() {
		l.removed.Store(true)
		close(l.done)
		if l.detach != nil {
			l.detach()
		}
	})
}

func (l *Listener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.pending) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.pending[0]
			l.pending[0] = nil
			l.pending = l.pending[1:]
			l.mu.Unlock()

			if l.removed.Load() {
				return
			}
			fn()
		}
	}
}
