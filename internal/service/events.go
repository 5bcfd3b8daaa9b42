package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"eventrides/internal/model"
	"eventrides/internal/store"
)

// EventDirectory is the server-owned set of live Event mirrors, keyed by uid.
// A mirror stays attached until its event is deleted or the directory closes.
type EventDirectory struct {
	st     store.Store
	logger *slog.Logger

	mu     sync.Mutex
	events map[string]*entry
}

type entry struct {
	event   *model.Event
	watched sync.Once
}

// NewEventDirectory creates a new EventDirectory.
func NewEventDirectory(st store.Store, logger *slog.Logger) *EventDirectory {
	return &EventDirectory{
		st:     st,
		logger: logger,
		events: make(map[string]*entry),
	}
}

// Get returns the live mirror of event uid once its first snapshots are in.
func (d *EventDirectory) Get(ctx context.Context, uid string) (*model.Event, error) {
	if uid == "" {
		return nil, ErrInvalidEventID
	}

	d.mu.Lock()
	ent, ok := d.events[uid]
	if !ok {
		ent = &entry{event: model.NewEvent(d.st, model.EventRef(uid), d.logger)}
		d.events[uid] = ent
		ent.event.Fetch()
	}
	d.mu.Unlock()
	e := ent.event

	select {
	case <-e.Ready():
	case <-ctx.Done():
		return nil, fmt.Errorf("event %s: %w", uid, ctx.Err())
	}
	if !e.Exists() {
		d.evict(uid, e)
		return nil, fmt.Errorf("event %s: %w", uid, ErrEventNotFound)
	}
	// Watch for deletion only once the event is known to exist; a missing
	// document also reports gone on its first snapshot.
	ent.watched.Do(func() {
		e.OnGone(func(e *model.Event) { go d.evict(e.UID(), e) })
	})
	return e, nil
}

// Create writes a new event and returns its live mirror.
func (d *EventDirectory) Create(ctx context.Context, org *model.Organization, title string) (*model.Event, error) {
	ref, err := model.CreateEvent(ctx, d.st, org, title)
	if err != nil {
		return nil, err
	}
	d.logger.Info("event created", "event", ref.ID(), "title", title)
	return d.Get(ctx, ref.ID())
}

// Len returns the number of attached mirrors.
func (d *EventDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// Close detaches every mirror.
func (d *EventDirectory) Close() {
	d.mu.Lock()
	events := d.events
	d.events = make(map[string]*entry)
	d.mu.Unlock()
	for _, ent := range events {
		ent.event.Close()
	}
}

func (d *EventDirectory) evict(uid string, e *model.Event) {
	d.mu.Lock()
	if ent, ok := d.events[uid]; ok && ent.event == e {
		delete(d.events, uid)
	}
	d.mu.Unlock()
	e.Close()
}
