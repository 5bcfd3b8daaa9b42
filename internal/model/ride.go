package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrides/internal/domain"
	"eventrides/internal/notify"
	"eventrides/internal/store"
)

const sourceRide = "ride"

// RideState is a point-in-time copy of a ride's cached fields.
type RideState struct {
	UID           string            `json:"uid"`
	Exists        bool              `json:"exists"`
	Status        domain.RideStatus `json:"status"`
	Rider         domain.Person     `json:"rider"`
	Driver        *domain.Person    `json:"driver,omitempty"`
	Event         domain.EventInfo  `json:"event"`
	Pickup        domain.Location   `json:"pickup"`
	TimeOfRequest time.Time         `json:"timeOfRequest"`
}

// Ride mirrors rides/{uid}.
type Ride struct {
	ref    store.Ref
	st     store.Store
	logger *slog.Logger
	c      *cache[*Ride]

	mu    sync.RWMutex
	state RideState
}

// NewRide returns an unattached mirror of ref. Nothing is read until the
// first Subscribe or Fetch.
func NewRide(st store.Store, ref store.Ref, logger *slog.Logger) *Ride {
	r := &Ride{
		ref:    ref,
		st:     st,
		logger: logger.With("ride", ref.ID()),
		state:  RideState{UID: ref.ID()},
	}
	r.c = newCache("ride", r, r.logger, []string{sourceRide}, func() []store.Registration {
		return []store.Registration{st.ListenDocument(ref, r.onSnapshot)}
	})
	return r
}

// Ref returns the ride document reference.
func (r *Ride) Ref() store.Ref { return r.ref }

// UID returns the ride id.
func (r *Ride) UID() string { return r.ref.ID() }

// State returns a copy of the cached fields.
func (r *Ride) State() RideState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	if s.Driver != nil {
		d := *s.Driver
		s.Driver = &d
	}
	return s
}

// Subscribe registers fn for change events, attaching the remote listener on
// first use. A late subscriber immediately receives the current state.
func (r *Ride) Subscribe(fn func(*Ride)) *notify.Subscription[*Ride] { return r.c.subscribe(fn) }

// OnGone registers fn for deletion of the ride document.
func (r *Ride) OnGone(fn func(*Ride)) *notify.Subscription[*Ride] { return r.c.onGone(fn) }

// Fetch attaches the listener, or re-emits the current state when attached.
func (r *Ride) Fetch() { r.c.fetch() }

// Ready is closed once the first snapshot was applied.
func (r *Ride) Ready() <-chan struct{} { return r.c.ready }

// Close detaches the listener and drops every observer.
func (r *Ride) Close() { r.c.close() }

func (r *Ride) onSnapshot(snap *store.Snapshot, err error) {
	if !r.c.active() {
		return
	}
	if err != nil {
		r.c.listenError(sourceRide, err)
		return
	}

	r.mu.Lock()
	if snap.Exists() {
		r.state.Exists = true
		mergeRide(&r.state, snap.Data())
	} else {
		r.state = RideState{UID: r.ref.ID()}
	}
	r.mu.Unlock()

	r.c.applied(sourceRide, !snap.Exists())
}

// mergeRide copies every well-formed field present in d into s. Fields
// missing from d keep their cached values.
func mergeRide(s *RideState, d store.Data) {
	if v, ok := store.Int(d, fieldStatus); ok && domain.RideStatus(v).Valid() {
		s.Status = domain.RideStatus(v)
	}
	if ref, name, ok := reference(d, fieldRider, fieldDisplayName); ok {
		s.Rider = domain.Person{UID: ref.ID(), DisplayName: name}
	}
	if ref, name, ok := reference(d, fieldDriver, fieldDisplayName); ok {
		s.Driver = &domain.Person{UID: ref.ID(), DisplayName: name}
	}
	if ref, title, ok := reference(d, fieldEvent, fieldTitle); ok {
		s.Event = domain.EventInfo{UID: ref.ID(), Title: title}
	}
	if loc, ok := location(d, fieldPickupLocation); ok {
		s.Pickup = loc
	}
	if t, ok := store.Time(d, fieldTimeOfRequest); ok {
		s.TimeOfRequest = t
	}
}

func location(d store.Data, key string) (domain.Location, bool) {
	if g, ok := store.Geo(d, key); ok {
		return domain.Location{Lat: g.Lat, Lon: g.Lon}, true
	}
	m, ok := store.Map(d, key)
	if !ok {
		return domain.Location{}, false
	}
	lat, latOK := store.Float(m, "lat")
	lon, lonOK := store.Float(m, "lon")
	return domain.Location{Lat: lat, Lon: lon}, latOK && lonOK
}

// CreateRide queues a ride request for rider at event. The ride document, the
// rider's ride relation and the queue stub commit together and share one
// server-assigned request time.
func CreateRide(ctx context.Context, st store.Store, rider domain.Person, event domain.EventInfo, loc domain.Location) (store.Ref, error) {
	if !loc.Valid() {
		return store.Ref{}, ErrInvalidLocation
	}
	rideRef := store.Collection(RidesCollection).NewDoc()
	riderRef := UserRef(rider.UID)
	eventRef := EventRef(event.UID)

	err := st.Batch().
		Set(rideRef, store.Data{
			fieldRider:          personData(riderRef, rider.DisplayName),
			fieldEvent:          titledData(eventRef, event.Title),
			fieldPickupLocation: store.GeoPoint{Lat: loc.Lat, Lon: loc.Lon},
			fieldStatus:         int64(domain.RideStatusQueued),
			fieldTimeOfRequest:  store.ServerTimestamp,
		}).
		Set(riderRef, store.Data{fieldRide: rideRef}, store.Merge).
		Set(QueueRef(event.UID, rideRef.ID()), store.Data{
			fieldReference:        rideRef,
			fieldRiderDisplayName: rider.DisplayName,
			fieldRiderReference:   riderRef,
			fieldTimeOfRequest:    store.ServerTimestamp,
		}).
		Commit(ctx)
	if err != nil {
		return store.Ref{}, fmt.Errorf("create ride: %w", err)
	}
	return rideRef, nil
}

// CancelRequest deletes the ride, the rider's ride relation and both event
// stubs in one transaction, whatever the current status. An assigned driver
// whose drive relation points at the ride is released in the same write.
// eventUID may be empty, in which case the cached event is used, then the
// stored one.
func (r *Ride) CancelRequest(ctx context.Context, riderUID, eventUID string) error {
	if eventUID == "" {
		eventUID = r.State().Event.UID
	}

	err := r.st.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		evt := eventUID
		snap, err := tx.Get(r.ref)
		if err != nil {
			return err
		}
		if snap.Exists() {
			data := snap.Data()
			if evt == "" {
				ref, _, ok := reference(data, fieldEvent, fieldTitle)
				if !ok {
					return fmt.Errorf("event reference: %w", ErrMalformedDocument)
				}
				evt = ref.ID()
			}
			if driverRef, _, ok := reference(data, fieldDriver, fieldDisplayName); ok {
				driver, err := tx.Get(driverRef)
				if err != nil {
					return err
				}
				if drive, _ := store.RefValue(driver.Data(), fieldDrive); drive == r.ref {
					tx.Set(driverRef, store.Data{fieldDrive: store.Delete}, store.Merge)
				}
			}
		}
		if evt == "" {
			return ErrRideNotFound
		}

		tx.Delete(r.ref)
		tx.Set(UserRef(riderUID), store.Data{fieldRide: store.Delete}, store.Merge)
		tx.Delete(QueueRef(evt, r.UID()))
		tx.Delete(ActiveRef(evt, r.UID()))
		eventUID = evt
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel ride %s: %w", r.UID(), err)
	}
	r.logger.Info("ride cancelled", "event", eventUID)
	return nil
}

// MarkConnected moves an accepted ride to connected on both the ride document
// and its active stub. Only the assigned driver may do so.
func (r *Ride) MarkConnected(ctx context.Context, driverUID string) error {
	err := r.st.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		snap, err := tx.Get(r.ref)
		if err != nil {
			return err
		}
		if !snap.Exists() {
			return ErrRideNotFound
		}
		data := snap.Data()

		status, ok := store.Int(data, fieldStatus)
		if !ok {
			return fmt.Errorf("status: %w", ErrMalformedDocument)
		}
		if !domain.RideStatus(status).CanTransitionTo(domain.RideStatusConnected) {
			return fmt.Errorf("%v to %v: %w", domain.RideStatus(status), domain.RideStatusConnected, ErrInvalidTransition)
		}
		driverRef, _, ok := reference(data, fieldDriver, fieldDisplayName)
		if !ok || driverRef.ID() != driverUID {
			return ErrNotAssignedDriver
		}
		eventRef, _, ok := reference(data, fieldEvent, fieldTitle)
		if !ok {
			return fmt.Errorf("event reference: %w", ErrMalformedDocument)
		}

		update := store.Data{fieldStatus: int64(domain.RideStatusConnected)}
		tx.Set(r.ref, update, store.Merge)
		tx.Set(ActiveRef(eventRef.ID(), r.UID()), update, store.Merge)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark ride %s connected: %w", r.UID(), err)
	}
	return nil
}

// LoadRide reads rides/{uid} once without attaching a listener.
func LoadRide(ctx context.Context, st store.Store, uid string) (RideState, error) {
	snap, err := st.Get(ctx, RideRef(uid))
	if err != nil {
		return RideState{}, fmt.Errorf("load ride %s: %w", uid, err)
	}
	if !snap.Exists() {
		return RideState{}, fmt.Errorf("load ride %s: %w", uid, ErrRideNotFound)
	}
	s := RideState{UID: uid, Exists: true}
	mergeRide(&s, snap.Data())
	return s, nil
}

// DetachRider clears the ride relation of riderUID without touching any ride
// document. It repairs a relation left pointing at a deleted ride.
func DetachRider(ctx context.Context, st store.Store, riderUID string) error {
	err := st.Batch().
		Set(UserRef(riderUID), store.Data{fieldRide: store.Delete}, store.Merge).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("detach rider %s: %w", riderUID, err)
	}
	return nil
}

// DetachDriver clears the drive relation of driverUID. It repairs a relation
// left pointing at a deleted ride.
func DetachDriver(ctx context.Context, st store.Store, driverUID string) error {
	err := st.Batch().
		Set(UserRef(driverUID), store.Data{fieldDrive: store.Delete}, store.Merge).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("detach driver %s: %w", driverUID, err)
	}
	return nil
}
