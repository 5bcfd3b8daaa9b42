package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrides/internal/domain"
	"eventrides/internal/notify"
	"eventrides/internal/observability"
	"eventrides/internal/store"
)

const (
	sourceEvent       = "event"
	sourceRideQueue   = "rideQueue"
	sourceActiveRides = "activeRides"
	sourceDrivers     = "drivers"
)

// Organization is the event's owning organization. The pointer is kept across
// snapshots while its reference is unchanged.
type Organization struct {
	UID   string    `json:"uid"`
	Title string    `json:"title"`
	Ref   store.Ref `json:"-"`
}

// EventState is a point-in-time copy of an event's cached fields.
type EventState struct {
	UID          string              `json:"uid"`
	Exists       bool                `json:"exists"`
	Title        string              `json:"title"`
	Organization *Organization       `json:"organization,omitempty"`
	RideQueue    []domain.QueueEntry `json:"rideQueue"`
	ActiveRides  []domain.ActiveRide `json:"activeRides"`
	Drivers      []domain.Driver     `json:"drivers"`
}

// Event mirrors events/{uid} and its rideQueue, activeRides and drivers
// collections.
type Event struct {
	ref    store.Ref
	st     store.Store
	logger *slog.Logger
	c      *cache[*Event]

	mu      sync.RWMutex
	exists  bool
	title   string
	org     *Organization
	queue   []domain.QueueEntry
	active  []domain.ActiveRide
	drivers []domain.Driver
}

// NewEvent returns an unattached mirror of ref.
func NewEvent(st store.Store, ref store.Ref, logger *slog.Logger) *Event {
	e := &Event{
		ref:    ref,
		st:     st,
		logger: logger.With("event", ref.ID()),
	}
	sources := []string{sourceEvent, sourceRideQueue, sourceActiveRides, sourceDrivers}
	e.c = newCache("event", e, e.logger, sources, func() []store.Registration {
		return []store.Registration{
			st.ListenDocument(ref, e.onEvent),
			st.ListenQuery(QueueQuery(ref.ID()), e.onQueue),
			st.ListenQuery(ref.Collection(ActiveRidesCollection).All(), e.onActive),
			st.ListenQuery(ref.Collection(DriversCollection).All(), e.onDrivers),
		}
	})
	return e
}

// Ref returns the event document reference.
func (e *Event) Ref() store.Ref { return e.ref }

// UID returns the event id.
func (e *Event) UID() string { return e.ref.ID() }

// Info returns the event reference with its cached title.
func (e *Event) Info() domain.EventInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.EventInfo{UID: e.ref.ID(), Title: e.title}
}

// Exists reports whether the event document was last seen to exist.
func (e *Event) Exists() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exists
}

// Organization returns the cached organization sub-entity.
func (e *Event) Organization() *Organization {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.org
}

// State returns a copy of the cached fields.
func (e *Event) State() EventState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EventState{
		UID:          e.ref.ID(),
		Exists:       e.exists,
		Title:        e.title,
		Organization: e.org,
		RideQueue:    append([]domain.QueueEntry(nil), e.queue...),
		ActiveRides:  append([]domain.ActiveRide(nil), e.active...),
		Drivers:      append([]domain.Driver(nil), e.drivers...),
	}
}

// Head returns the oldest waiting ride in the cached queue.
func (e *Event) Head() (domain.QueueEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.queue) == 0 {
		return domain.QueueEntry{}, false
	}
	return e.queue[0], true
}

// HasDriver reports whether uid is on the cached roster.
func (e *Event) HasDriver(uid string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.drivers {
		if d.UID == uid {
			return true
		}
	}
	return false
}

// Subscribe registers fn for change events, attaching the listeners on first use.
func (e *Event) Subscribe(fn func(*Event)) *notify.Subscription[*Event] { return e.c.subscribe(fn) }

// OnGone registers fn for deletion of the event document.
func (e *Event) OnGone(fn func(*Event)) *notify.Subscription[*Event] { return e.c.onGone(fn) }

// Fetch attaches the listeners, or re-emits the current state when attached.
func (e *Event) Fetch() { e.c.fetch() }

// Ready is closed once every listener delivered its first snapshot.
func (e *Event) Ready() <-chan struct{} { return e.c.ready }

// Close detaches the listeners and drops every observer.
func (e *Event) Close() { e.c.close() }

func (e *Event) onEvent(snap *store.Snapshot, err error) {
	if !e.c.active() {
		return
	}
	if err != nil {
		e.c.listenError(sourceEvent, err)
		return
	}

	e.mu.Lock()
	if snap.Exists() {
		e.exists = true
		data := snap.Data()
		if title, ok := store.String(data, fieldTitle); ok {
			e.title = title
		}
		if ref, title, ok := reference(data, fieldOrganization, fieldTitle); ok {
			if e.org == nil || e.org.Ref != ref {
				e.org = &Organization{UID: ref.ID(), Title: title, Ref: ref}
			}
		}
	} else {
		e.exists = false
		e.title = ""
		e.org = nil
		e.queue = nil
		e.active = nil
		e.drivers = nil
	}
	e.mu.Unlock()

	e.c.applied(sourceEvent, !snap.Exists())
}

func (e *Event) onQueue(qs *store.QuerySnapshot, err error) {
	if !e.c.active() {
		return
	}
	if err != nil {
		e.c.listenError(sourceRideQueue, err)
		return
	}

	queue := make([]domain.QueueEntry, 0, len(qs.Docs))
	for _, doc := range qs.Docs {
		d := doc.Data()
		entry := domain.QueueEntry{RideUID: doc.Ref.ID()}
		entry.RiderDisplayName, _ = store.String(d, fieldRiderDisplayName)
		if ref, ok := store.RefValue(d, fieldRiderReference); ok {
			entry.RiderUID = ref.ID()
		}
		entry.TimeOfRequest, _ = store.Time(d, fieldTimeOfRequest)
		queue = append(queue, entry)
	}

	e.mu.Lock()
	e.queue = queue
	e.mu.Unlock()
	e.c.applied(sourceRideQueue, false)
}

func (e *Event) onActive(qs *store.QuerySnapshot, err error) {
	if !e.c.active() {
		return
	}
	if err != nil {
		e.c.listenError(sourceActiveRides, err)
		return
	}

	active := make([]domain.ActiveRide, 0, len(qs.Docs))
	for _, doc := range qs.Docs {
		var s RideState
		mergeRide(&s, doc.Data())
		ride := domain.ActiveRide{
			RideUID:       doc.Ref.ID(),
			Status:        s.Status,
			Rider:         s.Rider,
			Pickup:        s.Pickup,
			TimeOfRequest: s.TimeOfRequest,
		}
		if s.Driver != nil {
			ride.Driver = *s.Driver
		}
		active = append(active, ride)
	}

	e.mu.Lock()
	e.active = active
	e.mu.Unlock()
	e.c.applied(sourceActiveRides, false)
}

func (e *Event) onDrivers(qs *store.QuerySnapshot, err error) {
	if !e.c.active() {
		return
	}
	if err != nil {
		e.c.listenError(sourceDrivers, err)
		return
	}

	drivers := make([]domain.Driver, 0, len(qs.Docs))
	for _, doc := range qs.Docs {
		name, _ := store.String(doc.Data(), fieldDisplayName)
		drivers = append(drivers, domain.Driver{UID: doc.Ref.ID(), DisplayName: name})
	}

	e.mu.Lock()
	e.drivers = drivers
	e.mu.Unlock()
	e.c.applied(sourceDrivers, false)
}

// AddDriver puts driver on the roster and points their driveFor relation here.
func (e *Event) AddDriver(ctx context.Context, driver domain.Person) error {
	userRef := UserRef(driver.UID)
	err := e.st.Batch().
		Set(RosterRef(e.UID(), driver.UID), personData(userRef, driver.DisplayName)).
		Set(userRef, store.Data{fieldDriveFor: e.ref}, store.Merge).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("add driver %s: %w", driver.UID, err)
	}
	e.logger.Info("driver added", "driver", driver.UID)
	return nil
}

// StopDriving removes the driver from the roster and clears driveFor.
func (e *Event) StopDriving(ctx context.Context, driverUID string) error {
	err := e.st.Batch().
		Delete(RosterRef(e.UID(), driverUID)).
		Set(UserRef(driverUID), store.Data{fieldDriveFor: store.Delete}, store.Merge).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("stop driving %s: %w", driverUID, err)
	}
	e.logger.Info("driver removed", "driver", driverUID)
	return nil
}

// AssignNextRider assigns the head of the cached queue to driver. An empty
// queue returns ok == false and no error.
func (e *Event) AssignNextRider(ctx context.Context, driver domain.Person) (ride store.Ref, ok bool, err error) {
	head, ok := e.Head()
	if !ok {
		observability.AssignmentsTotal.WithLabelValues(observability.OutcomeEmpty).Inc()
		return store.Ref{}, false, nil
	}
	ride, err = e.AssignRide(ctx, driver, head.RideUID)
	if err != nil {
		return store.Ref{}, false, err
	}
	return ride, true, nil
}

// AssignRide moves rideUID from the queue to the active set for driver in one
// transaction. The queue stub and ride are re-read inside the transaction and
// the stub must still be the head of the queue; otherwise ErrStaleQueueEntry
// is returned and nothing is written.
func (e *Event) AssignRide(ctx context.Context, driver domain.Person, rideUID string) (store.Ref, error) {
	start := time.Now()
	stubRef := QueueRef(e.UID(), rideUID)
	driverRef := UserRef(driver.UID)
	var rideRef store.Ref

	err := e.st.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		stub, err := tx.Get(stubRef)
		if err != nil {
			return err
		}
		if !stub.Exists() {
			return ErrStaleQueueEntry
		}
		stubData := stub.Data()
		ref, ok := store.RefValue(stubData, fieldReference)
		if !ok {
			return fmt.Errorf("queue entry reference: %w", ErrMalformedDocument)
		}

		heads, err := tx.Query(QueueQuery(e.UID()).WithLimit(1))
		if err != nil {
			return err
		}
		if len(heads) == 0 || heads[0].Ref != stubRef {
			return fmt.Errorf("not at head of queue: %w", ErrStaleQueueEntry)
		}

		user, err := tx.Get(driverRef)
		if err != nil {
			return err
		}
		if _, busy := store.RefValue(user.Data(), fieldDrive); busy {
			return ErrDriverBusy
		}

		rideSnap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !rideSnap.Exists() {
			return fmt.Errorf("ride document missing: %w", ErrStaleQueueEntry)
		}
		rideData := rideSnap.Data()
		eventRef, _, ok := reference(rideData, fieldEvent, fieldTitle)
		if !ok || eventRef != e.ref {
			return fmt.Errorf("ride event reference: %w", ErrMalformedDocument)
		}
		if status, _ := store.Int(rideData, fieldStatus); domain.RideStatus(status) != domain.RideStatusQueued {
			return fmt.Errorf("ride status %v: %w", domain.RideStatus(status), ErrStaleQueueEntry)
		}

		driverData := personData(driverRef, driver.DisplayName)
		active := rideData
		for k, v := range stubData {
			active[k] = v
		}
		active[fieldStatus] = int64(domain.RideStatusAccepted)
		active[fieldDriver] = driverData
		active[fieldDriverDisplayName] = driver.DisplayName
		active[fieldDriverReference] = driverRef

		tx.Delete(stubRef)
		tx.Set(ActiveRef(e.UID(), rideUID), active)
		tx.Set(ref, store.Data{
			fieldStatus: int64(domain.RideStatusAccepted),
			fieldDriver: driverData,
		}, store.Merge)
		tx.Set(driverRef, store.Data{fieldDrive: ref}, store.Merge)
		rideRef = ref
		return nil
	})
	observability.AssignmentLatency.Observe(time.Since(start).Seconds())
	observability.AssignmentsTotal.WithLabelValues(assignmentOutcome(err)).Inc()

	if err != nil {
		if errors.Is(err, ErrMalformedDocument) {
			e.logger.Error("assignment aborted on malformed document", "ride", rideUID, "error", err)
		}
		return store.Ref{}, fmt.Errorf("assign ride %s: %w", rideUID, err)
	}
	e.logger.Info("ride assigned", "ride", rideUID, "driver", driver.UID)
	return rideRef, nil
}

func assignmentOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeAssigned
	case errors.Is(err, ErrStaleQueueEntry):
		return observability.OutcomeStale
	case errors.Is(err, ErrMalformedDocument):
		return observability.OutcomeMalformed
	case errors.Is(err, store.ErrUnavailable):
		return observability.OutcomeUnavailable
	}
	return observability.OutcomeError
}

// EndDrive finishes driverUID's ride: the active stub and ride document are
// deleted and both the driver's drive and the rider's ride relations cleared.
// The ride must be accepted or connected and assigned to the driver.
func (e *Event) EndDrive(ctx context.Context, driverUID, rideUID string) error {
	rideRef := RideRef(rideUID)
	err := e.st.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		snap, err := tx.Get(rideRef)
		if err != nil {
			return err
		}
		if !snap.Exists() {
			return ErrRideNotFound
		}
		data := snap.Data()
		status, _ := store.Int(data, fieldStatus)
		if !domain.RideStatus(status).Active() {
			return fmt.Errorf("status %v: %w", domain.RideStatus(status), ErrRideNotActive)
		}
		driver, _, ok := reference(data, fieldDriver, fieldDisplayName)
		if !ok || driver.ID() != driverUID {
			return ErrNotAssignedDriver
		}

		tx.Delete(ActiveRef(e.UID(), rideUID))
		tx.Delete(rideRef)
		tx.Set(UserRef(driverUID), store.Data{fieldDrive: store.Delete}, store.Merge)
		if rider, _, ok := reference(data, fieldRider, fieldDisplayName); ok {
			tx.Set(rider, store.Data{fieldRide: store.Delete}, store.Merge)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("end drive %s: %w", rideUID, err)
	}
	e.logger.Info("drive ended", "ride", rideUID, "driver", driverUID)
	return nil
}

// CreateEvent writes a new event document owned by org, which may be nil.
func CreateEvent(ctx context.Context, st store.Store, org *Organization, title string) (store.Ref, error) {
	ref := store.Collection(EventsCollection).NewDoc()
	data := store.Data{fieldTitle: title}
	if org != nil {
		orgRef := org.Ref
		if orgRef.IsZero() {
			orgRef = store.Collection(OrganizationsCollection).Doc(org.UID)
		}
		data[fieldOrganization] = titledData(orgRef, org.Title)
	}
	if err := st.Batch().Set(ref, data).Commit(ctx); err != nil {
		return store.Ref{}, fmt.Errorf("create event: %w", err)
	}
	return ref, nil
}
