package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventrides/internal/domain"
	"eventrides/internal/store"
	"eventrides/internal/store/memory"
)

func TestCreateRideRoundTrip(t *testing.T) {
	now := time.Date(2026, 4, 2, 21, 30, 0, 0, time.UTC)
	st := memory.New(memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Spring Formal")

	rider := domain.Person{UID: "R", DisplayName: "Riley"}
	loc := domain.Location{Lat: 40.1106, Lon: -88.2073}
	ref, err := CreateRide(ctx, st, rider, domain.EventInfo{UID: "evt1", Title: "Spring Formal"}, loc)
	if err != nil {
		t.Fatalf("CreateRide: %v", err)
	}

	data := mustGet(t, st, ref).Data()
	if status, ok := store.Int(data, fieldStatus); !ok || domain.RideStatus(status) != domain.RideStatusQueued {
		t.Errorf("status = %v", status)
	}
	if r, name, _ := reference(data, fieldRider, fieldDisplayName); r != UserRef("R") || name != "Riley" {
		t.Errorf("rider = %v %q", r, name)
	}
	if e, title, _ := reference(data, fieldEvent, fieldTitle); e != EventRef("evt1") || title != "Spring Formal" {
		t.Errorf("event = %v %q", e, title)
	}
	if got, _ := location(data, fieldPickupLocation); got != loc {
		t.Errorf("pickup = %v, want %v", got, loc)
	}
	rideTime, _ := store.Time(data, fieldTimeOfRequest)
	if !rideTime.Equal(now) {
		t.Errorf("timeOfRequest = %v", rideTime)
	}

	stub := mustGet(t, st, QueueRef("evt1", ref.ID())).Data()
	if stubTime, _ := store.Time(stub, fieldTimeOfRequest); !stubTime.Equal(rideTime) {
		t.Errorf("stub time %v differs from ride time %v", stubTime, rideTime)
	}
	if r, _ := store.RefValue(stub, fieldReference); r != ref {
		t.Errorf("stub reference = %v", r)
	}

	user := NewUser(st, "R", testLogger)
	defer user.Close()
	changes := make(chan *User, 8)
	user.Subscribe(func(u *User) { changes <- u })
	eventually(t, "user ride relation", func() bool {
		r := user.Ride()
		return r != nil && r.Ref() == ref
	})
	assertExclusive(t, st, "evt1")
}

func TestCreateRideRejectsBadLocation(t *testing.T) {
	st := newStore()
	_, err := CreateRide(context.Background(), st, domain.Person{UID: "R"}, domain.EventInfo{UID: "evt1"}, domain.Location{Lat: 123})
	if !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
	if docs, _ := st.Query(context.Background(), store.Collection(RidesCollection).All()); len(docs) != 0 {
		t.Error("invalid request wrote a ride")
	}
}

func TestCreateRideUnavailableWritesNothing(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	st.FailNext(errors.New("network down"))
	_, err := CreateRide(ctx, st, domain.Person{UID: "R"}, domain.EventInfo{UID: "evt1"}, domain.Location{Lat: 1, Lon: 1})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if mustGet(t, st, UserRef("R")).Exists() || len(queueIDs(t, st, "evt1")) != 0 {
		t.Error("failed batch left partial writes")
	}
}

func TestCancelQueuedRide(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Cancel")
	ref, err := CreateRide(ctx, st, domain.Person{UID: "R", DisplayName: "Riley"}, domain.EventInfo{UID: "evt1"}, domain.Location{Lat: 1, Lon: 2})
	if err != nil {
		t.Fatal(err)
	}

	ride := NewRide(st, ref, testLogger)
	if err := ride.CancelRequest(ctx, "R", "evt1"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if mustGet(t, st, ref).Exists() {
		t.Error("ride document not deleted")
	}
	if _, ok := store.RefValue(mustGet(t, st, UserRef("R")).Data(), fieldRide); ok {
		t.Error("rider relation not cleared")
	}
	if ids := queueIDs(t, st, "evt1"); len(ids) != 0 {
		t.Errorf("queue = %v", ids)
	}
}

func TestCancelAcceptedRideResolvesEventFromStore(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Cancel")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	event := NewEvent(st, EventRef("evt1"), testLogger)
	if _, err := event.AssignRide(ctx, domain.Person{UID: "D"}, "rideA"); err != nil {
		t.Fatal(err)
	}

	ride := NewRide(st, RideRef("rideA"), testLogger)
	if err := ride.CancelRequest(ctx, "R", ""); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	for _, ref := range []store.Ref{RideRef("rideA"), ActiveRef("evt1", "rideA"), QueueRef("evt1", "rideA")} {
		if mustGet(t, st, ref).Exists() {
			t.Errorf("%s should be deleted", ref)
		}
	}
	assertExclusive(t, st, "evt1")
}

func TestCancelAcceptedRideReleasesDriver(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Cancel")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	seedQueuedRide(t, st, "evt1", "rideB", "Q", t20)
	event := NewEvent(st, EventRef("evt1"), testLogger)
	if _, err := event.AssignRide(ctx, domain.Person{UID: "D"}, "rideA"); err != nil {
		t.Fatal(err)
	}

	if err := NewRide(st, RideRef("rideA"), testLogger).CancelRequest(ctx, "R", "evt1"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if ref, ok := store.RefValue(mustGet(t, st, UserRef("D")).Data(), fieldDrive); ok {
		t.Fatalf("driver still holds drive %s", ref)
	}

	ref, err := event.AssignRide(ctx, domain.Person{UID: "D"}, "rideB")
	if err != nil {
		t.Fatalf("AssignRide after cancel: %v", err)
	}
	if ref != RideRef("rideB") {
		t.Errorf("assigned %s, want rideB", ref)
	}
}

func TestCancelAcceptedRideKeepsOtherDrive(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Cancel")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	event := NewEvent(st, EventRef("evt1"), testLogger)
	if _, err := event.AssignRide(ctx, domain.Person{UID: "D"}, "rideA"); err != nil {
		t.Fatal(err)
	}
	// The driver has since moved on to another ride.
	if err := st.Batch().Set(UserRef("D"), store.Data{fieldDrive: RideRef("rideZ")}, store.Merge).Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if err := NewRide(st, RideRef("rideA"), testLogger).CancelRequest(ctx, "R", ""); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if ref, _ := store.RefValue(mustGet(t, st, UserRef("D")).Data(), fieldDrive); ref != RideRef("rideZ") {
		t.Errorf("drive = %v, want rideZ", ref)
	}
}

func TestCancelMissingRideWithoutHint(t *testing.T) {
	st := newStore()
	ride := NewRide(st, RideRef("nope"), testLogger)
	err := ride.CancelRequest(context.Background(), "R", "")
	if !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestMarkConnected(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Connect")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	ride := NewRide(st, RideRef("rideA"), testLogger)

	if err := ride.MarkConnected(ctx, "D"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("queued ride: expected ErrInvalidTransition, got %v", err)
	}

	event := NewEvent(st, EventRef("evt1"), testLogger)
	if _, err := event.AssignRide(ctx, domain.Person{UID: "D"}, "rideA"); err != nil {
		t.Fatal(err)
	}
	if err := ride.MarkConnected(ctx, "other"); !errors.Is(err, ErrNotAssignedDriver) {
		t.Fatalf("expected ErrNotAssignedDriver, got %v", err)
	}
	if err := ride.MarkConnected(ctx, "D"); err != nil {
		t.Fatalf("MarkConnected: %v", err)
	}

	for _, ref := range []store.Ref{RideRef("rideA"), ActiveRef("evt1", "rideA")} {
		status, _ := store.Int(mustGet(t, st, ref).Data(), fieldStatus)
		if domain.RideStatus(status) != domain.RideStatusConnected {
			t.Errorf("%s status = %v", ref, domain.RideStatus(status))
		}
	}
	if err := event.EndDrive(ctx, "D", "rideA"); err != nil {
		t.Errorf("EndDrive from connected: %v", err)
	}
}

func TestSubscribeAttachesOnce(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Once")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	ride := NewRide(st, RideRef("rideA"), testLogger)
	defer ride.Close()

	before := st.Listens()
	var mu sync.Mutex
	var first, second []domain.RideStatus
	ride.Subscribe(func(r *Ride) {
		mu.Lock()
		first = append(first, r.State().Status)
		mu.Unlock()
	})
	waitReady(t, ride.Ready())
	ride.Subscribe(func(r *Ride) {
		mu.Lock()
		second = append(second, r.State().Status)
		mu.Unlock()
	})
	ride.Fetch()

	if got := st.Listens() - before; got != 1 {
		t.Fatalf("attached %d listeners, want 1", got)
	}

	event := NewEvent(st, EventRef("evt1"), testLogger)
	if _, err := event.AssignRide(ctx, domain.Person{UID: "D"}, "rideA"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "accepted status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) > 0 && first[len(first)-1] == domain.RideStatusAccepted &&
			len(second) > 0 && second[len(second)-1] == domain.RideStatusAccepted
	})

	mu.Lock()
	defer mu.Unlock()
	// first: initial, fetch re-emit, accepted. second: replay, fetch re-emit, accepted.
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("first=%v second=%v", first, second)
	}
	if first[2] != second[2] || first[1] != second[1] {
		t.Errorf("subscribers saw different events: %v vs %v", first, second)
	}
	if st.Listens()-before != 1 {
		t.Error("later activity attached another listener")
	}
}

func TestLateSubscriberAfterCloseIsNotAttached(t *testing.T) {
	st := newStore()
	ride := NewRide(st, RideRef("rideA"), testLogger)
	ride.Close()
	before := st.Listens()
	ride.Subscribe(func(*Ride) { t.Error("closed ride notified") })
	ride.Fetch()
	if st.Listens() != before {
		t.Error("closed ride attached a listener")
	}
}

func TestRideGoneClearsFields(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	seedEvent(t, st, "evt1", "Gone")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	ride := NewRide(st, RideRef("rideA"), testLogger)
	defer ride.Close()
	ride.Fetch()
	waitReady(t, ride.Ready())
	if ride.State().Rider.UID != "R" {
		t.Fatalf("state = %+v", ride.State())
	}

	gone := make(chan struct{}, 1)
	ride.OnGone(func(*Ride) { gone <- struct{}{} })
	if err := ride.CancelRequest(ctx, "R", "evt1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("no gone event")
	}
	if s := ride.State(); s.Exists || s.Rider.UID != "" {
		t.Errorf("fields not cleared: %+v", s)
	}
}

// erroringStore hands listener callbacks to the test so it can inject errors.
type erroringStore struct {
	*memory.Store
	mu  sync.Mutex
	fns []func(*store.Snapshot, error)
}

func (s *erroringStore) ListenDocument(ref store.Ref, fn func(*store.Snapshot, error)) store.Registration {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
	return s.Store.ListenDocument(ref, fn)
}

func (s *erroringStore) fail(err error) {
	s.mu.Lock()
	fns := append(([]func(*store.Snapshot, error))(nil), s.fns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(nil, err)
	}
}

func TestListenerErrorKeepsCachedState(t *testing.T) {
	st := &erroringStore{Store: newStore()}
	seedEvent(t, st, "evt1", "Errors")
	seedQueuedRide(t, st, "evt1", "rideA", "R", t10)
	ride := NewRide(st, RideRef("rideA"), testLogger)
	defer ride.Close()
	ride.Fetch()
	waitReady(t, ride.Ready())

	calls := 0
	ride.Subscribe(func(*Ride) { calls++ })
	calls = 0

	st.fail(errors.New("permission denied"))

	if s := ride.State(); !s.Exists || s.Rider.UID != "R" {
		t.Errorf("listener error changed state: %+v", s)
	}
	if calls != 0 {
		t.Errorf("listener error notified observers %d times", calls)
	}
}
