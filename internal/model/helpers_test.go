package model

import (
	"context"
	"testing"
	"time"

	"eventrides/internal/domain"
	"eventrides/internal/logging"
	"eventrides/internal/store"
	"eventrides/internal/store/memory"
)

var testLogger = logging.Discard()

func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func waitReady(t *testing.T, ready <-chan struct{}) {
	t.Helper()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first snapshots")
	}
}

func mustGet(t *testing.T, st store.Store, ref store.Ref) *store.Snapshot {
	t.Helper()
	snap, err := st.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("get %s: %v", ref, err)
	}
	return snap
}

func seedEvent(t *testing.T, st store.Store, uid, title string) {
	t.Helper()
	err := st.Batch().Set(EventRef(uid), store.Data{fieldTitle: title}).Commit(context.Background())
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
}

// seedQueuedRide writes a queued ride and its queue stub with an explicit request time.
func seedQueuedRide(t *testing.T, st store.Store, eventUID, rideUID, riderUID string, at time.Time) {
	t.Helper()
	rideRef := RideRef(rideUID)
	riderRef := UserRef(riderUID)
	err := st.Batch().
		Set(rideRef, store.Data{
			fieldRider:          personData(riderRef, "Rider "+riderUID),
			fieldEvent:          titledData(EventRef(eventUID), "Event "+eventUID),
			fieldPickupLocation: store.GeoPoint{Lat: 40.1, Lon: -88.2},
			fieldStatus:         int64(domain.RideStatusQueued),
			fieldTimeOfRequest:  at,
		}).
		Set(riderRef, store.Data{fieldRide: rideRef}, store.Merge).
		Set(QueueRef(eventUID, rideUID), store.Data{
			fieldReference:        rideRef,
			fieldRiderDisplayName: "Rider " + riderUID,
			fieldRiderReference:   riderRef,
			fieldTimeOfRequest:    at,
		}).
		Commit(context.Background())
	if err != nil {
		t.Fatalf("seed ride: %v", err)
	}
}

func newReadyEvent(t *testing.T, st store.Store, uid string) *Event {
	t.Helper()
	e := NewEvent(st, EventRef(uid), testLogger)
	e.Fetch()
	t.Cleanup(e.Close)
	waitReady(t, e.Ready())
	return e
}

// assertExclusive checks no ride is both queued and active under the event.
func assertExclusive(t *testing.T, st store.Store, eventUID string) {
	t.Helper()
	ctx := context.Background()
	queued, err := st.Query(ctx, QueueQuery(eventUID))
	if err != nil {
		t.Fatal(err)
	}
	active, err := st.Query(ctx, EventRef(eventUID).Collection(ActiveRidesCollection).All())
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, d := range queued {
		seen[d.Ref.ID()] = true
	}
	for _, d := range active {
		if seen[d.Ref.ID()] {
			t.Errorf("ride %s is both queued and active", d.Ref.ID())
		}
	}
}

func queueIDs(t *testing.T, st store.Store, eventUID string) []string {
	t.Helper()
	docs, err := st.Query(context.Background(), QueueQuery(eventUID))
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.Ref.ID())
	}
	return ids
}

func newStore() *memory.Store {
	return memory.New()
}
