package tests

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"eventrides/internal/logging"
	"eventrides/internal/model"
	"eventrides/internal/service"
	"eventrides/internal/store"
	"eventrides/internal/store/memory"
)

var errRedisDown = errors.New("redis down")

type harness struct {
	st        *memory.Store
	events    *service.EventDirectory
	rides     *service.RideService
	drives    *service.DriveService
	pickups   *MockPickupIndex
	publisher *MockPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var tick atomic.Int64
	base := time.Date(2026, 4, 2, 21, 0, 0, 0, time.UTC)
	st := memory.New(memory.WithClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}))
	logger := logging.Discard()
	events := service.NewEventDirectory(st, logger)
	t.Cleanup(events.Close)
	pickups := NewMockPickupIndex()
	publisher := NewMockPublisher()
	notifications := service.NewNotificationService(publisher, logger)
	return &harness{
		st:        st,
		events:    events,
		rides:     service.NewRideService(st, events, pickups, notifications, logger),
		drives:    service.NewDriveService(st, events, pickups, notifications, logger),
		pickups:   pickups,
		publisher: publisher,
	}
}

func (h *harness) seedEvent(t *testing.T, uid, title string) {
	t.Helper()
	if err := h.st.Set(context.Background(), model.EventRef(uid), store.Data{"title": title}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
}

func (h *harness) relations(t *testing.T, uid string) model.Relations {
	t.Helper()
	rel, err := model.LoadRelations(context.Background(), h.st, uid)
	if err != nil {
		t.Fatalf("load relations: %v", err)
	}
	return rel
}

// waitQueue blocks until the directory's mirror of eventUID shows n waiting rides.
func (h *harness) waitQueue(t *testing.T, eventUID string, n int) {
	t.Helper()
	event, err := h.events.Get(context.Background(), eventUID)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "queue length", func() bool { return len(event.State().RideQueue) == n })
}

// waitRoster blocks until the directory's mirror of eventUID lists driverUID.
func (h *harness) waitRoster(t *testing.T, eventUID, driverUID string) {
	t.Helper()
	event, err := h.events.Get(context.Background(), eventUID)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "roster", func() bool { return event.HasDriver(driverUID) })
}

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
