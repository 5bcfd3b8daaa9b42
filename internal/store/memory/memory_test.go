package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"eventrides/internal/store"
)

var (
	evt1  = store.Collection("events").Doc("evt1")
	queue = evt1.Collection("rideQueue")
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func TestSetGet_ServerTimestampSharedPerCommit(t *testing.T) {
	now := time.Date(2026, 4, 2, 21, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	err := s.Batch().
		Set(queue.Doc("rideA"), store.Data{"timeOfRequest": store.ServerTimestamp}).
		Set(store.Collection("rides").Doc("rideA"), store.Data{"timeOfRequest": store.ServerTimestamp}).
		Commit(ctx)
	assert.Equal(t, err, nil)

	stub, _ := s.Get(ctx, queue.Doc("rideA"))
	ride, _ := s.Get(ctx, store.Collection("rides").Doc("rideA"))
	a, _ := store.Time(stub.Data(), "timeOfRequest")
	b, _ := store.Time(ride.Data(), "timeOfRequest")
	assert.Equal(t, a, now)
	assert.Equal(t, a, b)
}

func TestFailNext_ConsumedByCommitsOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.FailNext(errors.New("network down"))

	_, err := s.Get(ctx, evt1)
	assert.Equal(t, err, nil)

	err = s.Set(ctx, evt1, store.Data{"title": "Formal"})
	assert.Equal(t, errors.Is(err, store.ErrUnavailable), true)
	snap, _ := s.Get(ctx, evt1)
	assert.Equal(t, snap.Exists(), false)

	assert.Equal(t, s.Set(ctx, evt1, store.Data{"title": "Formal"}), nil)
}

func TestBatch_CommitTwice(t *testing.T) {
	s := New()
	b := s.Batch().Set(evt1, store.Data{"title": "x"})
	assert.Equal(t, b.Commit(context.Background()), nil)
	assert.Equal(t, b.Commit(context.Background()), store.ErrCommitted)
}

func TestRunTransaction_RetriesOnConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.Equal(t, s.Set(ctx, evt1, store.Data{"count": int64(0)}), nil)

	raced := false
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		snap, err := tx.Get(evt1)
		if err != nil {
			return err
		}
		n, _ := store.Int(snap.Data(), "count")
		if !raced {
			raced = true
			if err := s.Set(ctx, evt1, store.Data{"count": int64(10)}); err != nil {
				return err
			}
		}
		tx.Set(evt1, store.Data{"count": n + 1})
		return nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, s.TransactionAttempts(), int64(2))

	snap, _ := s.Get(ctx, evt1)
	n, _ := store.Int(snap.Data(), "count")
	assert.Equal(t, n, int64(11))
}

func TestRunTransaction_QueryConflictAndGiveUp(t *testing.T) {
	s := New(WithMaxAttempts(3))
	ctx := context.Background()

	i := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		if _, err := tx.Query(queue.OrderBy("timeOfRequest")); err != nil {
			return err
		}
		i++
		// A new child of the queried collection invalidates the read.
		if err := s.Set(ctx, queue.NewDoc(), store.Data{"n": i}); err != nil {
			return err
		}
		tx.Set(evt1, store.Data{"touched": true})
		return nil
	})
	assert.Equal(t, errors.Is(err, store.ErrConflict), true)
	assert.Equal(t, s.TransactionAttempts(), int64(3))
	snap, _ := s.Get(ctx, evt1)
	assert.Equal(t, snap.Exists(), false)
}

func TestRunTransaction_CallbackErrorAborts(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Transaction) error {
		tx.Set(evt1, store.Data{"title": "x"})
		return boom
	})
	assert.Equal(t, err, boom)
	snap, _ := s.Get(context.Background(), evt1)
	assert.Equal(t, snap.Exists(), false)
}

func TestListenDocument_InitialThenChangesUntilRemoved(t *testing.T) {
	s := New()
	ctx := context.Background()
	snaps := make(chan *store.Snapshot, 8)
	reg := s.ListenDocument(evt1, func(snap *store.Snapshot, err error) {
		if err == nil {
			snaps <- snap
		}
	})

	first := recv(t, snaps)
	assert.Equal(t, first.Exists(), false)
	assert.Equal(t, s.Active(), 1)

	assert.Equal(t, s.Set(ctx, evt1, store.Data{"title": "Formal"}), nil)
	second := recv(t, snaps)
	title, _ := store.String(second.Data(), "title")
	assert.Equal(t, title, "Formal")

	assert.Equal(t, s.Delete(ctx, evt1), nil)
	third := recv(t, snaps)
	assert.Equal(t, third.Exists(), false)
	assert.Equal(t, third.Version > second.Version, true)

	reg.Remove()
	assert.Equal(t, s.Active(), 0)
	assert.Equal(t, s.Set(ctx, evt1, store.Data{"title": "Again"}), nil)
	select {
	case <-snaps:
		t.Fatal("delivery after Remove")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, s.Listens(), int64(1))
}

func TestListenQuery_DirectChildrenInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	results := make(chan *store.QuerySnapshot, 8)
	reg := s.ListenQuery(queue.OrderBy("t"), func(qs *store.QuerySnapshot, err error) {
		if err == nil {
			results <- qs
		}
	})
	defer reg.Remove()
	assert.Equal(t, len(recv(t, results).Docs), 0)

	assert.Equal(t, s.Batch().
		Set(queue.Doc("late"), store.Data{"t": int64(2)}).
		Set(queue.Doc("early"), store.Data{"t": int64(1)}).
		Commit(ctx), nil)
	qs := recv(t, results)
	assert.Equal(t, len(qs.Docs), 2)
	assert.Equal(t, qs.Docs[0].Ref.ID(), "early")

	// Grandchildren are not part of the query.
	assert.Equal(t, s.Set(ctx, queue.Doc("early").Collection("notes").Doc("n1"), store.Data{"x": 1}), nil)
	select {
	case <-results:
		t.Fatal("grandchild write notified the query")
	case <-time.After(50 * time.Millisecond):
	}
}
