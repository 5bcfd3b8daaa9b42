// Package store defines the document store contract the ride core is written
// against: per-document and per-query change listeners, atomic write batches
// and serializable transactions. Implementations live in sub-packages.
package store

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrUnavailable wraps transport and availability failures. Callers own retry policy.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConflict is returned when a transaction kept conflicting after every retry.
	ErrConflict = errors.New("transaction conflict")

	// ErrInvalidPath is returned for malformed document paths.
	ErrInvalidPath = errors.New("invalid document path")

	// ErrCommitted is returned when a batch is used after Commit.
	ErrCommitted = errors.New("batch already committed")
)

// Store is a document database with real-time listeners.
type Store interface {
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)

	// Batch starts an atomic group of writes.
	Batch() WriteBatch

	// RunTransaction runs fn as a serializable read-modify-write transaction.
	// fn may be called more than once when the store detects a conflict; an
	// error returned by fn aborts the transaction and is returned unchanged.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// ListenDocument delivers the current state of ref and every later change.
	ListenDocument(ref Ref, fn func(*Snapshot, error)) Registration

	// ListenQuery delivers the current result of q and every later change.
	ListenQuery(q Query, fn func(*QuerySnapshot, error)) Registration
}

// WriteBatch groups writes that commit together or not at all.
type WriteBatch interface {
	Set(ref Ref, data Data, opts ...SetOption) WriteBatch
	Delete(ref Ref) WriteBatch
	Commit(ctx context.Context) error
}

// Transaction is handed to RunTransaction callbacks. Writes are buffered
// until the callback returns.
type Transaction interface {
	Get(ref Ref) (*Snapshot, error)
	Query(q Query) ([]*Snapshot, error)
	Set(ref Ref, data Data, opts ...SetOption)
	Delete(ref Ref)
}

// Registration detaches a listener.
type Registration interface {
	Remove()
}

// SetOption changes how Set writes a document.
type SetOption int

// Merge writes only the given top-level fields, keeping the rest of the document.
const Merge SetOption = 1

// Write is a single buffered document mutation.
type Write struct {
	Ref    Ref
	Data   Data
	Merge  bool
	Delete bool
}

// NewSet builds a set write from options.
func NewSet(ref Ref, data Data, opts []SetOption) Write {
	w := Write{Ref: ref, Data: data}
	for _, o := range opts {
		if o == Merge {
			w.Merge = true
		}
	}
	return w
}

// Query selects the direct children of a collection.
type Query struct {
	Collection CollectionRef
	OrderBy    string // empty orders by document id
	Descending bool
	Limit      int // zero means unlimited
}

// Desc returns q ordered descending.
func (q Query) Desc() Query {
	q.Descending = true
	return q
}

// WithLimit returns q truncated to n results.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Arrange sorts docs in query order, ties broken by document id, and applies the limit.
func (q Query) Arrange(docs []*Snapshot) []*Snapshot {
	sort.SliceStable(docs, func(i, j int) bool {
		c := 0
		if q.OrderBy != "" {
			c = compareValues(docs[i].data[q.OrderBy], docs[j].data[q.OrderBy])
		}
		if c == 0 {
			if docs[i].Ref.ID() < docs[j].Ref.ID() {
				c = -1
			} else if docs[i].Ref.ID() > docs[j].Ref.ID() {
				c = 1
			}
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

// Snapshot is the state of one document at a version.
type Snapshot struct {
	Ref     Ref
	Version int64
	data    Data
}

// NewSnapshot builds a snapshot. A nil data map means the document does not exist.
func NewSnapshot(ref Ref, data Data, version int64) *Snapshot {
	return &Snapshot{Ref: ref, Version: version, data: data}
}

// Exists reports whether the document exists.
func (s *Snapshot) Exists() bool { return s.data != nil }

// Data returns a copy of the document fields, nil when the document does not exist.
func (s *Snapshot) Data() Data { return Clone(s.data) }

// QuerySnapshot is the ordered result of a query at one point in time.
type QuerySnapshot struct {
	Query Query
	Docs  []*Snapshot
}
