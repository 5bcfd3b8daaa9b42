// Package memory is an in-process implementation of store.Store.
//
// Transactions are optimistic: every document and query read inside a
// transaction records the version it observed, and the commit is rejected
// and retried when any of them moved in the meantime. Listeners receive
// changes in commit order on a goroutine per registration.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"eventrides/internal/store"
)

const defaultMaxAttempts = 5

type document struct {
	data    store.Data
	version int64
}

type docListener struct {
	*store.Listener
	ref store.Ref
	fn  func(*store.Snapshot, error)
}

type queryListener struct {
	*store.Listener
	query store.Query
	fn    func(*store.QuerySnapshot, error)
}

// Store keeps documents in memory.
type Store struct {
	mu          sync.Mutex
	seq         int64
	docs        map[string]*document
	versions    map[string]int64 // last write version per path, deletes included
	collections map[string]int64 // last write version of any direct child
	docSubs     map[string]map[*docListener]struct{}
	querySubs   map[string]map[*queryListener]struct{}
	failures    []error

	now         func() time.Time
	maxAttempts int

	listens  atomic.Int64
	attempts atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]*document),
		versions:    make(map[string]int64),
		collections: make(map[string]int64),
		docSubs:     make(map[string]map[*docListener]struct{}),
		querySubs:   make(map[string]map[*queryListener]struct{}),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Listens returns how many listeners were ever attached.
func (s *Store) Listens() int64 { return s.listens.Load() }

// Active returns how many listeners are currently attached.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, subs := range s.docSubs {
		n += len(subs)
	}
	for _, subs := range s.querySubs {
		n += len(subs)
	}
	return n
}

// TransactionAttempts returns how many times transaction callbacks ran.
func (s *Store) TransactionAttempts() int64 { return s.attempts.Load() }

// FailNext makes the next commit or transaction fail with an unavailable error
// without applying any write.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *Store) takeFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(ref), nil
}

// Query reads the direct children of a collection in query order.
func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(q), nil
}

// Batch starts an atomic group of writes.
func (s *Store) Batch() store.WriteBatch {
	return store.NewBatch(func(ctx context.Context, writes []store.Write) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.takeFailure(); err != nil {
			return err
		}
		s.apply(writes)
		return nil
	})
}

// Set writes a single document.
func (s *Store) Set(ctx context.Context, ref store.Ref, data store.Data, opts ...store.SetOption) error {
	return s.Batch().Set(ref, data, opts...).Commit(ctx)
}

// Delete removes a single document.
func (s *Store) Delete(ctx context.Context, ref store.Ref) error {
	return s.Batch().Delete(ref).Commit(ctx)
}

// RunTransaction runs fn until it commits without conflict.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Transaction) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.attempts.Add(1)

		tx := &transaction{
			store:    s,
			docReads: make(map[string]int64),
			colReads: make(map[string]int64),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		s.mu.Lock()
		if err := s.takeFailure(); err != nil {
			s.mu.Unlock()
			return err
		}
		if tx.stale() {
			s.mu.Unlock()
			continue
		}
		s.apply(tx.writes.List())
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w after %d attempts", store.ErrConflict, s.maxAttempts)
}

// ListenDocument attaches a document listener.
func (s *Store) ListenDocument(ref store.Ref, fn func(*store.Snapshot, error)) store.Registration {
	s.listens.Add(1)
	l := &docListener{ref: ref, fn: fn}
	l.Listener = store.NewListener(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.docSubs[ref.Path()], l)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docSubs[ref.Path()] == nil {
		s.docSubs[ref.Path()] = make(map[*docListener]struct{})
	}
	s.docSubs[ref.Path()][l] = struct{}{}
	snap := s.snapshot(ref)
	l.Deliver(func() { fn(snap, nil) })
	return l
}

// ListenQuery attaches a query listener.
func (s *Store) ListenQuery(q store.Query, fn func(*store.QuerySnapshot, error)) store.Registration {
	s.listens.Add(1)
	col := q.Collection.Path()
	l := &queryListener{query: q, fn: fn}
	l.Listener = store.NewListener(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.querySubs[col], l)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.querySubs[col] == nil {
		s.querySubs[col] = make(map[*queryListener]struct{})
	}
	s.querySubs[col][l] = struct{}{}
	qs := &store.QuerySnapshot{Query: q, Docs: s.query(q)}
	l.Deliver(func() { fn(qs, nil) })
	return l
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot(ref store.Ref) *store.Snapshot {
	doc, ok := s.docs[ref.Path()]
	if !ok {
		return store.NewSnapshot(ref, nil, s.versions[ref.Path()])
	}
	return store.NewSnapshot(ref, store.Clone(doc.data), doc.version)
}

// query must be called with s.mu held.
func (s *Store) query(q store.Query) []*store.Snapshot {
	prefix := q.Collection.Path() + "/"
	var docs []*store.Snapshot
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		ref, err := store.ParseRef(path)
		if err != nil {
			continue
		}
		docs = append(docs, store.NewSnapshot(ref, store.Clone(doc.data), doc.version))
	}
	return q.Arrange(docs)
}

// apply must be called with s.mu held.
func (s *Store) apply(writes []store.Write) {
	s.seq++
	version := s.seq
	now := s.now()

	touchedDocs := make(map[string]store.Ref)
	touchedCols := make(map[string]struct{})
	for _, w := range writes {
		path := w.Ref.Path()
		if w.Delete {
			delete(s.docs, path)
		} else {
			var current store.Data
			if doc, ok := s.docs[path]; ok {
				current = doc.data
			}
			s.docs[path] = &document{
				data:    store.Apply(current, w.Data, w.Merge, now),
				version: version,
			}
		}
		s.versions[path] = version
		col := w.Ref.Parent().Path()
		s.collections[col] = version
		touchedDocs[path] = w.Ref
		touchedCols[col] = struct{}{}
	}

	for path, ref := range touchedDocs {
		for l := range s.docSubs[path] {
			snap := s.snapshot(ref)
			fn := l.fn
			l.Deliver(func() { fn(snap, nil) })
		}
	}
	for col := range touchedCols {
		for l := range s.querySubs[col] {
			qs := &store.QuerySnapshot{Query: l.query, Docs: s.query(l.query)}
			fn := l.fn
			l.Deliver(func() { fn(qs, nil) })
		}
	}
}

type transaction struct {
	store    *Store
	docReads map[string]int64
	colReads map[string]int64
	writes   store.Writes
}

func (t *transaction) Get(ref store.Ref) (*store.Snapshot, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	snap := t.store.snapshot(ref)
	if _, seen := t.docReads[ref.Path()]; !seen {
		t.docReads[ref.Path()] = t.store.versions[ref.Path()]
	}
	return snap, nil
}

func (t *transaction) Query(q store.Query) ([]*store.Snapshot, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	col := q.Collection.Path()
	if _, seen := t.colReads[col]; !seen {
		t.colReads[col] = t.store.collections[col]
	}
	return t.store.query(q), nil
}

func (t *transaction) Set(ref store.Ref, data store.Data, opts ...store.SetOption) {
	t.writes.Set(ref, data, opts...)
}

func (t *transaction) Delete(ref store.Ref) {
	t.writes.Delete(ref)
}

// stale must be called with the store mutex held.
func (t *transaction) stale() bool {
	for path, v := range t.docReads {
		if t.store.versions[path] != v {
			return true
		}
	}
	for col, v := range t.colReads {
		if t.store.collections[col] != v {
			return true
		}
	}
	return false
}
