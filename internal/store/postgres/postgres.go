// Package postgres stores documents in a single PostgreSQL table and turns
// LISTEN/NOTIFY into per-registration change feeds.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"eventrides/internal/store"
)

const (
	notifyChannel      = "document_changes"
	defaultMaxAttempts = 5
	pingInterval       = 90 * time.Second
)

// encodeNotice builds the NOTIFY payload for a committed write.
func encodeNotice(ref store.Ref, version int64) string {
	return ref.Path() + ":" + strconv.FormatInt(version, 10)
}

func decodeNotice(payload string) (store.Ref, int64, error) {
	i := strings.LastIndexByte(payload, ':')
	if i < 0 {
		return store.Ref{}, 0, fmt.Errorf("malformed notice %q", payload)
	}
	ref, err := store.ParseRef(payload[:i])
	if err != nil {
		return store.Ref{}, 0, err
	}
	version, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil {
		return store.Ref{}, 0, fmt.Errorf("malformed notice %q: %w", payload, err)
	}
	return ref, version, nil
}

type docListener struct {
	*store.Listener
	ref store.Ref
	fn  func(*store.Snapshot, error)

	// touched only from the delivery goroutine
	delivered   bool
	lastExists  bool
	lastVersion int64
}

type queryListener struct {
	*store.Listener
	query store.Query
	fn    func(*store.QuerySnapshot, error)

	lastSig string
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	db          *sql.DB
	listener    *pq.Listener
	logger      *slog.Logger
	maxAttempts int

	mu        sync.Mutex
	docSubs   map[string]map[*docListener]struct{}
	querySubs map[string]map[*queryListener]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New returns a Store using db for reads and writes and a dedicated
// connection opened from dsn for change notifications.
func New(db *sql.DB, dsn string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:          db,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		docSubs:     make(map[string]map[*docListener]struct{}),
		querySubs:   make(map[string]map[*queryListener]struct{}),
		done:        make(chan struct{}),
	}

	s.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("change feed connection event", "event", int(ev), "error", err)
		}
	})
	if err := s.listener.Listen(notifyChannel); err != nil {
		s.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, classify(err))
	}

	s.wg.Add(1)
	go s.dispatch()
	return s, nil
}

// Migrate creates the documents table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", classify(err))
	}
	return nil
}

// Close stops the change feed. Registered listeners receive nothing further.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.listener.Close()
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Snapshot, error) {
	return getDocument(ctx, s.db, ref, false)
}

// Query reads the direct children of a collection in query order.
func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Snapshot, error) {
	return queryDocuments(ctx, s.db, q)
}

// Batch starts an atomic group of writes.
func (s *Store) Batch() store.WriteBatch {
	return store.NewBatch(func(ctx context.Context, writes []store.Write) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		defer tx.Rollback()

		if err := applyWrites(ctx, tx, writes); err != nil {
			return err
		}
		return classify(tx.Commit())
	})
}

// RunTransaction runs fn in a SERIALIZABLE transaction, re-running it on
// serialization failures and deadlocks.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Transaction) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w after %d attempts", store.ErrConflict, s.maxAttempts)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx store.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer sqlTx.Rollback()

	tx := &transaction{ctx: ctx, tx: sqlTx}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := applyWrites(ctx, sqlTx, tx.writes.List()); err != nil {
		return err
	}
	return classify(sqlTx.Commit())
}

// ListenDocument attaches a document listener.
func (s *Store) ListenDocument(ref store.Ref, fn func(*store.Snapshot, error)) store.Registration {
	l := &docListener{ref: ref, fn: fn}
	l.Listener = store.NewListener(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.docSubs[ref.Path()], l)
	})

	s.mu.Lock()
	if s.docSubs[ref.Path()] == nil {
		s.docSubs[ref.Path()] = make(map[*docListener]struct{})
	}
	s.docSubs[ref.Path()][l] = struct{}{}
	s.mu.Unlock()

	l.Deliver(func() { s.refreshDocument(l) })
	return l
}

// ListenQuery attaches a query listener.
func (s *Store) ListenQuery(q store.Query, fn func(*store.QuerySnapshot, error)) store.Registration {
	col := q.Collection.Path()
	l := &queryListener{query: q, fn: fn}
	l.Listener = store.NewListener(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.querySubs[col], l)
	})

	s.mu.Lock()
	if s.querySubs[col] == nil {
		s.querySubs[col] = make(map[*queryListener]struct{})
	}
	s.querySubs[col][l] = struct{}{}
	s.mu.Unlock()

	l.Deliver(func() { s.refreshQuery(l) })
	return l
}

func (s *Store) dispatch() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// Reconnected; notifications may have been lost.
				s.refreshAll()
				continue
			}
			ref, _, err := decodeNotice(n.Extra)
			if err != nil {
				s.logger.Error("dropping change notice", "error", err)
				continue
			}
			s.changed(ref)
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.logger.Warn("change feed ping failed", "error", err)
				}
			}()
		}
	}
}

func (s *Store) changed(ref store.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.docSubs[ref.Path()] {
		l.Deliver(func() { s.refreshDocument(l) })
	}
	for l := range s.querySubs[ref.Parent().Path()] {
		l.Deliver(func() { s.refreshQuery(l) })
	}
}

func (s *Store) refreshAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.docSubs {
		for l := range subs {
			l.Deliver(func() { s.refreshDocument(l) })
		}
	}
	for _, subs := range s.querySubs {
		for l := range subs {
			l.Deliver(func() { s.refreshQuery(l) })
		}
	}
}

// refreshDocument runs on the listener's delivery goroutine. Reads made there
// are sequential, so each one observes a state at least as new as the last.
func (s *Store) refreshDocument(l *docListener) {
	snap, err := getDocument(context.Background(), s.db, l.ref, false)
	if err != nil {
		l.fn(nil, err)
		return
	}
	if l.delivered && snap.Exists() == l.lastExists && snap.Version == l.lastVersion {
		return
	}
	l.delivered, l.lastExists, l.lastVersion = true, snap.Exists(), snap.Version
	l.fn(snap, nil)
}

func (s *Store) refreshQuery(l *queryListener) {
	docs, err := queryDocuments(context.Background(), s.db, l.query)
	if err != nil {
		l.fn(nil, err)
		return
	}
	var sig strings.Builder
	sig.WriteByte('#')
	for _, d := range docs {
		sig.WriteString(d.Ref.Path())
		sig.WriteByte('@')
		sig.WriteString(strconv.FormatInt(d.Version, 10))
		sig.WriteByte(';')
	}
	if sig.String() == l.lastSig {
		return
	}
	l.lastSig = sig.String()
	l.fn(&store.QuerySnapshot{Query: l.query, Docs: docs}, nil)
}

type transaction struct {
	ctx    context.Context
	tx     *sql.Tx
	writes store.Writes
}

func (t *transaction) Get(ref store.Ref) (*store.Snapshot, error) {
	return getDocument(t.ctx, t.tx, ref, false)
}

func (t *transaction) Query(q store.Query) ([]*store.Snapshot, error) {
	return queryDocuments(t.ctx, t.tx, q)
}

func (t *transaction) Set(ref store.Ref, data store.Data, opts ...store.SetOption) {
	t.writes.Set(ref, data, opts...)
}

func (t *transaction) Delete(ref store.Ref) {
	t.writes.Delete(ref)
}
