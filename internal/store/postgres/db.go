package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"eventrides/internal/store"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

const schema = `
CREATE SEQUENCE IF NOT EXISTS document_versions;

CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	data       JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (parent);
`

// SQLSTATE codes the store reacts to.
const (
	codeSerializationFailure  = "40001"
	codeDeadlockDetected      = "40P01"
	classConnectionException  = "08"
	classResources            = "53"
	classOperatorIntervention = "57"
)

// retryable reports whether a transaction should be re-run from scratch.
func retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
	}
	return false
}

// classify wraps transport and availability failures in store.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case classConnectionException, classResources, classOperatorIntervention:
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// getDocument reads one row.
func getDocument(ctx context.Context, q Querier, ref store.Ref, forUpdate bool) (*store.Snapshot, error) {
	query := `SELECT data, version FROM documents WHERE path = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var raw []byte
	var version int64
	err := q.QueryRowContext(ctx, query, ref.Path()).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.NewSnapshot(ref, nil, 0), nil
		}
		return nil, classify(err)
	}

	data, err := store.UnmarshalData(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return store.NewSnapshot(ref, data, version), nil
}

// queryDocuments reads the direct children of a collection.
func queryDocuments(ctx context.Context, q Querier, query store.Query) ([]*store.Snapshot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path, data, version FROM documents WHERE parent = $1`,
		query.Collection.Path(),
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var docs []*store.Snapshot
	for rows.Next() {
		var path string
		var raw []byte
		var version int64
		if err := rows.Scan(&path, &raw, &version); err != nil {
			return nil, classify(err)
		}
		ref, err := store.ParseRef(path)
		if err != nil {
			return nil, err
		}
		data, err := store.UnmarshalData(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		docs = append(docs, store.NewSnapshot(ref, data, version))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return query.Arrange(docs), nil
}

// applyWrites runs buffered writes inside tx and queues change notifications
// that PostgreSQL delivers on commit.
func applyWrites(ctx context.Context, tx *sql.Tx, writes []store.Write) error {
	var now time.Time
	if err := tx.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return classify(err)
	}

	for _, w := range writes {
		var version int64
		if err := tx.QueryRowContext(ctx, `SELECT nextval('document_versions')`).Scan(&version); err != nil {
			return classify(err)
		}

		if w.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, w.Ref.Path()); err != nil {
				return classify(err)
			}
		} else {
			var current store.Data
			if w.Merge {
				snap, err := getDocument(ctx, tx, w.Ref, true)
				if err != nil {
					return err
				}
				current = snap.Data()
			}
			raw, err := store.MarshalData(store.Apply(current, w.Data, w.Merge, now.UTC()))
			if err != nil {
				return fmt.Errorf("encode %s: %w", w.Ref, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (path, parent, data, version)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (path) DO UPDATE
				SET data = EXCLUDED.data, version = EXCLUDED.version, updated_at = now()
			`, w.Ref.Path(), w.Ref.Parent().Path(), raw, version)
			if err != nil {
				return classify(err)
			}
		}

		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, encodeNotice(w.Ref, version)); err != nil {
			return classify(err)
		}
	}
	return nil
}
