// Package queue implements a casual queue-group process: a
// SQLite-backed persistent queue store with transactional
// enqueue/dequeue, two-phase-commit resource-manager semantics, and
// queue/service forwarding workers.
//
// Grounded in shape on the teacher's internal/session.Store
// (mutex-guarded handle to shared state behind a narrow interface),
// generalized from an in-memory map to a `database/sql` handle backed
// by `mattn/go-sqlite3` — the spec's single-writer-per-group invariant
// makes one store, one *sql.DB, one process the right shape (no
// sharding needed, unlike the teacher's session manager).
package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/metrics"
	_ "github.com/mattn/go-sqlite3"
)

// Store owns one queue group's SQLite-backed queuebase: the schema,
// the single write-serializing mutex (SQLite permits one writer at a
// time; casual's spec makes this explicit rather than relying on
// SQLITE_BUSY retries), and the database handle.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	waiters *waiters

	regMu sync.Mutex
	byTrid map[string]*Txn // branches awaiting a resource.prepare/commit/rollback addressed by trid alone

	metrics *metrics.Registry
}

const schema = `
CREATE TABLE IF NOT EXISTS queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	retry_count INTEGER NOT NULL DEFAULT 0,
	retry_delay INTEGER NOT NULL DEFAULT 0,
	error_queue TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS message (
	id           TEXT PRIMARY KEY,
	queue_id     INTEGER NOT NULL REFERENCES queue(id),
	correlation  TEXT NOT NULL DEFAULT '',
	payload      BLOB NOT NULL,
	selector     TEXT NOT NULL DEFAULT '',
	redelivered  INTEGER NOT NULL DEFAULT 0,
	available_at INTEGER NOT NULL,
	enqueued_at  INTEGER NOT NULL,
	origin_queue TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS message_queue_idx ON message(queue_id, available_at);

CREATE TABLE IF NOT EXISTS pending (
	message_id TEXT PRIMARY KEY REFERENCES message(id),
	queue_id   INTEGER NOT NULL,
	locked_at  INTEGER NOT NULL,
	trid       TEXT NOT NULL
);
`

// Open creates or opens a queuebase file and ensures its schema
// exists. path is typically
// ${CASUAL_DOMAIN_HOME}/queue/<group-name>.qb.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, casualerr.Newf(casualerr.KindInternalUnexpected, "open queuebase %s: %v", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer, per spec's shared-resource policy

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, casualerr.Newf(casualerr.KindInternalUnexpected, "init schema: %v", err)
	}
	return &Store{db: db, waiters: newWaiters(), byTrid: make(map[string]*Txn)}, nil
}

// SetMetrics attaches the Prometheus registry this store reports
// enqueue/dequeue/redelivery counters to. Optional: a nil registry (the
// zero value) leaves the store fully functional but unobserved.
func (s *Store) SetMetrics(reg *metrics.Registry) {
	s.metrics = reg
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureQueue creates a queue row if absent, applying its retry
// policy and error-queue routing.
func (s *Store) EnsureQueue(ctx context.Context, name string, retryCount int, retryDelay time.Duration, errorQueue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue(name, retry_count, retry_delay, error_queue)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET retry_count=excluded.retry_count,
			retry_delay=excluded.retry_delay, error_queue=excluded.error_queue`,
		name, retryCount, int64(retryDelay), errorQueue)
	if err != nil {
		return casualerr.Newf(casualerr.KindInternalUnexpected, "ensure queue %s: %v", name, err)
	}
	return nil
}

// queueRow is the decoded row from the queue table.
type queueRow struct {
	id         int64
	retryCount int
	retryDelay time.Duration
	errorQueue string
}

func (s *Store) queueByName(ctx context.Context, tx *sql.Tx, name string) (queueRow, error) {
	var row queueRow
	var delayNanos int64
	err := tx.QueryRowContext(ctx, `SELECT id, retry_count, retry_delay, error_queue FROM queue WHERE name = ?`, name).
		Scan(&row.id, &row.retryCount, &delayNanos, &row.errorQueue)
	if err == sql.ErrNoRows {
		return row, casualerr.Newf(casualerr.KindServiceAbsent, "queue %q not found", name)
	}
	if err != nil {
		return row, casualerr.Newf(casualerr.KindInternalUnexpected, "lookup queue %s: %v", name, err)
	}
	row.retryDelay = time.Duration(delayNanos)
	return row, nil
}

// registerTrid makes txn reachable by its trid alone, for a resource-
// manager-protocol message (resource.prepare/commit/rollback) that
// arrives as a separate message addressed only by trid, not by holding
// the *Txn value the dequeuer received.
func (s *Store) registerTrid(txn *Txn) {
	if txn.trid.IsNull() {
		return
	}
	s.regMu.Lock()
	s.byTrid[txn.trid.String()] = txn
	s.regMu.Unlock()
}

func (s *Store) unregisterTrid(txn *Txn) {
	if txn.trid.IsNull() {
		return
	}
	s.regMu.Lock()
	delete(s.byTrid, txn.trid.String())
	s.regMu.Unlock()
}

// branch looks up the open transaction branch addressed by trid, for
// PrepareTrid/CommitTrid/RollbackTrid.
func (s *Store) branch(trid ids.Trid) (*Txn, error) {
	s.regMu.Lock()
	txn, ok := s.byTrid[trid.String()]
	s.regMu.Unlock()
	if !ok {
		return nil, casualerr.Newf(casualerr.KindTxProtocol, "no open branch for trid %s", trid)
	}
	return txn, nil
}

// PrepareTrid, CommitTrid and RollbackTrid resolve an incoming
// resource.prepare/resource.commit/resource.rollback message (carrying
// only a trid, per spec §4.5) to the branch opened by an earlier
// Begin/dequeue call under that same trid.
func (s *Store) PrepareTrid(ctx context.Context, trid ids.Trid) error {
	txn, err := s.branch(trid)
	if err != nil {
		return err
	}
	return txn.Prepare(ctx)
}

func (s *Store) CommitTrid(ctx context.Context, trid ids.Trid) error {
	txn, err := s.branch(trid)
	if err != nil {
		return err
	}
	return txn.Commit(ctx)
}

func (s *Store) RollbackTrid(ctx context.Context, trid ids.Trid) error {
	txn, err := s.branch(trid)
	if err != nil {
		return err
	}
	return txn.Rollback(ctx)
}

func wrapSQLErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return casualerr.Newf(casualerr.KindInternalUnexpected, "%s: %v", op, err)
}

