package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
)

// dequeuedRef remembers one message claimed under a Txn, so Rollback
// can apply redelivery-count/error-queue routing after the underlying
// SQLite transaction that claimed it has already been undone.
type dequeuedRef struct {
	messageID string
	queueID   int64
	queueName string
}

// Txn is one resource-manager transaction branch against a queue
// store: the underlying SQLite transaction plus enough bookkeeping to
// implement Prepare/Commit/Rollback's redelivery semantics (spec
// §4.5, scenario S4).
type Txn struct {
	store *Store
	tx    *sql.Tx
	trid  ids.Trid

	dequeued       []dequeuedRef
	enqueuedQueues []string

	prepared bool
	done     bool
}

// Trid returns the transaction branch id this Txn is enlisted under.
func (txn *Txn) Trid() ids.Trid { return txn.trid }

// Begin starts a transaction branch not tied to any dequeue — used
// when a caller wants to enqueue one or more messages atomically
// without also consuming any.
func (s *Store) Begin(ctx context.Context, trid ids.Trid) (*Txn, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, wrapSQLErr("begin txn", err)
	}
	txn := &Txn{store: s, tx: tx, trid: trid}
	s.registerTrid(txn)
	return txn, nil
}

// Prepare validates the branch is ready to commit. casual's queue
// store is the only resource manager in a queue-only transaction, so
// Prepare here is a vote, not a disk flush: SQLite has already
// journaled every statement in this branch.
func (txn *Txn) Prepare(ctx context.Context) error {
	if txn.done {
		return casualerr.New(casualerr.KindTxProtocol, "prepare after commit/rollback")
	}
	txn.prepared = true
	return nil
}

// Commit finalizes the branch: enqueued messages become visible to
// dequeuers (woken here), and dequeued messages are permanently
// removed from the queue.
func (txn *Txn) Commit(ctx context.Context) error {
	if txn.done {
		return casualerr.New(casualerr.KindTxProtocol, "commit after commit/rollback")
	}

	for _, ref := range txn.dequeued {
		if _, err := txn.tx.ExecContext(ctx, `DELETE FROM pending WHERE message_id = ?`, ref.messageID); err != nil {
			txn.tx.Rollback()
			txn.release()
			return wrapSQLErr("finalize dequeue", err)
		}
		if _, err := txn.tx.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, ref.messageID); err != nil {
			txn.tx.Rollback()
			txn.release()
			return wrapSQLErr("finalize dequeue", err)
		}
	}

	if err := txn.tx.Commit(); err != nil {
		txn.release()
		return wrapSQLErr("commit txn", err)
	}
	store := txn.store
	txn.release()

	for _, qn := range txn.enqueuedQueues {
		store.waiters.wake(qn)
		if store.metrics != nil {
			store.metrics.QueueEnqueued.WithLabelValues(qn).Inc()
		}
	}
	if store.metrics != nil {
		for _, ref := range txn.dequeued {
			store.metrics.QueueDequeued.WithLabelValues(ref.queueName).Inc()
		}
	}
	return nil
}

// Rollback undoes every statement in the branch. Enqueues vanish as
// if they never happened. Dequeues are trickier: the claim (the
// pending-table row) is undone by the same rollback, but the
// redelivery count must survive it, so Rollback re-applies it in a
// fresh, separate transaction once the branch's own rollback
// completes (scenario S4 — retry count exceeded routes the message to
// its queue's configured error queue instead of leaving it available).
func (txn *Txn) Rollback(ctx context.Context) error {
	if txn.done {
		return casualerr.New(casualerr.KindTxProtocol, "rollback after commit/rollback")
	}

	rollbackErr := txn.tx.Rollback()
	dequeued := txn.dequeued
	store := txn.store
	txn.release()
	if rollbackErr != nil {
		return wrapSQLErr("rollback txn", rollbackErr)
	}

	for _, ref := range dequeued {
		if err := store.redeliverOrErrorQueue(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// release returns the store's single-writer lock and marks the
// branch unusable for further calls.
func (txn *Txn) release() {
	txn.done = true
	txn.store.unregisterTrid(txn)
	txn.store.mu.Unlock()
}

// redeliverOrErrorQueue increments a rolled-back message's redelivery
// count; once it exceeds its queue's configured retry count, the
// message is moved to the queue's configured error queue instead of
// being left available for another attempt.
func (s *Store) redeliverOrErrorQueue(ctx context.Context, ref dequeuedRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLErr("begin redelivery txn", err)
	}

	var retryCount int
	var retryDelayNanos int64
	var errorQueueName string
	err = tx.QueryRowContext(ctx, `SELECT retry_count, retry_delay, error_queue FROM queue WHERE id = ?`, ref.queueID).
		Scan(&retryCount, &retryDelayNanos, &errorQueueName)
	if err != nil {
		tx.Rollback()
		return wrapSQLErr("lookup queue for redelivery", err)
	}

	var redelivered int
	if err := tx.QueryRowContext(ctx, `SELECT redelivered FROM message WHERE id = ?`, ref.messageID).Scan(&redelivered); err != nil {
		tx.Rollback()
		return wrapSQLErr("read redelivery count", err)
	}
	redelivered++

	var wakeQueue string
	var originalQueueName string
	if err := tx.QueryRowContext(ctx, `SELECT name FROM queue WHERE id = ?`, ref.queueID).Scan(&originalQueueName); err != nil {
		tx.Rollback()
		return wrapSQLErr("lookup original queue name", err)
	}

	if retryCount >= 0 && redelivered > retryCount && errorQueueName != "" {
		var errQueueID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM queue WHERE name = ?`, errorQueueName).Scan(&errQueueID); err != nil {
			tx.Rollback()
			return wrapSQLErr("lookup error queue", err)
		}
		// Reset per spec §4.5: redelivered counts attempts against the
		// queue it was dequeued from, not its new home.
		if _, err := tx.ExecContext(ctx, `UPDATE message SET queue_id = ?, redelivered = 0, origin_queue = ? WHERE id = ?`, errQueueID, originalQueueName, ref.messageID); err != nil {
			tx.Rollback()
			return wrapSQLErr("route to error queue", err)
		}
		wakeQueue = errorQueueName
	} else {
		availableAt := time.Now().Add(time.Duration(retryDelayNanos)).UnixNano()
		if _, err := tx.ExecContext(ctx, `UPDATE message SET redelivered = ?, available_at = ? WHERE id = ?`, redelivered, availableAt, ref.messageID); err != nil {
			tx.Rollback()
			return wrapSQLErr("bump redelivery count", err)
		}
		wakeQueue = originalQueueName
	}

	if err := tx.Commit(); err != nil {
		return wrapSQLErr("commit redelivery", err)
	}
	s.waiters.wake(wakeQueue)
	if s.metrics != nil {
		s.metrics.QueueRedelivered.WithLabelValues(originalQueueName).Inc()
	}
	return nil
}
