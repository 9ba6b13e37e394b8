package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
	"github.com/eapache/queue"
)

// waiterEntry is one blocked dequeuer, FIFO-ordered per queue name so
// the earliest waiter is woken first (spec §8's boundary behavior).
type waiterEntry struct {
	notify chan struct{}
}

type waiters struct {
	mu   sync.Mutex
	byQueue map[string]*queue.Queue
}

func newWaiters() *waiters {
	return &waiters{byQueue: make(map[string]*queue.Queue)}
}

func (w *waiters) register(queueName string) *waiterEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.byQueue[queueName]
	if !ok {
		q = queue.New()
		w.byQueue[queueName] = q
	}
	entry := &waiterEntry{notify: make(chan struct{})}
	q.Add(entry)
	return entry
}

// wake releases exactly one waiter for queueName, the one registered
// earliest, so a newly available message goes to whoever has waited
// longest.
func (w *waiters) wake(queueName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.byQueue[queueName]
	if !ok || q.Length() == 0 {
		return
	}
	entry := q.Remove().(*waiterEntry)
	close(entry.notify)
}

// tryDequeue attempts one non-blocking claim: the earliest available,
// unlocked message in queueName matching selector ("" matches any),
// enlisted under trid (a fresh branch is minted if trid is null). On
// success it opens a Txn holding the claim, registered under its trid
// so a later resource.prepare/commit/rollback message can find it by
// trid alone, and returns it so the caller may also drive
// Prepare/Commit/Rollback directly.
func (s *Store) tryDequeue(ctx context.Context, queueName, selector string, trid ids.Trid) (*Txn, Message, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, Message{}, wrapSQLErr("begin dequeue tx", err)
	}

	q, err := s.queueByName(ctx, tx, queueName)
	if err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return nil, Message{}, err
	}

	row := tx.QueryRowContext(ctx, `
		SELECT m.id, m.correlation, m.payload, m.selector, m.redelivered, m.available_at, m.enqueued_at, m.origin_queue
		FROM message m
		LEFT JOIN pending p ON p.message_id = m.id
		WHERE m.queue_id = ? AND p.message_id IS NULL AND m.available_at <= ?
		  AND (? = '' OR m.selector = ?)
		ORDER BY m.available_at ASC
		LIMIT 1`,
		q.id, time.Now().UnixNano(), selector, selector)

	var msg Message
	var correlation string
	var availableNanos, enqueuedNanos int64
	err = row.Scan(&msg.ID, &correlation, &msg.Payload, &msg.Selector, &msg.Redelivered, &availableNanos, &enqueuedNanos, &msg.Origin)
	if err == sql.ErrNoRows {
		tx.Rollback()
		s.mu.Unlock()
		return nil, Message{}, casualerr.New(casualerr.KindNoMessage, "no message available in "+queueName)
	}
	if err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return nil, Message{}, wrapSQLErr("scan candidate message", err)
	}
	msg.AvailableAt = time.Unix(0, availableNanos)
	msg.EnqueuedAt = time.Unix(0, enqueuedNanos)
	if correlation != "" {
		if c, perr := ids.ParseCorrelation(correlation); perr == nil {
			msg.Correlation = c
		}
	}

	if trid.IsNull() {
		trid = ids.NewTrid()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO pending(message_id, queue_id, locked_at, trid) VALUES (?, ?, ?, ?)`,
		msg.ID, q.id, time.Now().UnixNano(), trid.String()); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return nil, Message{}, wrapSQLErr("lock message", err)
	}

	txn := &Txn{store: s, tx: tx, trid: trid}
	txn.dequeued = append(txn.dequeued, dequeuedRef{messageID: msg.ID, queueID: q.id, queueName: queueName})
	s.registerTrid(txn)
	return txn, msg, nil
}

// BlockingDequeue claims the next available message in queueName
// matching selector under trid, waiting — FIFO-ordered among
// concurrent callers — until one is enqueued if none is available
// yet, or until ctx is done.
func (s *Store) BlockingDequeue(ctx context.Context, queueName, selector string, trid ids.Trid) (*Txn, Message, error) {
	for {
		txn, msg, err := s.tryDequeue(ctx, queueName, selector, trid)
		if err == nil {
			return txn, msg, nil
		}
		if casualerr.KindOf(err) != casualerr.KindNoMessage {
			return nil, Message{}, err
		}

		entry := s.waiters.register(queueName)
		select {
		case <-entry.notify:
		case <-ctx.Done():
			return nil, Message{}, casualerr.New(casualerr.KindTimeout, "dequeue wait cancelled")
		}
	}
}
