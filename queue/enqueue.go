package queue

import (
	"context"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
)

// Message is one persisted queue entry.
type Message struct {
	ID          string
	Correlation ids.Correlation
	Payload     []byte
	Selector    string
	Redelivered int
	EnqueuedAt  time.Time
	AvailableAt time.Time
	Origin      string // set when a message was routed here from its original queue after exhausting retries
}

// Enqueue writes msg into queueName within the transaction's
// underlying SQLite transaction; visible to dequeuers only once the
// owning Txn commits. Waking a blocked dequeuer happens at commit
// time (transaction.go), never here, since an uncommitted enqueue
// must never be observable.
func (txn *Txn) Enqueue(ctx context.Context, queueName string, msg Message) error {
	q, err := txn.store.queueByName(ctx, txn.tx, queueName)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = ids.NewCorrelation().String()
	}
	if msg.AvailableAt.IsZero() {
		msg.AvailableAt = time.Now()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	_, err = txn.tx.ExecContext(ctx, `
		INSERT INTO message(id, queue_id, correlation, payload, selector, redelivered, available_at, enqueued_at, origin_queue)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, q.id, msg.Correlation.String(), msg.Payload, msg.Selector,
		msg.Redelivered, msg.AvailableAt.UnixNano(), msg.EnqueuedAt.UnixNano(), msg.Origin)
	if err != nil {
		return casualerr.Newf(casualerr.KindInternalUnexpected, "enqueue into %s: %v", queueName, err)
	}

	txn.enqueuedQueues = append(txn.enqueuedQueues, queueName)
	return nil
}
