package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/casual-go/casual/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.qb")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// S4 — queue retry to error: queue Q has retries=2, error queue
// Q.error. Enqueue M, commit. Dequeue+rollback three times; after the
// third (redelivered exceeds retries) M resides in Q.error with its
// origin recorded.
func TestQueueRetryRoutesToErrorQueue(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.EnsureQueue(ctx, "Q.error", -1, 0, ""))
	require.NoError(t, store.EnsureQueue(ctx, "Q", 2, 0, "Q.error"))

	txn, err := store.Begin(ctx, ids.NewTrid())
	require.NoError(t, err)
	require.NoError(t, txn.Enqueue(ctx, "Q", Message{Payload: []byte("hello")}))
	require.NoError(t, txn.Prepare(ctx))
	require.NoError(t, txn.Commit(ctx))

	for i := 0; i < 2; i++ {
		dtxn, msg, err := store.tryDequeue(ctx, "Q", "", ids.Trid{})
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), msg.Payload)
		require.NoError(t, dtxn.Rollback(ctx))
	}

	// Third dequeue still comes from Q (redelivered count is 2, not
	// yet exceeding retries=2); its rollback pushes it over.
	dtxn, msg, err := store.tryDequeue(ctx, "Q", "", ids.Trid{})
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Redelivered)
	require.NoError(t, dtxn.Rollback(ctx))

	// Q is now empty; the message lives in Q.error with its origin.
	_, _, err = store.tryDequeue(ctx, "Q", "", ids.Trid{})
	assert.Error(t, err)

	errTxn, errMsg, err := store.tryDequeue(ctx, "Q.error", "", ids.Trid{})
	require.NoError(t, err)
	assert.Equal(t, "Q", errMsg.Origin)
	assert.Equal(t, 0, errMsg.Redelivered, "redelivered resets once routed to the error queue")
	require.NoError(t, errTxn.Rollback(ctx))
}

// S4's retry delay: a rolled-back redelivery must not be immediately
// available again, so a failing consumer does not busy-loop on it.
func TestQueueRetryDelayDefersAvailability(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.EnsureQueue(ctx, "Q", 3, 50*time.Millisecond, ""))

	txn, err := store.Begin(ctx, ids.NewTrid())
	require.NoError(t, err)
	require.NoError(t, txn.Enqueue(ctx, "Q", Message{Payload: []byte("retry-me")}))
	require.NoError(t, txn.Commit(ctx))

	dtxn, _, err := store.tryDequeue(ctx, "Q", "", ids.Trid{})
	require.NoError(t, err)
	require.NoError(t, dtxn.Rollback(ctx))

	_, _, err = store.tryDequeue(ctx, "Q", "", ids.Trid{})
	assert.Error(t, err, "message must not be available again before its retry delay elapses")

	time.Sleep(60 * time.Millisecond)
	_, msg, err := store.tryDequeue(ctx, "Q", "", ids.Trid{})
	require.NoError(t, err, "message becomes available again once the retry delay elapses")
	assert.Equal(t, []byte("retry-me"), msg.Payload)
}

func TestEnqueueDequeueCommitRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.EnsureQueue(ctx, "Q", 3, 0, ""))

	txn, err := store.Begin(ctx, ids.NewTrid())
	require.NoError(t, err)
	require.NoError(t, txn.Enqueue(ctx, "Q", Message{Payload: []byte("payload")}))
	require.NoError(t, txn.Commit(ctx))

	dtxn, msg, err := store.tryDequeue(ctx, "Q", "", ids.Trid{})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), msg.Payload)
	require.NoError(t, dtxn.Commit(ctx))

	_, _, err = store.tryDequeue(ctx, "Q", "", ids.Trid{})
	assert.Error(t, err, "committed dequeue permanently removes the message")
}

func TestBlockingDequeueWakesOnEnqueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := openTestStore(t)
	require.NoError(t, store.EnsureQueue(ctx, "Q", 0, 0, ""))

	result := make(chan Message, 1)
	go func() {
		dtxn, msg, err := store.BlockingDequeue(ctx, "Q", "", ids.Trid{})
		if err == nil {
			dtxn.Commit(ctx)
			result <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond) // let the dequeuer register as a waiter first

	txn, err := store.Begin(ctx, ids.NewTrid())
	require.NoError(t, err)
	require.NoError(t, txn.Enqueue(ctx, "Q", Message{Payload: []byte("wake-up")}))
	require.NoError(t, txn.Commit(ctx))

	select {
	case msg := <-result:
		assert.Equal(t, []byte("wake-up"), msg.Payload)
	case <-ctx.Done():
		t.Fatal("blocking dequeue never observed the enqueue")
	}
}

// A resource.prepare/resource.commit pair addressed only by trid (as
// the transaction manager would send them, in a separate message from
// whichever call performed the dequeue) must resolve to the branch
// opened earlier under that trid.
func TestResourceProtocolAddressedByTrid(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.EnsureQueue(ctx, "Q", 3, 0, ""))

	trid := ids.NewTrid()
	txn, err := store.Begin(ctx, trid)
	require.NoError(t, err)
	require.NoError(t, txn.Enqueue(ctx, "Q", Message{Payload: []byte("via-trid")}))
	require.NoError(t, store.PrepareTrid(ctx, trid))
	require.NoError(t, store.CommitTrid(ctx, trid))

	dequeueTrid := ids.NewTrid()
	_, msg, err := store.tryDequeue(ctx, "Q", "", dequeueTrid)
	require.NoError(t, err)
	assert.Equal(t, []byte("via-trid"), msg.Payload)
	require.NoError(t, store.CommitTrid(ctx, dequeueTrid))

	err = store.CommitTrid(ctx, dequeueTrid)
	assert.Error(t, err, "a completed branch is no longer addressable by trid")
}
