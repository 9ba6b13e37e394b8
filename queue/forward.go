package queue

import (
	"context"
	"sync"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
)

// ForwardTarget is where a forwarded message goes: either another
// queue (queue-forward) or a service invocation whose reply is
// re-enqueued (service-forward).
type ForwardTarget struct {
	Queue       string        // queue-forward: destination queue name
	QueueDelay  time.Duration // delay applied to the forwarded message's availability
	Service     string        // service-forward: service to invoke
	ReplyQueue  string        // service-forward: where the reply is enqueued
}

// Invoker abstracts the call path a service-forward uses to invoke a
// service, so queue tests don't need a live service directory.
type Invoker func(ctx context.Context, service string, payload []byte) ([]byte, error)

// Forwarder runs a fixed-size pool of dequeue-and-forward workers
// against one source queue, grounded in shape on the teacher's
// internal/concurrency.Executor worker pool — generalized from a
// generic task queue to a dedicated dequeue loop per worker, since
// each forward worker's "task" is always the same operation (claim,
// forward, commit/rollback) rather than an arbitrary submitted func.
type Forwarder struct {
	store  *Store
	source string
	target ForwardTarget
	invoke Invoker

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewForwarder builds (but does not start) a forwarder for one
// configured source->target pair.
func NewForwarder(store *Store, source string, target ForwardTarget, invoke Invoker) *Forwarder {
	return &Forwarder{
		store:  store,
		source: source,
		target: target,
		invoke: invoke,
		stop:   make(chan struct{}),
	}
}

// Start launches instances concurrent forward workers.
func (f *Forwarder) Start(instances int) {
	if instances <= 0 {
		instances = 1
	}
	for i := 0; i < instances; i++ {
		f.wg.Add(1)
		go f.run()
	}
}

// Stop signals every worker to exit after its current forward
// completes and waits for them to do so.
func (f *Forwarder) Stop() {
	close(f.stop)
	f.wg.Wait()
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		txn, msg, err := f.store.tryDequeue(ctx, f.source, "", ids.Trid{})
		if err != nil {
			if casualerr.KindOf(err) == casualerr.KindNoMessage {
				select {
				case <-f.stop:
					return
				case <-time.After(20 * time.Millisecond):
					continue
				}
			}
			continue
		}

		if err := f.forwardOne(ctx, txn, msg); err != nil {
			txn.Rollback(ctx)
			continue
		}
	}
}

func (f *Forwarder) forwardOne(ctx context.Context, txn *Txn, msg Message) error {
	if f.target.Queue != "" {
		out := msg
		out.ID = "" // the source row isn't deleted until Commit; reuse would collide on id
		if f.target.QueueDelay > 0 {
			out.AvailableAt = time.Now().Add(f.target.QueueDelay)
		}
		if err := txn.Enqueue(ctx, f.target.Queue, out); err != nil {
			return err
		}
		if err := txn.Prepare(ctx); err != nil {
			return err
		}
		return txn.Commit(ctx)
	}

	if f.target.Service != "" && f.invoke != nil {
		reply, err := f.invoke(ctx, f.target.Service, msg.Payload)
		if err != nil {
			return err
		}
		out := msg
		out.ID = "" // the source row isn't deleted until Commit; reuse would collide on id
		out.Payload = reply
		if err := txn.Enqueue(ctx, f.target.ReplyQueue, out); err != nil {
			return err
		}
		if err := txn.Prepare(ctx); err != nil {
			return err
		}
		return txn.Commit(ctx)
	}

	return casualerr.New(casualerr.KindInvalidConfiguration, "forward target has neither queue nor service")
}
