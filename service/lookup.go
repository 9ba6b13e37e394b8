package service

import (
	"time"

	"github.com/casual-go/casual/internal/coordinate"
	"github.com/casual-go/casual/internal/ids"
	"github.com/eapache/queue"
)

// Context selects which of the four lookup disciplines spec §4.4
// applies to a request.
type Context int

const (
	ContextRegular Context = iota
	ContextNoBusyIntermediate
	ContextWait
	ContextForward
)

// ReplyState is the outcome a caller observes for a lookup.
type ReplyState int

const (
	ReplyIdle ReplyState = iota
	ReplyBusy
	ReplyAbsent
	ReplyTimeout
)

// Reply is the directory's answer to a lookup.Request.
type Reply struct {
	State       ReplyState
	Process     ids.Handle
	Gateway     string // set instead of Process when a concurrent instance is picked
	EntryHandle EntryHandle
}

// Request is a lookup.request per spec §4.4.
type Request struct {
	Requested   string
	Context     Context
	Caller      ids.Handle
	Correlation ids.Correlation
	Deadline    time.Time // zero means no deadline
}

// Lookup resolves a request against the four-context matrix. reply is
// invoked synchronously with an immediate answer, or later (from
// Advertise/Acknowledge/ExpireDeadlines) once a wait condition
// resolves.
func (d *Directory) Lookup(req Request, reply func(Reply)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, handle, found := d.entryFor(req.Requested)
	if !found {
		switch req.Context {
		case ContextWait:
			d.enqueuePending(req, reply)
		default:
			reply(Reply{State: ReplyAbsent})
		}
		return
	}

	if inst, instHandle, ok := d.pickIdleSequential(entry); ok {
		d.reserveSequential(entry, handle, inst, instHandle, req)
		reply(Reply{State: ReplyIdle, Process: inst.Process, EntryHandle: handle})
		return
	}

	if len(entry.Concurrent) > 0 {
		best := entry.Concurrent[0]
		entry.Metric.Invocations++
		reply(Reply{State: ReplyIdle, Gateway: best.Gateway, EntryHandle: handle})
		return
	}

	// No idle sequential instance and no concurrent candidate: every
	// sequential instance (if any) is busy.
	switch req.Context {
	case ContextRegular:
		reply(Reply{State: ReplyBusy, EntryHandle: handle})
	case ContextNoBusyIntermediate, ContextWait:
		d.enqueuePending(req, reply)
	case ContextForward:
		if inst, instHandle, ok := d.pickAnySequential(entry); ok {
			d.reserveSequential(entry, handle, inst, instHandle, req)
			reply(Reply{State: ReplyIdle, Process: inst.Process, EntryHandle: handle})
			return
		}
		reply(Reply{State: ReplyAbsent})
	}
}

func (d *Directory) enqueuePending(req Request, reply func(Reply)) {
	pl := pendingLookup{
		requested:   req.Requested,
		context:     req.Context,
		caller:      req.Caller,
		correlation: req.Correlation,
		reply:       reply,
	}
	d.pendingQueue(req.Requested).Add(pl)

	if !req.Deadline.IsZero() {
		d.deadlines.Add(coordinate.Pending{
			When:        req.Deadline,
			Correlation: req.Correlation,
			Target:      req.Requested,
		})
	}
}

// pickIdleSequential returns the best idle sequential instance: ties
// broken by fewest recent invocations (per spec's tie-break rule).
func (d *Directory) pickIdleSequential(e *Entry) (*SequentialInstance, InstanceHandle, bool) {
	var best *SequentialInstance
	var bestHandle InstanceHandle
	for _, h := range e.Sequential {
		inst, ok := d.instances.get(int(h))
		if !ok || inst.State != StateIdle || d.isDraining(inst.Process) {
			continue
		}
		if best == nil || inst.Invocations < best.Invocations {
			best = inst
			bestHandle = h
		}
	}
	return best, bestHandle, best != nil
}

// pickAnySequential returns any sequential instance regardless of
// state, for the forward context's "reserve (busy permitted)" rule.
func (d *Directory) pickAnySequential(e *Entry) (*SequentialInstance, InstanceHandle, bool) {
	for _, h := range e.Sequential {
		if inst, ok := d.instances.get(int(h)); ok && !d.isDraining(inst.Process) {
			return inst, h, true
		}
	}
	return nil, 0, false
}

func (d *Directory) reserveSequential(e *Entry, eh EntryHandle, inst *SequentialInstance, ih InstanceHandle, req Request) {
	inst.State = StateBusy
	inst.Reservation = Reservation{
		Caller:          req.Caller,
		Correlation:     req.Correlation,
		ReservedService: eh,
	}
	d.instances.set(int(ih), inst)
}

// drainPending re-attempts every waiting lookup for name, in FIFO
// order, stopping at the first one that cannot yet be satisfied.
func (d *Directory) drainPending(name string) {
	q, ok := d.pending[name]
	if !ok {
		return
	}
	for q.Length() > 0 {
		pl := q.Peek().(pendingLookup)

		entry, handle, found := d.entryFor(name)
		if !found {
			return
		}
		inst, instHandle, idle := d.pickIdleSequential(entry)
		if !idle {
			if len(entry.Concurrent) == 0 {
				return
			}
			q.Remove()
			d.deadlines.Remove(pl.correlation)
			entry.Metric.Invocations++
			pl.reply(Reply{State: ReplyIdle, Gateway: entry.Concurrent[0].Gateway, EntryHandle: handle})
			continue
		}
		q.Remove()
		d.deadlines.Remove(pl.correlation)
		d.reserveSequential(entry, handle, inst, instHandle, Request{
			Requested:   name,
			Caller:      pl.caller,
			Correlation: pl.correlation,
		})
		pl.reply(Reply{State: ReplyIdle, Process: inst.Process, EntryHandle: handle})
	}
}

// ExpireDeadlines answers every pending lookup whose deadline has
// passed with a timeout reply and removes it from its wait queue
// (scenario S6). Intended to be called periodically (e.g. from the
// owning process's pump idle hook).
func (d *Directory) ExpireDeadlines(now time.Time) {
	d.mu.Lock()
	fired, _ := d.deadlines.Expired(now)
	if len(fired) == 0 {
		d.mu.Unlock()
		return
	}
	byCorrelation := make(map[ids.Correlation]bool, len(fired))
	for _, p := range fired {
		byCorrelation[p.Correlation] = true
	}

	var toReply []func(Reply)
	for name, q := range d.pending {
		kept := queue.New()
		for q.Length() > 0 {
			item := q.Remove()
			pl := item.(pendingLookup)
			if byCorrelation[pl.correlation] {
				pl := pl
				toReply = append(toReply, pl.reply)
				continue
			}
			kept.Add(pl)
		}
		d.pending[name] = kept
	}
	d.mu.Unlock()

	for _, reply := range toReply {
		reply(Reply{State: ReplyTimeout})
	}
}
