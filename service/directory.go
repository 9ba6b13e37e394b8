package service

import (
	"sync"

	"github.com/casual-go/casual/internal/coordinate"
	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
	"github.com/casual-go/casual/metrics"
	"github.com/eapache/queue"
)

// pendingLookup is one caller waiting for an instance to free up or a
// service to be advertised.
type pendingLookup struct {
	requested   string
	context     Context
	caller      ids.Handle
	correlation ids.Correlation
	reply       func(Reply)
}

// Directory is the per-domain service directory: one per domain
// process, owning every entry and sequential-instance slot. Grounded
// on spec §4 / Design Notes §9 — an arena of entries and instances
// addressed by stable integer handles, no raw back-pointers; a dead
// process's instances are detached by handle rather than walked via
// pointer.
type Directory struct {
	mu sync.Mutex

	entries  *arena[*Entry]
	byName   map[string]EntryHandle
	byRoute  map[string]EntryHandle
	instances *arena[*SequentialInstance]

	pending map[string]*queue.Queue // name -> FIFO of pendingLookup
	deadlines *coordinate.Wheel

	draining map[ids.Handle]bool

	metrics *metrics.Registry
}

// New constructs an empty directory.
func New(reg *metrics.Registry) *Directory {
	return &Directory{
		entries:   newArena[*Entry](),
		byName:    make(map[string]EntryHandle),
		byRoute:   make(map[string]EntryHandle),
		instances: newArena[*SequentialInstance](),
		pending:   make(map[string]*queue.Queue),
		deadlines: coordinate.NewWheel(),
		metrics:   reg,
	}
}

// entryFor resolves a requested name through the route table to the
// entry that actually owns it, per spec's "lookup by any route
// resolves to the same entry".
func (d *Directory) entryFor(name string) (*Entry, EntryHandle, bool) {
	if h, ok := d.byName[name]; ok {
		e, ok := d.entries.get(int(h))
		return e, h, ok
	}
	if h, ok := d.byRoute[name]; ok {
		e, ok := d.entries.get(int(h))
		return e, h, ok
	}
	return nil, invalidHandle, false
}

// ensureEntry returns the entry for name, creating it (and wiring its
// routes) if absent.
func (d *Directory) ensureEntry(desc wire.ServiceDescriptor, routes []string) (*Entry, EntryHandle) {
	if e, h, ok := d.entryFor(desc.Name); ok {
		return e, h
	}
	e := &Entry{Descriptor: desc, Routes: routes}
	idx := d.entries.alloc(e)
	h := EntryHandle(idx)
	e.handle = h
	d.entries.set(idx, e)
	d.byName[desc.Name] = h
	for _, r := range routes {
		d.byRoute[r] = h
	}
	return e, h
}

// removeEntryIfEmpty deletes an entry once it has no instances and no
// pending lookups and no routes, per spec's entry lifecycle.
func (d *Directory) removeEntryIfEmpty(e *Entry, h EntryHandle) {
	if len(e.Sequential) > 0 || len(e.Concurrent) > 0 || len(e.Routes) > 0 {
		return
	}
	if pq, ok := d.pending[e.Descriptor.Name]; ok && pq.Length() > 0 {
		return
	}
	delete(d.byName, e.Descriptor.Name)
	d.entries.release(int(h))
}

func (d *Directory) pendingQueue(name string) *queue.Queue {
	q, ok := d.pending[name]
	if !ok {
		q = queue.New()
		d.pending[name] = q
	}
	return q
}
