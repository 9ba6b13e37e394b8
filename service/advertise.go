package service

import (
	"sort"

	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
)

// AdvertiseDelta is a server's service.advertise message: add/remove
// service names for one process, subject to a restricted-names filter
// configured for that server.
type AdvertiseDelta struct {
	Process    ids.Handle
	Add        []wire.ServiceDescriptor
	Remove     []string
	Restricted map[string]bool // nil means unrestricted
}

// Advertise applies a sequential server's advertise delta. Added
// services get an entry (created if absent) and an attached instance;
// a name outside Restricted is silently dropped (and should be logged
// by the caller, which has the logger). Removed names detach the
// instance and delete the entry if it becomes empty.
func (d *Directory) Advertise(delta AdvertiseDelta) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, desc := range delta.Add {
		if delta.Restricted != nil && !delta.Restricted[desc.Name] {
			continue
		}
		entry, handle := d.ensureEntry(desc, nil)
		if d.hasSequentialInstance(entry, delta.Process) {
			continue // double advertise of the same {process, service} is a no-op
		}
		inst := &SequentialInstance{Process: delta.Process, State: StateIdle}
		idx := d.instances.alloc(inst)
		entry.Sequential = append(entry.Sequential, InstanceHandle(idx))
		d.entries.set(int(handle), entry)
		d.drainPending(desc.Name)
	}

	for _, name := range delta.Remove {
		d.detachSequential(name, delta.Process)
	}
}

func (d *Directory) hasSequentialInstance(e *Entry, proc ids.Handle) bool {
	for _, h := range e.Sequential {
		if inst, ok := d.instances.get(int(h)); ok && inst.Process == proc {
			return true
		}
	}
	return false
}

func (d *Directory) detachSequential(name string, proc ids.Handle) {
	entry, handle, ok := d.entryFor(name)
	if !ok {
		return
	}
	kept := entry.Sequential[:0]
	for _, h := range entry.Sequential {
		inst, ok := d.instances.get(int(h))
		if ok && inst.Process == proc {
			d.instances.release(int(h))
			continue
		}
		kept = append(kept, h)
	}
	entry.Sequential = kept
	d.entries.set(int(handle), entry)
	d.removeEntryIfEmpty(entry, handle)
}

// ConcurrentDelta is a gateway's service.concurrent.advertise message.
type ConcurrentDelta struct {
	Gateway string
	Order   int
	Add     []ConcurrentCandidate
	Remove  []string
	Reset   bool
}

// ConcurrentCandidate is one added concurrent instance.
type ConcurrentCandidate struct {
	Name     string
	Hops     int
	Property Property
}

// ConcurrentAdvertise applies a gateway's concurrent advertise,
// keeping each entry's Concurrent slice sorted by (Property, Order,
// Hops) per spec §4.4.
func (d *Directory) ConcurrentAdvertise(delta ConcurrentDelta) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if delta.Reset {
		for _, handle := range d.byName {
			entry, ok := d.entries.get(int(handle))
			if !ok {
				continue
			}
			kept := entry.Concurrent[:0]
			for _, c := range entry.Concurrent {
				if c.Gateway != delta.Gateway {
					kept = append(kept, c)
				}
			}
			entry.Concurrent = kept
			d.entries.set(int(handle), entry)
			d.removeEntryIfEmpty(entry, handle)
		}
	}

	for _, name := range delta.Remove {
		entry, handle, ok := d.entryFor(name)
		if !ok {
			continue
		}
		kept := entry.Concurrent[:0]
		for _, c := range entry.Concurrent {
			if c.Gateway != delta.Gateway {
				kept = append(kept, c)
			}
		}
		entry.Concurrent = kept
		d.entries.set(int(handle), entry)
		d.removeEntryIfEmpty(entry, handle)
	}

	for _, cand := range delta.Add {
		entry, handle := d.ensureEntry(wire.ServiceDescriptor{Name: cand.Name}, nil)
		entry.Concurrent = append(entry.Concurrent, ConcurrentInstance{
			Gateway:  delta.Gateway,
			Property: cand.Property,
			Order:    delta.Order,
			Hops:     cand.Hops,
		})
		sortConcurrent(entry.Concurrent)
		d.entries.set(int(handle), entry)
		d.drainPending(cand.Name)
	}
}

func sortConcurrent(c []ConcurrentInstance) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Property != c[j].Property {
			return c[i].Property < c[j].Property
		}
		if c[i].Order != c[j].Order {
			return c[i].Order < c[j].Order
		}
		return c[i].Hops < c[j].Hops
	})
}

// SetRoutes wires alias <-> name route entries at configuration load
// time, per spec's "If configuration maps alias -> [name1, name2,
// ...], a lookup for nameK transparently resolves to the alias entry".
func (d *Directory) SetRoutes(alias string, names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, handle := d.ensureEntry(wire.ServiceDescriptor{Name: alias}, names)
	entry.Routes = names
	d.entries.set(int(handle), entry)
	for _, n := range names {
		d.byRoute[n] = handle
	}
}
