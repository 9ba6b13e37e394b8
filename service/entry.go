// Package service implements casual's service directory: the
// per-domain map from service name to candidate provider instances,
// reservation of sequential instances for callers, the four-context
// lookup matrix, and per-service metrics.
//
// Cyclic references (service entry <-> instance, instance <-> its
// current reservation) are modeled as an arena of slots addressed by
// stable integer handles rather than raw pointers, per Design Notes
// §9. Grounded in shape on the teacher's generic pool.ObjectPool —
// generalized from a reusable-object pool into a stable-handle arena,
// since casual's entries are looked up by handle for their whole
// lifetime rather than borrowed and returned.
package service

import (
	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
)

// EntryHandle addresses one service entry in the directory's arena.
type EntryHandle int

// InstanceHandle addresses one sequential instance in the directory's
// arena.
type InstanceHandle int

const invalidHandle = -1

// InstanceState is a sequential instance's reservation state.
type InstanceState int

const (
	StateIdle InstanceState = iota
	StateBusy
)

// Reservation is the busy-state payload of a sequential instance.
type Reservation struct {
	Caller          ids.Handle
	Correlation     ids.Correlation
	ReservedService EntryHandle
}

// SequentialInstance is a local server's advertised instance of a
// service: one OS process, one descriptor, idle/busy per-service.
type SequentialInstance struct {
	Process     ids.Handle
	State       InstanceState
	Reservation Reservation
	Invocations uint64
}

// ConcurrentInstance is a remote (gateway) instance. Kept sorted by
// (Property, Order, Hops) so the best candidate is always first.
type ConcurrentInstance struct {
	Gateway  string
	Property Property
	Order    int
	Hops     int
}

// Property ranks a concurrent instance's provenance; lower sorts
// first regardless of Order/Hops (scenario S3).
type Property int

const (
	PropertyConfigured Property = iota
	PropertyDiscovered
)

// Metric is the rolling per-service counter set.
type Metric struct {
	Invocations     uint64
	LastDuration    int64 // nanoseconds
	LastFailed      bool
}

// Entry is one named service in the directory.
type Entry struct {
	Descriptor  wire.ServiceDescriptor
	Sequential  []InstanceHandle
	Concurrent  []ConcurrentInstance
	Metric      Metric
	Routes      []string
	handle      EntryHandle
}

// arena is a stable-handle slot store: Get/Release never reuse a
// handle for a different live value while one is held, and a released
// slot's handle is recycled only once fully detached, giving casual's
// directory "no raw back-pointers" as Design Notes §9 requires — a
// handle is just an index, and a stale handle addressing a freed slot
// is detected via the alive bitmap rather than dereferenced.
type arena[T any] struct {
	slots []T
	alive []bool
	free  []int
}

func newArena[T any]() *arena[T] {
	return &arena[T]{}
}

func (a *arena[T]) alloc(v T) int {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx] = v
		a.alive[idx] = true
		return idx
	}
	a.slots = append(a.slots, v)
	a.alive = append(a.alive, true)
	return len(a.slots) - 1
}

func (a *arena[T]) get(idx int) (T, bool) {
	var zero T
	if idx < 0 || idx >= len(a.slots) || !a.alive[idx] {
		return zero, false
	}
	return a.slots[idx], true
}

func (a *arena[T]) set(idx int, v T) {
	if idx >= 0 && idx < len(a.slots) && a.alive[idx] {
		a.slots[idx] = v
	}
}

func (a *arena[T]) release(idx int) {
	if idx < 0 || idx >= len(a.slots) || !a.alive[idx] {
		return
	}
	var zero T
	a.slots[idx] = zero
	a.alive[idx] = false
	a.free = append(a.free, idx)
}
