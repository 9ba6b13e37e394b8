package service

import "github.com/casual-go/casual/internal/ids"

// AckMetric is the per-call outcome a server reports on
// service.acknowledge.
type AckMetric struct {
	DurationNanos int64
	Failed        bool
}

// AckResult reports what Acknowledge did beyond folding in the call's
// metric. A draining instance (its process is mid prepare-shutdown) is
// detached instead of returned to idle; Drained tells the caller this
// instance's process can now be considered for termination, and
// ServiceGoneEmpty/ServiceName mirror PrepareShutdownResult's fields
// for the single entry this ACK may have just emptied.
type AckResult struct {
	Drained          bool
	ServiceGoneEmpty bool
	ServiceName      string
}

// Acknowledge transitions a busy sequential instance back to idle and
// folds the call's metric into the entry's rolling counters, draining
// one pending lookup for the same service if any is waiting (spec
// §4.4's reserve/ACK state machine). If prepare-shutdown already
// marked this instance's process draining, the instance is detached
// instead — per Design Notes' "shutdown is honored only between calls,
// never mid-call", this is the first point after the in-flight call
// where that is safe.
func (d *Directory) Acknowledge(inst InstanceHandle, metric AckMetric) AckResult {
	d.mu.Lock()
	sequential, ok := d.instances.get(int(inst))
	if !ok || sequential.State != StateBusy {
		d.mu.Unlock()
		return AckResult{}
	}
	entryHandle := sequential.Reservation.ReservedService
	entry, hasEntry := d.entries.get(int(entryHandle))
	if hasEntry {
		entry.Metric.Invocations++
		entry.Metric.LastDuration = metric.DurationNanos
		entry.Metric.LastFailed = metric.Failed
	}

	var result AckResult
	if d.isDraining(sequential.Process) {
		result.Drained = true
		if hasEntry {
			kept := entry.Sequential[:0]
			for _, h := range entry.Sequential {
				if h != inst {
					kept = append(kept, h)
				}
			}
			entry.Sequential = kept
		}
		d.instances.release(int(inst))
	} else {
		sequential.State = StateIdle
		sequential.Invocations++
		sequential.Reservation = Reservation{}
		d.instances.set(int(inst), sequential)
	}

	var name string
	if hasEntry {
		d.entries.set(int(entryHandle), entry)
		name = entry.Descriptor.Name
		if result.Drained && len(entry.Sequential) == 0 && len(entry.Concurrent) == 0 && len(entry.Routes) == 0 {
			result.ServiceGoneEmpty = true
			result.ServiceName = name
			d.removeEntryIfEmpty(entry, entryHandle)
		}
	}
	d.mu.Unlock()

	if name != "" && !result.Drained {
		d.drainPending(name)
	}
	return result
}

// FailedReservation identifies a caller who needs to be told their
// in-flight call failed because the server holding the reservation
// died.
type FailedReservation struct {
	Caller      ids.Handle
	Correlation ids.Correlation
}

// DetachProcess removes every sequential instance owned by proc, as
// when the domain orchestrator reports the owning process exited. Any
// instance that was busy yields a FailedReservation so the caller can
// be told service-error (spec: "the directory synthesizes an ACK with
// a failure metric and surfaces service-error to the caller") before
// the instance is dropped; any entry left empty is removed.
func (d *Directory) DetachProcess(proc ids.Handle) []FailedReservation {
	d.mu.Lock()
	defer d.mu.Unlock()

	var failed []FailedReservation
	for _, handle := range d.byName {
		entry, ok := d.entries.get(int(handle))
		if !ok {
			continue
		}
		kept := entry.Sequential[:0]
		for _, h := range entry.Sequential {
			inst, ok := d.instances.get(int(h))
			if !ok || inst.Process != proc {
				kept = append(kept, h)
				continue
			}
			if inst.State == StateBusy {
				entry.Metric.Invocations++
				entry.Metric.LastFailed = true
				failed = append(failed, FailedReservation{
					Caller:      inst.Reservation.Caller,
					Correlation: inst.Reservation.Correlation,
				})
			}
			d.instances.release(int(h))
		}
		entry.Sequential = kept
		d.entries.set(int(handle), entry)
		d.removeEntryIfEmpty(entry, handle)
	}
	delete(d.draining, proc)
	return failed
}
