package service

import "github.com/casual-go/casual/internal/ids"

// PrepareShutdownResult is the directory's answer to prepare-shutdown,
// per spec §4.4: enough for the orchestrator to terminate the listed
// processes without losing in-flight work.
type PrepareShutdownResult struct {
	ServicesGoneEmpty  []string    // entries that lost their last instance as a result
	ExtractedSequential []ids.Handle // processes whose idle instance(s) were removed immediately
	Unknown            []ids.Handle // requested processes the directory had no instance for
}

// PrepareShutdown removes every idle sequential instance belonging to
// processes immediately; an instance still busy keeps its reservation
// and is instead marked draining, so it stops being offered to new
// lookups but survives until its caller ACKs (Design Notes' "shutdown
// is honored only between calls, never mid-call") — Acknowledge then
// detaches it instead of returning it to idle. The orchestrator uses
// the returned ServicesGoneEmpty/ExtractedSequential/Unknown sets to
// decide it is safe to terminate each process.
func (d *Directory) PrepareShutdown(processes []ids.Handle) PrepareShutdownResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining == nil {
		d.draining = make(map[ids.Handle]bool, len(processes))
	}

	requested := make(map[ids.Handle]bool, len(processes))
	found := make(map[ids.Handle]bool, len(processes))
	for _, p := range processes {
		requested[p] = true
		d.draining[p] = true
	}

	var result PrepareShutdownResult
	for _, handle := range d.byName {
		entry, ok := d.entries.get(int(handle))
		if !ok {
			continue
		}
		kept := entry.Sequential[:0]
		changed := false
		for _, h := range entry.Sequential {
			inst, ok := d.instances.get(int(h))
			if !ok || !requested[inst.Process] {
				kept = append(kept, h)
				continue
			}
			found[inst.Process] = true
			if inst.State == StateBusy {
				kept = append(kept, h) // stays reserved until its ACK; Acknowledge detaches it
				continue
			}
			result.ExtractedSequential = append(result.ExtractedSequential, inst.Process)
			d.instances.release(int(h))
			changed = true
		}
		if changed {
			entry.Sequential = kept
			d.entries.set(int(handle), entry)
			if len(entry.Sequential) == 0 && len(entry.Concurrent) == 0 && len(entry.Routes) == 0 {
				result.ServicesGoneEmpty = append(result.ServicesGoneEmpty, entry.Descriptor.Name)
				d.removeEntryIfEmpty(entry, handle)
			}
		}
	}

	for _, p := range processes {
		if !found[p] {
			result.Unknown = append(result.Unknown, p)
		}
	}
	return result
}

// isDraining reports whether proc should be excluded from new
// reservations.
func (d *Directory) isDraining(proc ids.Handle) bool {
	return d.draining != nil && d.draining[proc]
}
