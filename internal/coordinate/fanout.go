// Package coordinate provides the two reusable primitives every
// multi-target casual operation is built on: a fan-out completion
// coordinator and a deadline wheel. Grounded in shape on the teacher's
// registry-of-listeners pattern (control/metrics.go, control/hotreload.go),
// generalized from "fire a callback on every update" to "fire a
// callback once every pending entry resolves".
package coordinate

import (
	"sync"

	"github.com/casual-go/casual/internal/ids"
)

// Outcome is the terminal state of one fan-out target.
type Outcome int

const (
	Pending Outcome = iota
	Received
	Failed
)

// Entry is one unit of fan-out work: an opaque target id plus the
// correlation it's tracked by.
type Entry struct {
	Target      string
	Correlation ids.Correlation
}

// Fanout tracks a set of pending (target, correlation) entries and
// fires a callback exactly once, when every entry has transitioned out
// of Pending. It is the only mechanism casual uses for multi-target
// discovery, prepare/commit scatter-gather, and shutdown acks.
type Fanout struct {
	mu       sync.Mutex
	outcomes map[ids.Correlation]Outcome
	targets  map[ids.Correlation]string
	fired    bool
	callback func(results map[ids.Correlation]Outcome)
}

// Register starts tracking a new fan-out round. The callback fires
// synchronously, from whichever goroutine delivers the last outcome.
func Register(entries []Entry, callback func(results map[ids.Correlation]Outcome)) *Fanout {
	f := &Fanout{
		outcomes: make(map[ids.Correlation]Outcome, len(entries)),
		targets:  make(map[ids.Correlation]string, len(entries)),
		callback: callback,
	}
	for _, e := range entries {
		f.outcomes[e.Correlation] = Pending
		f.targets[e.Correlation] = e.Target
	}
	f.maybeFire()
	return f
}

// Deliver marks one correlation as Received.
func (f *Fanout) Deliver(correlation ids.Correlation) {
	f.resolve(correlation, Received)
}

// Fail marks one correlation as Failed.
func (f *Fanout) Fail(correlation ids.Correlation) {
	f.resolve(correlation, Failed)
}

// FailID marks every still-pending entry belonging to target as Failed
// in one bulk update — used when a process dies mid fan-out.
func (f *Fanout) FailID(target string) {
	f.mu.Lock()
	for c, t := range f.targets {
		if t == target && f.outcomes[c] == Pending {
			f.outcomes[c] = Failed
		}
	}
	f.mu.Unlock()
	f.maybeFire()
}

func (f *Fanout) resolve(correlation ids.Correlation, outcome Outcome) {
	f.mu.Lock()
	if cur, ok := f.outcomes[correlation]; ok && cur == Pending {
		f.outcomes[correlation] = outcome
	}
	f.mu.Unlock()
	f.maybeFire()
}

func (f *Fanout) maybeFire() {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		return
	}
	for _, o := range f.outcomes {
		if o == Pending {
			f.mu.Unlock()
			return
		}
	}
	f.fired = true
	snapshot := make(map[ids.Correlation]Outcome, len(f.outcomes))
	for k, v := range f.outcomes {
		snapshot[k] = v
	}
	cb := f.callback
	f.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns the current outcome of every tracked entry, for
// callers that want to inspect state without waiting for completion.
func (f *Fanout) Snapshot() map[ids.Correlation]Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[ids.Correlation]Outcome, len(f.outcomes))
	for k, v := range f.outcomes {
		out[k] = v
	}
	return out
}
