package domain

import (
	"syscall"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
)

// ShutdownConfig controls the soft/hard phases of domain teardown.
type ShutdownConfig struct {
	// SoftTimeout is how long a process gets to exit on its own after
	// a soft shutdown request before it is sent SIGTERM.
	SoftTimeout time.Duration
	// KillTimeout is how long a process gets after SIGTERM before it
	// is sent SIGKILL.
	KillTimeout time.Duration
}

// DefaultShutdownConfig mirrors the teacher's ShutdownTimeout default
// (server/hioload.go DefaultConfig), split into the two phases casual
// distinguishes.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		SoftTimeout: 5 * time.Second,
		KillTimeout: 2 * time.Second,
	}
}

// requestSoftShutdown is sent to a process's inbound device to ask it
// to finish in-flight work and exit voluntarily. Wiring this message
// through to the process's pump is the service/queue layer's job; the
// orchestrator only tracks the timeline and escalates.
func (o *Orchestrator) requestSoftShutdown(alias string) {
	o.Events().Publish(Event{Topic: "process.shutdown_requested", Payload: alias})
}

// Shutdown tears every running process down in reverse boot order:
// ask nicely (soft, per cfg.SoftTimeout), then SIGTERM, then SIGKILL,
// mirroring the teacher's Shutdown-with-timeout pattern (select
// against a done channel and a timer) but escalating through two
// signal stages rather than a single deadline.
func (o *Orchestrator) Shutdown(cfg ShutdownConfig) error {
	groups := make([]string, len(o.order))
	copy(groups, o.order)
	for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
		groups[i], groups[j] = groups[j], groups[i]
	}

	var firstErr error
	for _, group := range groups {
		for _, alias := range o.membersOf(group) {
			// Instances of a multi-instance alias are keyed "alias.N".
			o.mu.Lock()
			var keys []string
			for key, p := range o.processes {
				if p.Alias == alias {
					keys = append(keys, key)
				}
			}
			o.mu.Unlock()
			for _, key := range keys {
				if err := o.shutdownAlias(key, cfg); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (o *Orchestrator) shutdownAlias(alias string, cfg ShutdownConfig) error {
	o.mu.Lock()
	proc, ok := o.processes[alias]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	o.requestSoftShutdown(alias)

	// proc.exited is closed by the Supervisor's SIGCHLD reap loop, the
	// single wait4 caller for this pid — Shutdown must never call
	// cmd.Wait() itself, since a non-blocking wait4(-1) racing a
	// blocking wait4(pid) for the same child is undefined which one
	// reaps it first.
	select {
	case <-proc.exited:
		return nil
	case <-time.After(cfg.SoftTimeout):
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return casualerr.Newf(casualerr.KindInternalUnexpected, "sigterm %q: %v", alias, err)
	}
	select {
	case <-proc.exited:
		return nil
	case <-time.After(cfg.KillTimeout):
	}

	if err := proc.cmd.Process.Kill(); err != nil {
		return casualerr.Newf(casualerr.KindInternalUnexpected, "sigkill %q: %v", alias, err)
	}
	<-proc.exited
	return nil
}
