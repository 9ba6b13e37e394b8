//go:build !windows

package domain

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casual-go/casual/internal/ids"
)

// Supervisor reaps exited children and either restarts them (subject
// to their RestartPolicy) or records a permanent exit, publishing
// process.exit on the bus either way. Grounded on original_source's
// domain supervision loop (SIGCHLD-driven waitpid reap), translated to
// Go idiom: os/signal.Notify delivers SIGCHLD to a channel instead of
// a signal mask + sigwait, and syscall.Wait4 reaps non-blockingly in a
// loop since one SIGCHLD can coalesce several exits.
type Supervisor struct {
	orch   *Orchestrator
	sig    chan os.Signal
	done   chan struct{}
	respawn func(alias string, restart RestartPolicy) (*Process, error)
}

// NewSupervisor wires a supervisor to an orchestrator. respawn is
// called to relaunch a process whose RestartPolicy.Restart is true;
// tests may substitute a fake to avoid touching the OS.
func NewSupervisor(orch *Orchestrator, respawn func(alias string, restart RestartPolicy) (*Process, error)) *Supervisor {
	return &Supervisor{
		orch:    orch,
		sig:     make(chan os.Signal, 16),
		done:    make(chan struct{}),
		respawn: respawn,
	}
}

// Run installs the SIGCHLD handler and reaps until Stop is called.
// Intended to run in its own goroutine.
func (s *Supervisor) Run() {
	signal.Notify(s.sig, syscall.SIGCHLD)
	defer signal.Stop(s.sig)

	for {
		select {
		case <-s.done:
			return
		case <-s.sig:
			s.reapAll()
		}
	}
}

// Stop terminates the reap loop. It does not touch running processes;
// use Orchestrator.Shutdown for that.
func (s *Supervisor) Stop() {
	close(s.done)
}

// reapAll drains every exited child reported by a single SIGCHLD,
// since signals coalesce and one delivery can represent several exits.
func (s *Supervisor) reapAll() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		s.handleExit(pid, status)
	}
}

func (s *Supervisor) handleExit(pid int, status syscall.WaitStatus) {
	s.orch.mu.Lock()
	var alias string
	var proc *Process
	for k, p := range s.orch.processes {
		if p.PID == pid {
			alias = k
			proc = p
			delete(s.orch.processes, k)
			break
		}
	}
	s.orch.mu.Unlock()

	if proc == nil {
		return
	}
	close(proc.exited) // the only wait4 caller for this pid; Shutdown waits on this instead of cmd.Wait()

	s.orch.Events().Publish(Event{Topic: "process.exit", Payload: ExitReport{
		Alias:  alias,
		Handle: proc.Handle(),
		Status: status,
	}})

	if !proc.Restart.Restart {
		return
	}

	go func() {
		if proc.Restart.Cooldown > 0 {
			time.Sleep(proc.Restart.Cooldown)
		}
		fresh, err := s.respawn(proc.Alias, proc.Restart)
		if err != nil {
			s.orch.Events().Publish(Event{Topic: "process.restart_failed", Payload: RestartFailure{Alias: alias, Err: err}})
			return
		}
		s.orch.mu.Lock()
		s.orch.processes[alias] = fresh
		s.orch.mu.Unlock()
		s.orch.Events().Publish(Event{Topic: "process.spawn", Payload: fresh.Handle()})
	}()
}

// ExitReport is the payload of a process.exit event.
type ExitReport struct {
	Alias  string
	Handle ids.Handle
	Status syscall.WaitStatus
}

// RestartFailure is the payload of a process.restart_failed event.
type RestartFailure struct {
	Alias string
	Err   error
}
