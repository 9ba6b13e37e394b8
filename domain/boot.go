package domain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
	"golang.org/x/sync/errgroup"
)

// Process is a running instance of a Server or Executable: its OS
// handle, its assigned ipc id (once connected), and the config it was
// spawned from.
type Process struct {
	Alias   string
	PID     int
	IPC     ids.IPC
	Group   string
	Restart RestartPolicy
	cmd     *exec.Cmd
	connected chan struct{}
	exited    chan struct{} // closed by the Supervisor's reap loop, the only caller of wait4 for this pid
}

// Handle returns the process/ipc handle pair addressed by peers.
func (p *Process) Handle() ids.Handle {
	return ids.Handle{PID: p.PID, IPC: p.IPC}
}

// Orchestrator owns the full set of running processes for one domain
// and the event bus they're announced on. Grounded in shape on the
// teacher's HioloadWS facade (server/hioload.go): every subsystem is
// built at construction and addressed through a mutex-guarded struct,
// with an explicit started flag and a bounded Shutdown.
type Orchestrator struct {
	mu        sync.Mutex
	model     *Model
	domainHome string
	processes map[string]*Process // by alias
	pending   map[int]*Process    // by PID, awaiting connect
	order     []string            // boot order of groups
	bus       *EventBus
	started   bool
	id        ids.Domain
}

// NewOrchestrator constructs an orchestrator from a validated model. It
// does not spawn anything; call Boot for that.
func NewOrchestrator(model *Model, domainHome string) (*Orchestrator, error) {
	order, err := topologicalOrder(model.Groups)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		model:      model,
		domainHome: domainHome,
		processes:  make(map[string]*Process),
		pending:    make(map[int]*Process),
		order:      order,
		bus:        NewEventBus(),
		id:         ids.NewDomain(),
	}, nil
}

// ID returns this domain's stable identity, used by discovery to avoid
// rebroadcast loops.
func (o *Orchestrator) ID() ids.Domain { return o.id }

// Events returns the orchestrator's event bus for lifecycle
// subscribers (supervision, tasks, external callers).
func (o *Orchestrator) Events() *EventBus { return o.bus }

// topologicalOrder sorts groups so that every group appears after all
// of its dependencies, detecting cycles as invalid configuration.
func topologicalOrder(groups []Group) ([]string, error) {
	byName := make(map[string]Group, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(groups))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return casualerr.Newf(casualerr.KindInvalidConfiguration, "group dependency cycle at %q", name)
		}
		color[name] = gray
		for _, dep := range byName[name].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, g := range groups {
		if err := visit(g.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// membersOf returns every server/executable alias belonging to group,
// in configuration order.
func (o *Orchestrator) membersOf(group string) []string {
	var aliases []string
	for _, s := range o.model.Servers {
		for _, m := range s.Memberships {
			if m == group {
				aliases = append(aliases, s.Alias)
				break
			}
		}
	}
	for _, e := range o.model.Executables {
		for _, m := range e.Memberships {
			if m == group {
				aliases = append(aliases, e.Alias)
				break
			}
		}
	}
	return aliases
}

// Boot starts every configured server/executable in dependency order,
// all members of a group launched concurrently via errgroup (the only
// third-party concurrency coordinator anywhere in the reference pack,
// in golang.org/x/sync). Boot returns once every process in every
// group has reported its connect message or the connectTimeout elapses.
func (o *Orchestrator) Boot(ctx context.Context, connectTimeout time.Duration) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return casualerr.New(casualerr.KindInvalidArgument, "domain already booted")
	}
	o.started = true
	o.mu.Unlock()

	for _, group := range o.order {
		members := o.membersOf(group)
		if len(members) == 0 {
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, alias := range members {
			alias := alias
			g.Go(func() error {
				return o.spawnAlias(gctx, alias, connectTimeout)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) spawnAlias(ctx context.Context, alias string, connectTimeout time.Duration) error {
	path, args, env, instances, restart := o.lookupSpawnSpec(alias)
	if instances <= 0 {
		instances = 1
	}

	for i := 0; i < instances; i++ {
		proc, err := o.spawnOne(path, args, env, alias, restart)
		if err != nil {
			return casualerr.Newf(casualerr.KindInternalUnexpected, "spawn %q: %v", alias, err)
		}

		o.mu.Lock()
		o.pending[proc.PID] = proc
		o.mu.Unlock()

		select {
		case <-proc.connected:
		case <-time.After(connectTimeout):
			return casualerr.Newf(casualerr.KindTimeout, "process %q did not connect within %v", alias, connectTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}

		o.mu.Lock()
		key := alias
		if instances > 1 {
			key = fmt.Sprintf("%s.%d", alias, i+1)
		}
		delete(o.pending, proc.PID)
		o.processes[key] = proc
		o.mu.Unlock()

		o.bus.Publish(Event{Topic: "process.spawn", Payload: proc.Handle()})
	}
	return nil
}

func (o *Orchestrator) lookupSpawnSpec(alias string) (path string, args []string, env map[string]string, instances int, restart RestartPolicy) {
	for _, s := range o.model.Servers {
		if s.Alias == alias {
			return s.Path, s.Arguments, s.Environment, s.Instances, RestartPolicy{Restart: s.Restart, Cooldown: s.RestartCooldown}
		}
	}
	for _, e := range o.model.Executables {
		if e.Alias == alias {
			return e.Path, e.Arguments, e.Environment, e.Instances, RestartPolicy{Restart: e.Restart}
		}
	}
	return "", nil, nil, 1, RestartPolicy{}
}

// spawnOne forks the process and hands back a Process whose connected
// channel closes when NotifyConnected is called for its pid.
func (o *Orchestrator) spawnOne(path string, args []string, env map[string]string, alias string, restart RestartPolicy) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "CASUAL_DOMAIN_HOME="+o.domainHome)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &Process{
		Alias:     alias,
		PID:       cmd.Process.Pid,
		Group:     alias,
		Restart:   restart,
		cmd:       cmd,
		connected: make(chan struct{}),
		exited:    make(chan struct{}),
	}, nil
}

// NotifyConnected marks a spawned process as having completed its
// connect handshake, unblocking Boot's wait for it. Nothing in this
// package calls it, the Supervisor included; the caller that observes
// the process's connect frame does.
func (o *Orchestrator) NotifyConnected(pid int, ipc ids.IPC) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[pid]
	if !ok {
		return
	}
	p.IPC = ipc
	select {
	case <-p.connected:
	default:
		close(p.connected)
	}
}

// Process looks up a running process by alias (or "alias.N" for the
// Nth instance).
func (o *Orchestrator) Process(alias string) (*Process, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.processes[alias]
	return p, ok
}

// Processes returns a snapshot of every running process, keyed by
// alias.
func (o *Orchestrator) Processes() map[string]*Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*Process, len(o.processes))
	for k, v := range o.processes {
		out[k] = v
	}
	return out
}
