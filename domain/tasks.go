package domain

import (
	"context"
	"time"

	"github.com/casual-go/casual/internal/coordinate"
	"github.com/casual-go/casual/internal/ids"
)

// defaultConnectTimeout bounds a single boot/restart task spawned
// outside of Boot's group-wide wait.
const defaultConnectTimeout = 10 * time.Second

// TaskKind names the shape of a single reconfiguration task.
type TaskKind int

const (
	TaskBoot TaskKind = iota
	TaskShutdown
	TaskRestart
)

// Task is one unit of work produced by diffing two configuration
// models: a process to boot, shut down, or restart.
type Task struct {
	Kind  TaskKind
	Alias string
}

// Diff compares the currently running model against a new one and
// returns the tasks needed to converge: shutdowns for removed
// aliases, boots for added ones, restarts for aliases whose spawn
// spec changed.
func Diff(current, next *Model) []Task {
	curAliases := aliasSpecs(current)
	nextAliases := aliasSpecs(next)

	var tasks []Task
	for alias := range curAliases {
		if _, ok := nextAliases[alias]; !ok {
			tasks = append(tasks, Task{Kind: TaskShutdown, Alias: alias})
		}
	}
	for alias, spec := range nextAliases {
		old, existed := curAliases[alias]
		switch {
		case !existed:
			tasks = append(tasks, Task{Kind: TaskBoot, Alias: alias})
		case old != spec:
			tasks = append(tasks, Task{Kind: TaskRestart, Alias: alias})
		}
	}
	return tasks
}

// aliasSpecs flattens servers and executables into a comparable
// fingerprint per alias, so Diff can detect a changed path/arguments
// without caring which section the alias came from.
func aliasSpecs(m *Model) map[string]string {
	out := make(map[string]string)
	for _, s := range m.Servers {
		out[s.Alias] = s.Path + "\x00" + joinArgs(s.Arguments)
	}
	for _, e := range m.Executables {
		out[e.Alias] = e.Path + "\x00" + joinArgs(e.Arguments)
	}
	return out
}

func joinArgs(args []string) string {
	out := ""
	for _, a := range args {
		out += a + "\x00"
	}
	return out
}

// RunTasks applies a task list against the orchestrator, tracking
// completion with a fan-out coordinator (internal/coordinate) keyed by
// a synthetic correlation per task so the caller gets one callback
// once every task resolves, the same pattern the service directory
// uses for multi-target completion.
func (o *Orchestrator) RunTasks(tasks []Task) *coordinate.Fanout {
	entries := make([]coordinate.Entry, len(tasks))
	correlations := make([]ids.Correlation, len(tasks))
	for i, t := range tasks {
		c := ids.NewCorrelation()
		correlations[i] = c
		entries[i] = coordinate.Entry{Target: t.Alias, Correlation: c}
	}

	fanout := coordinate.Register(entries, func(results map[ids.Correlation]coordinate.Outcome) {
		o.Events().Publish(Event{Topic: "task.done", Payload: results})
	})

	for i, t := range tasks {
		t, c := t, correlations[i]
		go func() {
			if err := o.runTask(t); err != nil {
				fanout.Fail(c)
				return
			}
			fanout.Deliver(c)
		}()
	}
	return fanout
}

func (o *Orchestrator) runTask(t Task) error {
	switch t.Kind {
	case TaskShutdown:
		return o.shutdownAlias(t.Alias, DefaultShutdownConfig())
	case TaskBoot, TaskRestart:
		// Booting or restarting a single alias reuses spawnAlias's
		// connect-wait discipline with the default timeout; a caller
		// needing a different timeout should drive spawnAlias directly.
		return o.spawnAlias(context.Background(), t.Alias, defaultConnectTimeout)
	}
	return nil
}
