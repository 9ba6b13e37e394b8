package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOrchestratorWithProcess spawns a single real OS process
// (no connect handshake — it's registered directly) and starts a
// Supervisor reaping it, so Shutdown's wait on proc.exited is driven
// by the same SIGCHLD path production code uses.
func newTestOrchestratorWithProcess(t *testing.T, alias string, args []string) (*Orchestrator, *Supervisor) {
	t.Helper()
	model := &Model{
		Groups:  []Group{{Name: "g"}},
		Servers: []Server{{Alias: alias, Path: "/bin/sh", Arguments: args, Memberships: []string{"g"}}},
	}
	orch, err := NewOrchestrator(model, t.TempDir())
	require.NoError(t, err)

	proc, err := orch.spawnOne("/bin/sh", args, nil, alias, RestartPolicy{})
	require.NoError(t, err)
	orch.mu.Lock()
	orch.processes[alias] = proc
	orch.mu.Unlock()

	sup := NewSupervisor(orch, func(string, RestartPolicy) (*Process, error) { return nil, nil })
	go sup.Run()
	t.Cleanup(sup.Stop)
	return orch, sup
}

func TestShutdownReturnsImmediatelyOnVoluntaryExit(t *testing.T) {
	orch, _ := newTestOrchestratorWithProcess(t, "quick", []string{"-c", "exit 0"})

	done := make(chan error, 1)
	go func() { done <- orch.Shutdown(ShutdownConfig{SoftTimeout: 2 * time.Second, KillTimeout: 2 * time.Second}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not observe the process's voluntary exit")
	}
}

func TestShutdownEscalatesToSigtermThenSigkill(t *testing.T) {
	orch, _ := newTestOrchestratorWithProcess(t, "stubborn", []string{"-c", "trap '' TERM; sleep 30"})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- orch.Shutdown(ShutdownConfig{SoftTimeout: 50 * time.Millisecond, KillTimeout: 50 * time.Millisecond})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "must wait through both soft and kill timeouts")
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never escalated to SIGKILL")
	}
}

func TestShutdownOfUnknownAliasIsANoop(t *testing.T) {
	orch, err := NewOrchestrator(&Model{}, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, orch.Shutdown(DefaultShutdownConfig()))
}
