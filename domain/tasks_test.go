package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffDetectsBootShutdownRestart(t *testing.T) {
	current := &Model{
		Servers: []Server{
			{Alias: "keep", Path: "/bin/keep"},
			{Alias: "gone", Path: "/bin/gone"},
			{Alias: "changed", Path: "/bin/old"},
		},
	}
	next := &Model{
		Servers: []Server{
			{Alias: "keep", Path: "/bin/keep"},
			{Alias: "changed", Path: "/bin/new"},
			{Alias: "fresh", Path: "/bin/fresh"},
		},
	}

	tasks := Diff(current, next)

	byAlias := make(map[string]TaskKind, len(tasks))
	for _, task := range tasks {
		byAlias[task.Alias] = task.Kind
	}

	assert.Equal(t, TaskShutdown, byAlias["gone"])
	assert.Equal(t, TaskBoot, byAlias["fresh"])
	assert.Equal(t, TaskRestart, byAlias["changed"])
	_, untouched := byAlias["keep"]
	assert.False(t, untouched, "unchanged alias produces no task")
}

func TestDiffEmptyWhenIdentical(t *testing.T) {
	m := &Model{Servers: []Server{{Alias: "s", Path: "/bin/s"}}}
	assert.Empty(t, Diff(m, m))
}
