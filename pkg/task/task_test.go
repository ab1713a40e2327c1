package task_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/task"
)

func TestStatusIsTerminal(t *testing.T) {
	terminal := []task.Status{task.StatusCompleted, task.StatusFailed, task.StatusCancelled, task.StatusSkipped}
	for _, s := range terminal {
		require.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []task.Status{task.StatusQueued, task.StatusRunning}
	for _, s := range nonTerminal {
		require.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]task.Priority{
		"":       task.PriorityNormal,
		"normal": task.PriorityNormal,
		"low":    task.PriorityLow,
		"high":   task.PriorityHigh,
		"urgent": task.PriorityUrgent,
	}
	for input, want := range cases {
		got, ok := task.ParsePriority(input)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := task.ParsePriority("bogus")
	require.False(t, ok)
}
