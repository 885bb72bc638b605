package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    ExtractionState
		to      ExtractionState
		allowed bool
	}{
		{"discovered to pull_requested", StateDiscovered, StatePullRequested, true},
		{"discovered to failed", StateDiscovered, StateFailed, true},
		{"discovered to receiving skips pull", StateDiscovered, StateReceiving, false},
		{"discovered to completed skips everything", StateDiscovered, StateCompleted, false},
		{"pull_requested to receiving", StatePullRequested, StateReceiving, true},
		{"pull_requested to completion_pending without arrivals", StatePullRequested, StateCompletionPending, true},
		{"pull_requested to failed", StatePullRequested, StateFailed, true},
		{"pull_requested to completed skips settle", StatePullRequested, StateCompleted, false},
		{"receiving to completion_pending", StateReceiving, StateCompletionPending, true},
		{"receiving to failed", StateReceiving, StateFailed, true},
		{"receiving back to pull_requested", StateReceiving, StatePullRequested, false},
		{"completion_pending to completed", StateCompletionPending, StateCompleted, true},
		{"completion_pending to failed", StateCompletionPending, StateFailed, true},
		{"completion_pending back to receiving", StateCompletionPending, StateReceiving, false},
		{"completed is terminal", StateCompleted, StateFailed, false},
		{"failed is terminal", StateFailed, StateDiscovered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestExtractionState_IsTerminal(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateDiscovered.IsTerminal())
	assert.False(t, StatePullRequested.IsTerminal())
	assert.False(t, StateReceiving.IsTerminal())
	assert.False(t, StateCompletionPending.IsTerminal())
}

func TestIsValidExtractionState(t *testing.T) {
	assert.True(t, IsValidExtractionState(StateDiscovered))
	assert.True(t, IsValidExtractionState(StateFailed))
	assert.False(t, IsValidExtractionState(ExtractionState("paused")))
	assert.False(t, IsValidExtractionState(ExtractionState("")))
}

func TestNewExtractionTask(t *testing.T) {
	study := StudyRef{
		ID:        "store-id-1",
		StudyUID:  "1.2.3.4",
		PatientID: "PAT001",
	}

	task := NewExtractionTask(study)

	assert.Equal(t, StateDiscovered, task.State)
	assert.Equal(t, study, task.Study)
	assert.False(t, task.StartedAt.IsZero())
	assert.Equal(t, 0, task.Received)
	assert.Equal(t, 0, task.WriteErrors)
	assert.Empty(t, task.Error)
}

func TestSetTaskState_DoesNotMutateOriginal(t *testing.T) {
	original := NewExtractionTask(StudyRef{ID: "s1", StudyUID: "1.2.3"})

	updated := SetTaskState(original, StatePullRequested)

	assert.Equal(t, StateDiscovered, original.State)
	assert.Equal(t, StatePullRequested, updated.State)
	assert.True(t, updated.UpdatedAt.After(original.StartedAt) || updated.UpdatedAt.Equal(original.StartedAt))
}

func TestFailTask_RecordsError(t *testing.T) {
	task := NewExtractionTask(StudyRef{ID: "s1", StudyUID: "1.2.3"})

	failed := FailTask(task, "move rejected")

	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, "move rejected", failed.Error)
	assert.Equal(t, StateDiscovered, task.State, "original task must stay untouched")
}

func TestUpdateTaskProgress(t *testing.T) {
	task := NewExtractionTask(StudyRef{ID: "s1", StudyUID: "1.2.3"})

	updated := UpdateTaskProgress(task, 7, 1)

	assert.Equal(t, 7, updated.Received)
	assert.Equal(t, 1, updated.WriteErrors)
	assert.Equal(t, 0, task.Received, "original task must stay untouched")
}

func TestExtractionTask_FullLifecycle(t *testing.T) {
	task := NewExtractionTask(StudyRef{ID: "s1", StudyUID: "1.2.3", PatientID: "P1"})

	path := []ExtractionState{
		StatePullRequested,
		StateReceiving,
		StateCompletionPending,
		StateCompleted,
	}

	state := task.State
	for _, next := range path {
		require.True(t, state.CanTransitionTo(next), "%s -> %s must be allowed", state, next)
		state = next
	}
	assert.True(t, state.IsTerminal())
}
