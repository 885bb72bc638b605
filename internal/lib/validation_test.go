package lib

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/siphon/internal/models"
)

func TestValidateUID(t *testing.T) {
	valid := []string{
		"1",
		"1.2.840.113619.2.1.1",
		"999.0.1",
		strings.Repeat("1", 64),
	}
	for _, uid := range valid {
		assert.NoError(t, ValidateUID(uid), uid)
	}

	tests := []struct {
		name string
		uid  string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("1", 65)},
		{"letters", "1.2.abc"},
		{"leading dot", ".1.2"},
		{"trailing dot", "1.2."},
		{"empty component", "1..2"},
		{"whitespace", "1.2 .3"},
		{"path traversal", "../../etc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateUID(tt.uid))
		})
	}
}

func TestAdvanceTask(t *testing.T) {
	task := models.NewExtractionTask(models.StudyRef{ID: "s1", StudyUID: "1.2.3"})

	t.Run("legal transition advances", func(t *testing.T) {
		advanced, err := AdvanceTask(task, models.StatePullRequested)
		require.NoError(t, err)
		assert.Equal(t, models.StatePullRequested, advanced.State)
		assert.Equal(t, models.StateDiscovered, task.State, "input task must stay untouched")
	})

	t.Run("illegal transition is refused", func(t *testing.T) {
		_, err := AdvanceTask(task, models.StateCompleted)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid transition")
	})

	t.Run("unknown state is refused", func(t *testing.T) {
		_, err := AdvanceTask(task, models.ExtractionState("hibernating"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown extraction state")
	})
}
