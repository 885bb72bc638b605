package lib

import (
	"fmt"

	"github.com/trobanga/siphon/internal/models"
)

// AdvanceTask validates and applies a state transition on an extraction task.
// Returns the updated task, or an error if the transition is not allowed.
func AdvanceTask(task models.ExtractionTask, next models.ExtractionState) (models.ExtractionTask, error) {
	if !models.IsValidExtractionState(next) {
		return task, fmt.Errorf("unknown extraction state: %s", next)
	}

	if !task.State.CanTransitionTo(next) {
		return task, fmt.Errorf("invalid transition %s -> %s for study %s",
			task.State, next, task.Study.ID)
	}

	return models.SetTaskState(task, next), nil
}

// ValidateUID checks the syntactic rules for a unique identifier:
// non-empty, at most 64 characters, digits and dots only, and no
// empty components
func ValidateUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("uid is empty")
	}

	if len(uid) > 64 {
		return fmt.Errorf("uid exceeds 64 characters: %s", uid)
	}

	lastDot := true // leading dot is invalid
	for i := 0; i < len(uid); i++ {
		c := uid[i]
		switch {
		case c == '.':
			if lastDot {
				return fmt.Errorf("uid has an empty component: %s", uid)
			}
			lastDot = true
		case c >= '0' && c <= '9':
			lastDot = false
		default:
			return fmt.Errorf("uid contains invalid character %q: %s", c, uid)
		}
	}

	if lastDot {
		return fmt.Errorf("uid has an empty component: %s", uid)
	}

	return nil
}
