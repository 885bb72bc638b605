package models

import "time"

// SetTaskState creates a new ExtractionTask with updated state
// Pure function - returns new instance, does not mutate original
func SetTaskState(task ExtractionTask, state ExtractionState) ExtractionTask {
	task.State = state
	task.UpdatedAt = time.Now()
	return task
}

// FailTask creates a new ExtractionTask in the failed state with an error message
// Pure function - returns new instance
func FailTask(task ExtractionTask, errorMsg string) ExtractionTask {
	task.State = StateFailed
	task.Error = errorMsg
	task.UpdatedAt = time.Now()
	return task
}

// UpdateTaskProgress creates a new ExtractionTask with updated arrival counts
// Pure function - returns new instance
func UpdateTaskProgress(task ExtractionTask, received, writeErrors int) ExtractionTask {
	task.Received = received
	task.WriteErrors = writeErrors
	task.UpdatedAt = time.Now()
	return task
}
