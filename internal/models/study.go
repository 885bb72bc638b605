package models

import "time"

// StudyRef identifies a study as the remote storage node knows it.
// ID is the node's opaque store identifier; the UIDs come from the
// study's DICOM metadata and drive the actual transfer.
type StudyRef struct {
	ID              string `json:"id"`
	StudyUID        string `json:"study_uid"`
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name,omitempty"`
	StudyDate       string `json:"study_date,omitempty"`
	AccessionNumber string `json:"accession_number,omitempty"`
}

// Instance is a single received DICOM object together with the identity
// fields needed to place it on disk
type Instance struct {
	PatientID string
	StudyUID  string
	SeriesUID string
	SOPUID    string
	Data      []byte // full encoded dataset as received
}

// ExtractionState defines the lifecycle of one study extraction
type ExtractionState string

const (
	StateDiscovered        ExtractionState = "discovered"
	StatePullRequested     ExtractionState = "pull_requested"
	StateReceiving         ExtractionState = "receiving"
	StateCompletionPending ExtractionState = "completion_pending"
	StateCompleted         ExtractionState = "completed"
	StateFailed            ExtractionState = "failed"
)

// IsValidExtractionState checks if the state is recognized
func IsValidExtractionState(s ExtractionState) bool {
	switch s {
	case StateDiscovered, StatePullRequested, StateReceiving,
		StateCompletionPending, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed from s.
// A failed study re-enters the state machine as a fresh discovery on a
// later poll cycle, never by transitioning out of failed.
func (s ExtractionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo checks if a state transition is valid
// Valid transitions:
//
//	discovered -> pull_requested | failed
//	pull_requested -> receiving | completion_pending | failed
//	receiving -> completion_pending | failed
//	completion_pending -> completed | failed
func (s ExtractionState) CanTransitionTo(next ExtractionState) bool {
	switch s {
	case StateDiscovered:
		return next == StatePullRequested || next == StateFailed
	case StatePullRequested:
		// completion_pending directly when the move finishes before the
		// first instance is observed locally
		return next == StateReceiving || next == StateCompletionPending || next == StateFailed
	case StateReceiving:
		return next == StateCompletionPending || next == StateFailed
	case StateCompletionPending:
		return next == StateCompleted || next == StateFailed
	case StateCompleted, StateFailed:
		return false
	default:
		return false
	}
}

// ExtractionTask tracks one study's progress through the extraction
// state machine. Tasks live in memory only; the ledger records the
// durable outcome.
type ExtractionTask struct {
	Study       StudyRef        `json:"study"`
	State       ExtractionState `json:"state"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Received    int             `json:"received"`     // instances observed by the local endpoint
	WriteErrors int             `json:"write_errors"` // instances that failed to persist
	Error       string          `json:"error,omitempty"`
}

// NewExtractionTask creates a task in the discovered state
func NewExtractionTask(study StudyRef) ExtractionTask {
	now := time.Now()
	return ExtractionTask{
		Study:     study,
		State:     StateDiscovered,
		StartedAt: now,
		UpdatedAt: now,
	}
}
