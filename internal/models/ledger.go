package models

import (
	"errors"
	"fmt"
	"time"
)

// LedgerEntry records one fully extracted study. Entries are keyed by
// the remote node's store identifier so a repeat discovery of the same
// study is recognized even before its metadata is fetched.
type LedgerEntry struct {
	StudyID     string    `json:"study_id"`
	StudyUID    string    `json:"study_uid,omitempty"`
	PatientID   string    `json:"patient_id,omitempty"`
	Instances   int       `json:"instances"`
	CompletedAt time.Time `json:"completed_at"`
}

// LedgerDocument is the on-disk shape of the processed-study ledger
type LedgerDocument struct {
	Version int           `json:"version"`
	Entries []LedgerEntry `json:"entries"`
}

// LedgerVersion is the current on-disk document version
const LedgerVersion = 1

// Validate checks if a LedgerEntry has valid fields
func (e *LedgerEntry) Validate() error {
	if e.StudyID == "" {
		return errors.New("study_id is required")
	}

	if e.Instances < 0 {
		return errors.New("instances cannot be negative")
	}

	if e.CompletedAt.IsZero() {
		return errors.New("completed_at is required")
	}

	return nil
}

// Validate checks if a LedgerDocument is structurally sound, including
// that no study appears twice
func (d *LedgerDocument) Validate() error {
	if d.Version != LedgerVersion {
		return fmt.Errorf("unsupported ledger version %d", d.Version)
	}

	seen := make(map[string]bool, len(d.Entries))
	for i := range d.Entries {
		if err := d.Entries[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[d.Entries[i].StudyID] {
			return fmt.Errorf("duplicate ledger entry for study %s", d.Entries[i].StudyID)
		}
		seen[d.Entries[i].StudyID] = true
	}

	return nil
}
