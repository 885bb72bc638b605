package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

// Ledger is the durable record of fully extracted studies. It is the
// single source of truth for "already processed": the orchestrator
// consults it before every pull decision and updates it only after a
// study is verified complete.
//
// The whole document is rewritten through a temp file, fsync and rename
// on every change, so a crash between two polls can never leave behind a
// half-written entry that reads back as a completed study.
type Ledger struct {
	path   string
	logger *lib.Logger

	mu      sync.Mutex
	entries map[string]models.LedgerEntry
}

// OpenLedger loads the ledger at path. A missing file yields an empty
// ledger; a file that exists but cannot be parsed or validated is a
// corruption error, which callers must treat as fatal rather than
// silently re-processing or silently skipping everything.
func OpenLedger(path string, logger *lib.Logger) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		logger:  logger,
		entries: make(map[string]models.LedgerEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No ledger found, starting empty", "path", path)
			return l, nil
		}
		return nil, lib.ErrLedgerCorrupted(path, err)
	}

	var doc models.LedgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, lib.ErrLedgerCorrupted(path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, lib.ErrLedgerCorrupted(path, err)
	}

	for _, entry := range doc.Entries {
		l.entries[entry.StudyID] = entry
	}

	logger.Info("Ledger loaded", "path", path, "studies", len(l.entries))
	return l, nil
}

// Path returns the ledger's on-disk location
func (l *Ledger) Path() string {
	return l.path
}

// Contains reports whether a study has already been fully extracted
func (l *Ledger) Contains(studyID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[studyID]
	return ok
}

// Len returns the number of recorded studies
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns all recorded studies ordered by completion time
func (l *Ledger) Entries() []models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.LedgerEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out
}

// MarkComplete durably records a fully extracted study. Recording a
// study that is already present is a no-op: a study identifier never
// appears twice.
func (l *Ledger) MarkComplete(entry models.LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("cannot record invalid ledger entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[entry.StudyID]; ok {
		return nil
	}

	l.entries[entry.StudyID] = entry
	if err := l.saveLocked(); err != nil {
		// Roll back so a later retry rewrites the file
		delete(l.entries, entry.StudyID)
		return err
	}
	return nil
}

// Forget removes a study so the next poll cycle extracts it again
func (l *Ledger) Forget(studyID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[studyID]
	if !ok {
		return fmt.Errorf("study not in ledger: %s", studyID)
	}

	delete(l.entries, studyID)
	if err := l.saveLocked(); err != nil {
		l.entries[studyID] = entry
		return err
	}
	return nil
}

// saveLocked rewrites the whole document atomically; l.mu must be held
func (l *Ledger) saveLocked() error {
	doc := models.LedgerDocument{Version: models.LedgerVersion}
	for _, entry := range l.entries {
		doc.Entries = append(doc.Entries, entry)
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].CompletedAt.Before(doc.Entries[j].CompletedAt)
	})

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".ledger.tmp.%s", uuid.New().String()))
	if err := writeFileSynced(tempPath, data); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write ledger temp file: %w", err)
	}

	if err := os.Rename(tempPath, l.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	return nil
}
