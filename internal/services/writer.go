package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

// Writer commits received instances to the output tree. The path of an
// instance is a pure function of its identity, so writing the same
// instance twice lands on the same file. Safe for concurrent use; the
// tree is partitioned by path and directory creation is idempotent.
type Writer struct {
	root   string
	logger *lib.Logger
}

// NewWriter creates a writer rooted at the given output directory
func NewWriter(root string, logger *lib.Logger) *Writer {
	return &Writer{
		root:   root,
		logger: logger,
	}
}

// Root returns the output root directory
func (w *Writer) Root() string {
	return w.root
}

// InstancePath returns the deterministic on-disk location for an instance:
// root/patientID/studyUID/seriesUID/sopUID.dcm, with every component
// sanitized for use as a file name
func (w *Writer) InstancePath(inst models.Instance) string {
	return filepath.Join(
		w.root,
		models.SanitizePathComponent(inst.PatientID),
		models.SanitizePathComponent(inst.StudyUID),
		models.SanitizePathComponent(inst.SeriesUID),
		models.SanitizePathComponent(inst.SOPUID)+".dcm",
	)
}

// Write commits one instance, creating intermediate directories as needed.
// The data is written to a uuid-named temp file and renamed into place, so
// a crash mid-write never leaves a truncated instance at the final path.
// Returns the final path.
func (w *Writer) Write(inst models.Instance) (string, error) {
	if err := inst.Validate(); err != nil {
		return "", lib.WrapError(lib.CategoryValidation, "instance cannot be stored", err)
	}

	path := w.InstancePath(inst)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", lib.ErrWriteFailed(path, err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".instance.tmp.%s", uuid.New().String()))
	if err := writeFileSynced(tempPath, inst.Data); err != nil {
		_ = os.Remove(tempPath)
		return "", lib.ErrWriteFailed(path, err)
	}

	// Overwrites any prior copy of the same instance
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return "", lib.ErrWriteFailed(path, err)
	}

	lib.LogInstanceStored(w.logger, inst.StudyUID, inst.SOPUID, len(inst.Data))
	return path, nil
}

// writeFileSynced writes data and flushes it to stable storage before
// returning, so the subsequent rename publishes a complete file
func writeFileSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
