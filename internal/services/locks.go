package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trobanga/siphon/internal/lib"
)

// LockFileName is the advisory lock guarding an output root. Two siphon
// processes interleaving ledger rewrites and temp files over the same
// tree would corrupt each other's bookkeeping; the lock makes the
// overlap an explicit startup error instead.
const LockFileName = ".siphon.lock"

// OutputLock represents a file lock on one output root
// Prevents concurrent extraction into the same tree by multiple processes
type OutputLock struct {
	root     string
	lockFile *os.File
	lockPath string
	logger   *lib.Logger
}

// lockPathFor returns the lock file location for an output root
func lockPathFor(outputRoot string) string {
	return filepath.Join(outputRoot, LockFileName)
}

// WithOutputLock executes a function while holding the output root lock
// Automatically acquires the lock, executes the function, and releases the lock
// Returns error if lock cannot be acquired or if the function returns an error
func WithOutputLock(outputRoot string, logger *lib.Logger, fn func() error) error {
	lock, err := AcquireOutputLock(outputRoot, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release output lock", "error", err)
		}
	}()

	// Execute function with lock held
	return fn()
}

// writeLockInfo writes debug information to the lock file
func (ol *OutputLock) writeLockInfo() error {
	lockInfo := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = ol.lockFile.Truncate(0)
	_, _ = ol.lockFile.Seek(0, 0)
	_, _ = ol.lockFile.WriteString(lockInfo)
	return ol.lockFile.Sync()
}
