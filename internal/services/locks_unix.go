//go:build unix

package services

import (
	"fmt"
	"os"
	"syscall"

	"github.com/trobanga/siphon/internal/lib"
)

// AcquireOutputLock attempts to acquire an exclusive lock on an output root (Unix implementation)
// Returns an OutputLock if successful, error if the root is held by another process
// The lock is automatically released when the OutputLock is closed or the process exits
func AcquireOutputLock(outputRoot string, logger *lib.Logger) (*OutputLock, error) {
	lockPath := lockPathFor(outputRoot)

	// Ensure output root exists
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	// Open/create lock file
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	// Try to acquire exclusive lock (non-blocking)
	// flock() is advisory - cooperating processes must check the lock
	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = lockFile.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, lib.ErrOutputLocked(outputRoot)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock := &OutputLock{
		root:     outputRoot,
		lockFile: lockFile,
		lockPath: lockPath,
		logger:   logger,
	}

	// Write lock info
	if err := lock.writeLockInfo(); err != nil {
		logger.Warn("Failed to write lock info", "root", outputRoot, "error", err)
	}

	logger.Debug("Acquired output lock", "root", outputRoot, "pid", os.Getpid())

	return lock, nil
}

// Release releases the output lock (Unix implementation)
// Should be called when extraction is complete
func (ol *OutputLock) Release() error {
	if ol.lockFile == nil {
		return nil
	}

	// Release flock
	err := syscall.Flock(int(ol.lockFile.Fd()), syscall.LOCK_UN)
	if err != nil {
		ol.logger.Warn("Failed to release flock", "root", ol.root, "error", err)
	}

	// Close lock file
	if err := ol.lockFile.Close(); err != nil {
		ol.logger.Warn("Failed to close lock file", "root", ol.root, "error", err)
		return err
	}

	ol.logger.Debug("Released output lock", "root", ol.root, "pid", os.Getpid())
	ol.lockFile = nil

	return nil
}

// IsOutputLocked checks if an output root is currently locked by any process (Unix implementation)
// This is a non-destructive check that doesn't acquire the lock
func IsOutputLocked(outputRoot string) bool {
	lockPath := lockPathFor(outputRoot)

	// If lock file doesn't exist, root is not locked
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return false
	}

	// Try to open lock file
	lockFile, err := os.Open(lockPath)
	if err != nil {
		// Can't open lock file - assume not locked
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	// Try to acquire lock (non-blocking)
	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		// Lock is held by another process
		return err == syscall.EWOULDBLOCK
	}

	// We acquired the lock - release it immediately
	_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	return false
}
