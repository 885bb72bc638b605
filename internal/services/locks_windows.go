//go:build windows

package services

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/trobanga/siphon/internal/lib"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	LOCKFILE_FAIL_IMMEDIATELY = 0x00000001
	LOCKFILE_EXCLUSIVE_LOCK   = 0x00000002
	ERROR_LOCK_VIOLATION      = syscall.Errno(33) // File is locked by another process
)

// AcquireOutputLock attempts to acquire an exclusive lock on an output root (Windows implementation)
// Returns an OutputLock if successful, error if the root is held by another process
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
	handle := syscall.Handle(lockFile.Fd())
	overlapped := syscall.Overlapped{}

	// LockFileEx with FAIL_IMMEDIATELY flag for non-blocking behavior
	r1, _, err := procLockFileEx.Call(
		uintptr(handle),
		uintptr(LOCKFILE_EXCLUSIVE_LOCK|LOCKFILE_FAIL_IMMEDIATELY),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)

	if r1 == 0 {
		_ = lockFile.Close()
		// On Windows, if the lock fails due to the file already being locked, err will be ERROR_LOCK_VIOLATION
		if err == ERROR_LOCK_VIOLATION {
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

// Release releases the output lock (Windows implementation)
// Should be called when extraction is complete
func (ol *OutputLock) Release() error {
	if ol.lockFile == nil {
		return nil
	}

	// Release lock
	handle := syscall.Handle(ol.lockFile.Fd())
	overlapped := syscall.Overlapped{}

	_, _, err := procUnlockFileEx.Call(
		uintptr(handle),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)

	if err != syscall.Errno(0) {
		ol.logger.Warn("Failed to release lock", "root", ol.root, "error", err)
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

// IsOutputLocked checks if an output root is currently locked by any process (Windows implementation)
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
	handle := syscall.Handle(lockFile.Fd())
	overlapped := syscall.Overlapped{}

	r1, _, err := procLockFileEx.Call(
		uintptr(handle),
		uintptr(LOCKFILE_EXCLUSIVE_LOCK|LOCKFILE_FAIL_IMMEDIATELY),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)

	if r1 == 0 {
		// Lock is held or can't acquire
		if err == ERROR_LOCK_VIOLATION {
			return true
		}
		// Can't determine lock status, assume not locked
		return false
	}

	// We acquired the lock - release it immediately
	procUnlockFileEx.Call(
		uintptr(handle),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	return false
}
