package lib

import (
	"fmt"
	"strings"
)

// SiphonError represents a user-friendly error with context and guidance
type SiphonError struct {
	Category    ErrorCategory
	Message     string   // Short description of what went wrong
	Cause       error    // Underlying error
	Guidance    []string // What the user can do to fix it
	HTTPStatus  int      // HTTP status code if applicable
	IsRetryable bool     // Can this error be automatically retried?
}

// ErrorCategory classifies errors for retry decisions and better UX
type ErrorCategory string

const (
	// CategoryRemoteUnavailable covers connection failures, timeouts and
	// 5xx responses from the remote node. Transient: the next poll cycle
	// tries again.
	CategoryRemoteUnavailable ErrorCategory = "remote_unavailable"
	// CategoryTransferRejected covers definitive refusals: unknown study,
	// rejected association, unknown move destination.
	CategoryTransferRejected ErrorCategory = "transfer_rejected"
	// CategoryTransferTimeout covers transfers that started but never
	// settled inside the completion window.
	CategoryTransferTimeout ErrorCategory = "transfer_timeout"
	// CategoryWriteIO covers filesystem failures while persisting
	// received instances. The affected study is re-pulled wholesale.
	CategoryWriteIO ErrorCategory = "write_io"
	// CategoryLedgerCorruption means the processed-study ledger cannot be
	// trusted. Fatal at startup; never auto-repaired.
	CategoryLedgerCorruption ErrorCategory = "ledger_corruption"

	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryProtocol      ErrorCategory = "protocol"
	CategoryState         ErrorCategory = "state"
)

// Error implements the error interface
func (e *SiphonError) Error() string {
	var sb strings.Builder

	// Category prefix for clarity
	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.HTTPStatus > 0 {
		sb.WriteString(fmt.Sprintf(" (HTTP %d)", e.HTTPStatus))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to end users
func (e *SiphonError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("❌ Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("💡 How to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	if e.IsRetryable {
		sb.WriteString("\n🔄 This error is transient and will be automatically retried.\n")
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *SiphonError) Unwrap() error {
	return e.Cause
}

// HasCategory reports whether err is a SiphonError of the given category
func HasCategory(err error, category ErrorCategory) bool {
	siphonErr := ClassifyError(err)
	return siphonErr != nil && siphonErr.Category == category
}

// Remote Errors

// ErrRemoteUnavailable creates an error for an unreachable or failing remote node
func ErrRemoteUnavailable(url string, cause error) *SiphonError {
	return &SiphonError{
		Category: CategoryRemoteUnavailable,
		Message:  fmt.Sprintf("Cannot reach remote node at %s", url),
		Cause:    cause,
		Guidance: []string{
			"Check that the remote storage node is running",
			fmt.Sprintf("Verify the URL is correct: %s", url),
			"Check your network connection",
			"Discovery resumes automatically once the node is back",
		},
		IsRetryable: true,
	}
}

// ErrRemoteStatus creates an error for an unexpected HTTP status from the remote API.
// 5xx and 429 are transient; anything else is a definitive rejection.
func ErrRemoteStatus(url string, statusCode int) *SiphonError {
	if statusCode >= 500 || statusCode == 408 || statusCode == 429 {
		return &SiphonError{
			Category:   CategoryRemoteUnavailable,
			Message:    fmt.Sprintf("Remote node at %s is temporarily unavailable", url),
			HTTPStatus: statusCode,
			Guidance: []string{
				"The remote node may be overloaded or restarting",
				"Wait a moment - automatic retry is in progress",
				"Check the remote node's logs for errors",
			},
			IsRetryable: true,
		}
	}

	return &SiphonError{
		Category:   CategoryTransferRejected,
		Message:    fmt.Sprintf("Remote node rejected the request to %s", url),
		HTTPStatus: statusCode,
		Guidance: []string{
			"The study may have been deleted from the remote node",
			"Verify the resource identifier is correct",
			"This error requires manual investigation - automatic retry will not help",
		},
		IsRetryable: false,
	}
}

// Transfer Errors

// ErrTransferRejected creates an error for a definitively refused transfer
func ErrTransferRejected(studyUID string, reason string) *SiphonError {
	return &SiphonError{
		Category: CategoryTransferRejected,
		Message:  fmt.Sprintf("Remote node refused to transfer study %s: %s", studyUID, reason),
		Guidance: []string{
			"Check that this receiver's address is known to the remote node",
			"Verify the study still exists on the remote node",
			"Inspect the remote node's logs for the rejection cause",
		},
		IsRetryable: false,
	}
}

// ErrTransferTimeout creates an error for a transfer that never settled
func ErrTransferTimeout(studyUID string, detail string) *SiphonError {
	return &SiphonError{
		Category: CategoryTransferTimeout,
		Message:  fmt.Sprintf("Transfer of study %s did not settle: %s", studyUID, detail),
		Guidance: []string{
			"The remote node or network may be slow",
			"The study will be re-pulled on a later cycle",
			"Consider increasing grace_seconds for very large studies",
		},
		IsRetryable: true,
	}
}

// ErrTransferIncomplete creates an error for a transfer the remote reported as partially failed
func ErrTransferIncomplete(studyUID string, failed int) *SiphonError {
	return &SiphonError{
		Category: CategoryTransferRejected,
		Message:  fmt.Sprintf("Remote node reported %d failed sub-operations for study %s", failed, studyUID),
		Guidance: []string{
			"Some instances could not be sent by the remote node",
			"Check the remote node's logs for per-instance errors",
			"The study will be re-pulled on a later cycle",
		},
		IsRetryable: true,
	}
}

// Filesystem Errors

// ErrWriteFailed creates an error for a failed instance write
func ErrWriteFailed(path string, cause error) *SiphonError {
	return &SiphonError{
		Category: CategoryWriteIO,
		Message:  fmt.Sprintf("Failed to write instance to %s", path),
		Cause:    cause,
		Guidance: []string{
			"Check free disk space on the output volume",
			"Verify the output directory is writable",
			"The whole study is re-pulled once the cause is fixed",
		},
		IsRetryable: false,
	}
}

// ErrOutputUnwritable creates an error for an unusable output root
func ErrOutputUnwritable(path string, cause error) *SiphonError {
	return &SiphonError{
		Category: CategoryWriteIO,
		Message:  fmt.Sprintf("Output directory %s is not usable", path),
		Cause:    cause,
		Guidance: []string{
			"Check that the path exists or can be created",
			"Verify your user has write access",
			"Use --output to point at a different location",
		},
		IsRetryable: false,
	}
}

// Ledger Errors

// ErrLedgerCorrupted creates a fatal error for an unreadable ledger
func ErrLedgerCorrupted(path string, cause error) *SiphonError {
	return &SiphonError{
		Category: CategoryLedgerCorruption,
		Message:  fmt.Sprintf("Processed-study ledger at %s is corrupted", path),
		Cause:    cause,
		Guidance: []string{
			"The ledger file may have been manually edited or truncated",
			fmt.Sprintf("Inspect %s for JSON syntax errors", path),
			"Restore the ledger from backup, or move it aside to re-extract everything",
			"Never delete the ledger casually: every study would be pulled again",
		},
		IsRetryable: false,
	}
}

// Protocol Errors

// ErrAssociationRejected creates an error for a refused association
func ErrAssociationRejected(addr string, reason string) *SiphonError {
	return &SiphonError{
		Category: CategoryTransferRejected,
		Message:  fmt.Sprintf("Node at %s rejected the association: %s", addr, reason),
		Guidance: []string{
			"Verify the configured AE titles match the remote node's expectations",
			"Check that the transfer port is correct",
			"Inspect the remote node's logs for the rejection reason",
		},
		IsRetryable: false,
	}
}

// ErrProtocol creates an error for malformed wire data
func ErrProtocol(detail string, cause error) *SiphonError {
	return &SiphonError{
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("Protocol violation: %s", detail),
		Cause:    cause,
		Guidance: []string{
			"The peer sent data this implementation cannot parse",
			"Check that both sides speak the same protocol version",
		},
		IsRetryable: false,
	}
}

// Configuration Errors

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(field string, reason string) *SiphonError {
	return &SiphonError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid configuration: %s", reason),
		Guidance: []string{
			fmt.Sprintf("Check the '%s' field in your config file", field),
			"Compare with siphon.example.yaml for correct format",
			"Ensure all required fields are populated",
		},
		IsRetryable: false,
	}
}

// State Errors

// ErrOutputLocked creates an error when another process owns the output root
func ErrOutputLocked(path string) *SiphonError {
	return &SiphonError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Output directory '%s' is in use by another siphon process", path),
		Guidance: []string{
			"Wait for the other process to finish",
			"Check if another siphon instance is running against this directory",
			"If stuck, remove the lock file: <output-root>/.siphon.lock",
		},
		IsRetryable: true, // May succeed if we retry after lock is released
	}
}

// Helper Functions

// WrapError wraps a standard error with SiphonError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *SiphonError {
	isRetryable := IsNetworkError(cause)

	return &SiphonError{
		Category:    category,
		Message:     message,
		Cause:       cause,
		Guidance:    guidance,
		IsRetryable: isRetryable,
	}
}

// ClassifyError examines an error and returns appropriate user guidance
func ClassifyError(err error) *SiphonError {
	if err == nil {
		return nil
	}

	// Already a SiphonError
	if siphonErr, ok := err.(*SiphonError); ok {
		return siphonErr
	}

	errMsg := err.Error()

	// Network errors
	if IsNetworkError(err) {
		return &SiphonError{
			Category:    CategoryRemoteUnavailable,
			Message:     "Network connectivity issue",
			Cause:       err,
			Guidance:    []string{"Check network connection", "Verify the remote node is running", "Will retry automatically"},
			IsRetryable: true,
		}
	}

	// Disk space errors
	if containsIgnoreCase(errMsg, "no space left") || containsIgnoreCase(errMsg, "disk full") {
		return &SiphonError{
			Category:    CategoryWriteIO,
			Message:     "Insufficient disk space",
			Cause:       err,
			Guidance:    []string{"Free up disk space", "Use --output to specify a different location"},
			IsRetryable: false,
		}
	}

	// Permission errors
	if containsIgnoreCase(errMsg, "permission denied") || containsIgnoreCase(errMsg, "access denied") {
		return &SiphonError{
			Category:    CategoryWriteIO,
			Message:     "Permission denied",
			Cause:       err,
			Guidance:    []string{"Check file/directory permissions", "Ensure proper access rights"},
			IsRetryable: false,
		}
	}

	// Generic fallback
	return &SiphonError{
		Category:    CategoryValidation,
		Message:     "An error occurred",
		Cause:       err,
		Guidance:    []string{"Check the technical details below", "See logs for more information"},
		IsRetryable: false,
	}
}
