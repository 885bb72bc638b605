package dimse

import "fmt"

// Status codes carried in responses
const (
	StatusSuccess                uint16 = 0x0000
	StatusPending                uint16 = 0xFF00
	StatusCancelled              uint16 = 0xFE00
	StatusMoveDestinationUnknown uint16 = 0xA801
	StatusOutOfResources         uint16 = 0xA702
	StatusUnableToProcess        uint16 = 0xC000
)

// StatusText returns a readable name for a status code
func StatusText(status uint16) string {
	switch status {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusCancelled:
		return "cancelled"
	case StatusMoveDestinationUnknown:
		return "move destination unknown"
	case StatusOutOfResources:
		return "out of resources"
	case StatusUnableToProcess:
		return "unable to process"
	default:
		return fmt.Sprintf("status 0x%04X", status)
	}
}

// IsPending reports whether a response status means more responses follow
func IsPending(status uint16) bool {
	return status == StatusPending
}

// IsFailure reports whether a final status means the operation failed.
// Success and cancelled-by-us are the only non-failure terminal states.
func IsFailure(status uint16) bool {
	return status != StatusSuccess && status != StatusPending && status != StatusCancelled
}
