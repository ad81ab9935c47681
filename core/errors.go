package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Routing errors
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrMalformedMessage = errors.New("malformed message")
	ErrAgentProcessing  = errors.New("agent processing failed")
	ErrAgentBusy        = errors.New("agent busy")

	// Recorder usage errors
	ErrDoubleClose = errors.New("span already closed")

	// Run lifecycle errors
	ErrIncompleteRun     = errors.New("incomplete run")
	ErrMaxStepsExceeded  = errors.New("step budget exceeded")
	ErrAlreadyStarted    = errors.New("already started")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrBusSealed         = errors.New("bus sealed, registration closed")

	// Export errors
	ErrSinkExport = errors.New("sink export failed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Network errors
	ErrConnectionFailed = errors.New("connection failed")
)

// BusError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type BusError struct {
	Op      string // Operation that failed (e.g., "bus.Dispatch")
	Kind    string // Error kind (e.g., "routing", "recorder", "config")
	ID      string // Optional ID of the entity involved (message id, span id, agent name)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *BusError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *BusError) Unwrap() error {
	return e.Err
}

// NewBusError creates a new BusError
func NewBusError(op, kind string, err error) *BusError {
	return &BusError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsDeliveryError checks if an error is a delivery-level error.
// Delivery-level errors are recorded on the relevant span and never
// crash the run; they abort only the affected message's fan-out.
func IsDeliveryError(err error) bool {
	return errors.Is(err, ErrUnknownRecipient) ||
		errors.Is(err, ErrAgentProcessing) ||
		errors.Is(err, ErrAgentBusy) ||
		errors.Is(err, ErrMalformedMessage)
}

// IsRecorderUsageError checks if an error indicates a Bus/Recorder
// contract violation. These are programming errors and propagate to
// the caller unhandled.
func IsRecorderUsageError(err error) bool {
	return errors.Is(err, ErrDoubleClose)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
