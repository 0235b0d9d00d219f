// Package runerrors provides structured error classification for agent run orchestration.
package runerrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents different categories of orchestration errors.
type ErrorType int8

const (
	// ErrorTypeRetryExhausted represents a wrapped remote call that failed on every attempt.
	ErrorTypeRetryExhausted ErrorType = iota
	// ErrorTypeRunTerminal represents a run that ended in failed/cancelled/expired.
	ErrorTypeRunTerminal
	// ErrorTypeRunTimeout represents a run that exceeded the wall-clock budget.
	ErrorTypeRunTimeout
	// ErrorTypeProtocol represents a batch-integrity violation in the tool-call protocol
	// (duplicate pending ids, or a submit set that does not match the pending set).
	ErrorTypeProtocol
	// ErrorTypeAPI represents a non-2xx response from the remote agent API.
	ErrorTypeAPI
	// ErrorTypeValidation represents rejected caller input, checked before orchestration begins.
	ErrorTypeValidation
	// ErrorTypeThreadBusy represents a request rejected because its session thread
	// already has a run in flight.
	ErrorTypeThreadBusy
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRetryExhausted:
		return "retry_exhausted"
	case ErrorTypeRunTerminal:
		return "run_terminal_failure"
	case ErrorTypeRunTimeout:
		return "run_timeout"
	case ErrorTypeProtocol:
		return "protocol_violation"
	case ErrorTypeAPI:
		return "api_error"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeThreadBusy:
		return "thread_busy"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error represents a classified orchestration error.
type Error struct {
	Err        error         // Wrapped underlying error
	Message    string        // Human-readable error message
	Op         string        // Remote operation name (retry_exhausted)
	RunStatus  string        // Terminal run status (run_terminal_failure)
	RunID      string        // Run identifier (run_timeout)
	Code       string        // Remote error code if the API supplied one
	Waited     time.Duration // Wall-clock time spent before timing out
	Attempts   int           // Attempt count (retry_exhausted)
	StatusCode int           // HTTP status code if applicable (api_error)
	Type       ErrorType     // Classified error type
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Type {
	case ErrorTypeRetryExhausted:
		return fmt.Sprintf("orchestration error (%s): %s failed after %d attempts: %v",
			e.Type.String(), e.Op, e.Attempts, e.Err)
	case ErrorTypeRunTerminal:
		if e.Code != "" {
			return fmt.Sprintf("orchestration error (%s): run ended with status %s: %s - %s",
				e.Type.String(), e.RunStatus, e.Code, e.Message)
		}
		return fmt.Sprintf("orchestration error (%s): run ended with status %s: %s",
			e.Type.String(), e.RunStatus, e.Message)
	case ErrorTypeRunTimeout:
		return fmt.Sprintf("orchestration error (%s): run %s timed out after %s",
			e.Type.String(), e.RunID, e.Waited)
	case ErrorTypeAPI:
		return fmt.Sprintf("orchestration error (%s): status %d: %s",
			e.Type.String(), e.StatusCode, e.Message)
	default:
		if e.Message != "" {
			return fmt.Sprintf("orchestration error (%s): %s", e.Type.String(), e.Message)
		}
		return fmt.Sprintf("orchestration error (%s): %v", e.Type.String(), e.Err)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Type
	}
	return ErrorTypeUnknown
}

// NewRetryExhausted creates the error raised when a retry-wrapped operation fails N times.
func NewRetryExhausted(op string, attempts int, cause error) *Error {
	return &Error{
		Type:     ErrorTypeRetryExhausted,
		Op:       op,
		Attempts: attempts,
		Err:      cause,
		Message:  fmt.Sprintf("%s failed after %d attempts", op, attempts),
	}
}

// NewRunTerminalFailure creates the error raised when a run ends failed/cancelled/expired.
func NewRunTerminalFailure(status, code, message string) *Error {
	return &Error{
		Type:      ErrorTypeRunTerminal,
		RunStatus: status,
		Code:      code,
		Message:   message,
	}
}

// NewRunTimeout creates the error raised after the wall-clock budget expires.
func NewRunTimeout(runID string, waited time.Duration) *Error {
	return &Error{
		Type:   ErrorTypeRunTimeout,
		RunID:  runID,
		Waited: waited,
	}
}

// NewProtocolViolation creates the error raised on tool-call batch integrity violations.
func NewProtocolViolation(message string) *Error {
	return &Error{
		Type:    ErrorTypeProtocol,
		Message: message,
	}
}

// NewAPIError creates a classified error for a non-2xx remote response.
func NewAPIError(statusCode int, code, message string) *Error {
	return &Error{
		Type:       ErrorTypeAPI,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewValidation creates the error for rejected caller input.
func NewValidation(message string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewThreadBusy creates the error for a request whose session thread already
// has a run in flight.
func NewThreadBusy(threadID string) *Error {
	return &Error{
		Type:    ErrorTypeThreadBusy,
		Message: fmt.Sprintf("thread %s already has an analysis in flight", threadID),
	}
}

// IsRetryExhausted checks if the error chain contains a retry-exhaustion failure.
func IsRetryExhausted(err error) bool {
	return Is(err, ErrorTypeRetryExhausted)
}

// IsRunTimeout checks if the error chain contains a wall-clock timeout.
func IsRunTimeout(err error) bool {
	return Is(err, ErrorTypeRunTimeout)
}

// IsRunTerminalFailure checks if the error chain contains a terminal run failure.
func IsRunTerminalFailure(err error) bool {
	return Is(err, ErrorTypeRunTerminal)
}

// IsProtocolViolation checks if the error chain contains a tool-call protocol violation.
func IsProtocolViolation(err error) bool {
	return Is(err, ErrorTypeProtocol)
}

// IsThreadBusy checks if the error chain contains a busy-thread rejection.
func IsThreadBusy(err error) bool {
	return Is(err, ErrorTypeThreadBusy)
}

// HTTPStatus maps an orchestration error to the status the HTTP edge should return.
// Validation failures are the caller's fault; everything else is a 5xx whose
// flavor mirrors the failure kind.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeThreadBusy:
		return http.StatusConflict
	case ErrorTypeRunTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeRetryExhausted, ErrorTypeAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
