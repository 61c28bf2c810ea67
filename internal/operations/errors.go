package operations

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of operation error
type ErrorType string

const (
	ErrorTypeSubmission      ErrorType = "submission"
	ErrorTypePoll            ErrorType = "poll"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeCancellation    ErrorType = "cancellation"
)

// Sentinel errors used as control flow signals.
var (
	ErrEmptyMerge    = NewInvalidArgumentError("merge", "merge requires at least one input")
	ErrNoGenome      = NewInvalidArgumentError("select", "no genome selected")
	ErrStackNotFound = NewNotFoundError("stack", "stack is not a member of the collection")
	ErrCancelled     = NewCancellationError("poll")
)

// OperationError represents an operation-specific error
type OperationError struct {
	Type    ErrorType              `json:"type"`
	Op      string                 `json:"op,omitempty"`
	Message string                 `json:"message"`
	Cause   error                  `json:"cause,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e == nil {
		return "unknown operation error"
	}
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Type, e.Op, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an OperationError with the same type and op.
// This lets errors.Is match the sentinel values above.
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Type == t.Type && e.Op == t.Op && e.Message == t.Message
}

// WithContext returns a copy of the error carrying an extra context value
func (e *OperationError) WithContext(key string, value interface{}) *OperationError {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// NewSubmissionError creates an error for a failed resolution or submission call
func NewSubmissionError(op string, cause error) *OperationError {
	return &OperationError{
		Type:    ErrorTypeSubmission,
		Op:      op,
		Message: "remote submission failed",
		Cause:   cause,
	}
}

// NewPollError creates an error for a failed status poll
func NewPollError(requestID string, cause error) *OperationError {
	return &OperationError{
		Type:    ErrorTypePoll,
		Op:      "poll",
		Message: "status poll failed",
		Cause:   cause,
		Context: map[string]interface{}{
			"request_id": requestID,
		},
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(op, message string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeInvalidArgument,
		Op:      op,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(op, message string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeNotFound,
		Op:      op,
		Message: message,
	}
}

// NewCancellationError creates a new cancellation error
func NewCancellationError(op string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeCancellation,
		Op:      op,
		Message: "operation was cancelled",
	}
}

// GetErrorType returns the type of the error, or "" when err is not an OperationError
func GetErrorType(err error) ErrorType {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Type
	}
	return ""
}

// IsType checks whether err is an OperationError of the given type
func IsType(err error, t ErrorType) bool {
	return err != nil && GetErrorType(err) == t
}
