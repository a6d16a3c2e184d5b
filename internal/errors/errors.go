// Package errors provides centralized error definitions and error handling utilities
// for the detection unit. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - QueueError: capacity, emptiness and validity failures of hub queues
//   - ModuleError: lifecycle failures of threaded modules
//   - SerialError: serial port acquisition and I/O failures
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewQueueError("detections", errors.ErrQueueFull)
//	if errors.Is(err, errors.ErrQueueFull) { ... }
//
//	var serialErr *errors.SerialError
//	if errors.As(err, &serialErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on a later step
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Queue-related sentinel errors
var (
	// ErrQueueFull indicates a bounded queue had no room for a non-dropping put.
	ErrQueueFull = New("queue full")
	// ErrQueueEmpty indicates no item became available before the deadline.
	ErrQueueEmpty = New("queue empty")
	// ErrInvalidQueue indicates the queue is closed or does not exist.
	ErrInvalidQueue = New("invalid queue")
)

// Registry-related sentinel errors
var (
	// ErrFactoryFailed indicates a registry factory returned an error.
	ErrFactoryFailed = New("registry factory failed")
	// ErrWrongType indicates a registry entry exists with an unexpected type.
	ErrWrongType = New("registry entry has unexpected type")
)

// Module-related sentinel errors
var (
	// ErrAlreadyStarted indicates Start or Run was called twice on a module.
	ErrAlreadyStarted = New("module already started")
	// ErrModuleStopped indicates the module has already reached its final state.
	ErrModuleStopped = New("module stopped")
	// ErrStepPanicked indicates a step or hook panicked and was recovered.
	ErrStepPanicked = New("module step panicked")
)

// Device-related sentinel errors
var (
	// ErrPortUnavailable indicates the serial port could not be opened or was lost.
	ErrPortUnavailable = New("serial port unavailable")
	// ErrMalformedDetection indicates a detection item failed validation.
	ErrMalformedDetection = New("malformed detection")
	// ErrNotConnected indicates a network client is not connected.
	ErrNotConnected = New("not connected")
)

// Generic sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ClassifiedError is the base interface for all errors defined here.
// It extends the standard error interface with classification methods.
type ClassifiedError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.message == "" {
		if e.cause != nil {
			return fmt.Sprintf("%s: %v", prefix, e.cause)
		}
		return prefix
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// QueueError represents a failed operation on a hub queue.
//
// Example:
//
//	err := errors.NewQueueError("detections", errors.ErrQueueFull)
//	fmt.Println(err) // "queue error [queue=detections]: queue full"
type QueueError struct {
	baseError
	Queue string
}

// NewQueueError creates a new QueueError. Full and empty conditions are
// retryable; an invalid queue is not.
func NewQueueError(queue string, cause error) *QueueError {
	return &QueueError{
		baseError: baseError{
			cause:     cause,
			severity:  SeverityWarning,
			retryable: !errors.Is(cause, ErrInvalidQueue),
		},
		Queue: queue,
	}
}

// WithMessage adds a message to the error.
func (e *QueueError) WithMessage(msg string) *QueueError {
	e.message = msg
	return e
}

// Error returns the formatted error message.
func (e *QueueError) Error() string {
	var parts []string
	if e.Queue != "" {
		parts = append(parts, fmt.Sprintf("queue=%s", e.Queue))
	}
	return e.format("queue error", parts)
}

// ModuleError represents errors raised by the module runner.
//
// Example:
//
//	err := errors.NewModuleError("setup failed", cause).WithModule("lora").WithState("running")
type ModuleError struct {
	baseError
	Module string
	State  string
}

// NewModuleError creates a new ModuleError.
func NewModuleError(message string, cause error) *ModuleError {
	return &ModuleError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: false,
		},
	}
}

// WithModule adds the module name to the error context.
func (e *ModuleError) WithModule(name string) *ModuleError {
	e.Module = name
	return e
}

// WithState adds the lifecycle state to the error context.
func (e *ModuleError) WithState(state string) *ModuleError {
	e.State = state
	return e
}

// WithSeverity sets the error severity.
func (e *ModuleError) WithSeverity(s Severity) *ModuleError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ModuleError) Error() string {
	var parts []string
	if e.Module != "" {
		parts = append(parts, fmt.Sprintf("module=%s", e.Module))
	}
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}
	return e.format("module error", parts)
}

// SerialError represents serial port failures.
//
// Example:
//
//	err := errors.NewSerialError("open failed", cause).WithPort("/dev/ttyACM0", 115200)
type SerialError struct {
	baseError
	Port string
	Baud int
}

// NewSerialError creates a new SerialError. Serial failures are retryable:
// the port may come back on a later step.
func NewSerialError(message string, cause error) *SerialError {
	return &SerialError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
	}
}

// WithPort adds port name and speed to the error context.
func (e *SerialError) WithPort(port string, baud int) *SerialError {
	e.Port = port
	e.Baud = baud
	return e
}

// Error returns the formatted error message.
func (e *SerialError) Error() string {
	var parts []string
	if e.Port != "" {
		parts = append(parts, fmt.Sprintf("port=%s", e.Port))
	}
	if e.Baud > 0 {
		parts = append(parts, fmt.Sprintf("baud=%d", e.Baud))
	}
	return e.format("serial error", parts)
}

// Is matches ErrPortUnavailable for every serial error.
func (e *SerialError) Is(target error) bool {
	return target == ErrPortUnavailable
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("queue", "lora.tx")
//	fmt.Println(err) // "queue 'lora.tx' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("confidence must be finite").WithField("confidence").WithValue(v)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("serial write", time.Second)
//	fmt.Println(err) // "timeout error: serial write (timeout: 1s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ClassifiedError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var classified ClassifiedError
	if As(err, &classified) {
		return classified.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
