package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for retry and reporting decisions.
type ErrorClass string

const (
	// ErrorClassIdentity indicates the region's domain/project identity could
	// not be resolved. Fatal for the whole run: no authorized call can be made.
	ErrorClassIdentity ErrorClass = "identity"

	// ErrorClassAuthStale indicates an authorization failure caused by an
	// outdated cached identity. Recoverable once via refresh-and-retry.
	ErrorClassAuthStale ErrorClass = "auth_stale"

	// ErrorClassThrottled indicates rate limiting by the cloud API.
	// Retried with exponential backoff up to the retry budget.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassValidation indicates a malformed request or configuration.
	// Never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound indicates the resource vanished between query and
	// action. Recorded as skipped, since the end state matches intent.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassUnsupportedFilter indicates a filter variant the evaluator
	// does not understand. Fatal at evaluation time.
	ErrorClassUnsupportedFilter ErrorClass = "unsupported_filter"

	// ErrorClassTransient indicates a temporary failure (network timeouts,
	// 5xx responses) that may succeed on retry.
	ErrorClassTransient ErrorClass = "transient"
)

// Error is a classified engine error with resource and operation context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the provider error code (e.g. "APIGW.0301"), if known.
	Code string `json:"code,omitempty"`

	// Resource is the resource ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s): %s", e.Class, e.Message, e.Resource, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resourceID string) *Error {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds a provider error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// NewIdentityError creates a fatal identity-resolution error.
func NewIdentityError(message string, err error) *Error {
	return &Error{Class: ErrorClassIdentity, Message: message, Err: err}
}

// NewAuthStaleError creates an identity-staleness error.
func NewAuthStaleError(message string, err error) *Error {
	return &Error{Class: ErrorClassAuthStale, Message: message, Err: err}
}

// NewThrottledError creates a throttling error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewUnsupportedFilterError creates an unsupported-filter error.
func NewUnsupportedFilterError(message string) *Error {
	return &Error{Class: ErrorClassUnsupportedFilter, Message: message}
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsIdentity returns true for identity-resolution errors.
func IsIdentity(err error) bool { c, ok := classOf(err); return ok && c == ErrorClassIdentity }

// IsAuthStale returns true for identity-staleness errors.
func IsAuthStale(err error) bool { c, ok := classOf(err); return ok && c == ErrorClassAuthStale }

// IsThrottled returns true for throttling errors.
func IsThrottled(err error) bool { c, ok := classOf(err); return ok && c == ErrorClassThrottled }

// IsValidation returns true for validation errors.
func IsValidation(err error) bool { c, ok := classOf(err); return ok && c == ErrorClassValidation }

// IsNotFound returns true for not-found errors.
func IsNotFound(err error) bool { c, ok := classOf(err); return ok && c == ErrorClassNotFound }

// IsUnsupportedFilter returns true for unsupported-filter errors.
func IsUnsupportedFilter(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassUnsupportedFilter
}

// IsFatal reports whether an error must abort the whole run rather than be
// recorded against a single resource or batch.
func IsFatal(err error) bool {
	return IsIdentity(err) || IsUnsupportedFilter(err)
}

// BatchError carries per-resource failures for a partially-failed batch call.
// When the provider error identifies the offending resources, only those are
// recorded as failed and the rest of the batch is treated as applied.
type BatchError struct {
	// Failed maps resource ID to its failure.
	Failed map[string]error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed for %d resource(s)", len(e.Failed))
}
