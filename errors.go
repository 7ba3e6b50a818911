package hookrelay

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a hookrelay infrastructure error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for hookrelay operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeDuplicate indicates a unique constraint rejected an insert.
	ErrCodeDuplicate = "DUPLICATE"

	// ErrCodeLeaseLost indicates an ack arrived for a lease that is no longer held.
	ErrCodeLeaseLost = "LEASE_LOST"

	// ErrCodeValidation indicates validation failed.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates database operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeDelivery indicates webhook delivery failed.
	ErrCodeDelivery = "DELIVERY_ERROR"

	// ErrCodeConflict indicates an idempotency key was reused with different content.
	ErrCodeConflict = "CONFLICT"

	// ErrCodeNotFound indicates an unknown identifier.
	ErrCodeNotFound = "NOT_FOUND"
)

// Common errors.
var (
	// ErrNoData is returned by repositories when a query returns no results.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrDuplicate is returned by repositories when an insert violates a unique index.
	ErrDuplicate = &Error{
		Code:    ErrCodeDuplicate,
		Message: "duplicate record",
	}

	// ErrLeaseLost is returned when an ack is fenced out because the lease expired
	// and the delivery was reclaimed or re-leased by another worker.
	ErrLeaseLost = &Error{
		Code:    ErrCodeLeaseLost,
		Message: "delivery lease no longer held",
	}

	// ErrInvalidConfiguration is returned when worker configuration is invalid.
	ErrInvalidConfiguration = &Error{
		Code:    ErrCodeConfiguration,
		Message: "invalid worker configuration",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return hasCode(err, ErrCodeNoData)
}

// IsDuplicate checks if an error is ErrDuplicate.
func IsDuplicate(err error) bool {
	return hasCode(err, ErrCodeDuplicate)
}

// IsLeaseLost checks if an error is ErrLeaseLost.
func IsLeaseLost(err error) bool {
	return hasCode(err, ErrCodeLeaseLost)
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ConflictError is returned by Submit when an idempotency key was already used
// for an event whose type or payload differs from the request.
type ConflictError struct {
	Source          string
	IdempotencyKey  string
	ExistingEventID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: idempotency key %q for source %q already used by event %s with different content",
		ErrCodeConflict, e.IdempotencyKey, e.Source, e.ExistingEventID)
}

// ValidationError reports malformed event or subscription input.
// Err usually holds an ozzo validation.Errors map keyed by field.
type ValidationError struct {
	Err error
}

// NewValidationError wraps err as a ValidationError. A nil err yields nil.
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCodeValidation, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q not found", ErrCodeNotFound, e.Resource, e.ID)
}

// RetryableDeliveryError is a transport failure, timeout, 429 or 5xx response.
// It drives backoff and is never surfaced to the ingestion caller.
type RetryableDeliveryError struct {
	Code       string
	StatusCode int
	Err        error
}

func (e *RetryableDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retryable delivery failure (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("retryable delivery failure (%s)", e.Code)
}

func (e *RetryableDeliveryError) Unwrap() error {
	return e.Err
}

// PermanentDeliveryError is a rejection by the target (4xx other than 429) or a
// delivery that can never succeed. It dead-letters immediately.
type PermanentDeliveryError struct {
	Code       string
	StatusCode int
	Err        error
}

func (e *PermanentDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery failure (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("permanent delivery failure (%s)", e.Code)
}

func (e *PermanentDeliveryError) Unwrap() error {
	return e.Err
}

// AttemptsExhaustedError marks a retryable failure that used up the last attempt.
type AttemptsExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("delivery attempts exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Last
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// HTTPStatus maps an error returned by the public services to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsConflict(err):
		return http.StatusConflict
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
