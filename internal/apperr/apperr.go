// Package apperr defines the error taxonomy shared by the services and the
// HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when the requested ticket, order or account does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a ticket is not in a state that allows the operation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTicketExists is returned when a quote is submitted for an email that already has a ticket.
	ErrTicketExists = errors.New("a quote request already exists for this email")
	// ErrForbidden is returned when the principal lacks the role for an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNoPendingReset is returned when a forced password change is attempted without a trap door.
	ErrNoPendingReset = errors.New("no pending password change for this account")
	// ErrMeshTimeout is returned when mesh generation exceeds its attempt budget or deadline.
	ErrMeshTimeout = errors.New("mesh generation timed out")
	// ErrNotConfigured is returned when a feature is disabled by missing configuration.
	ErrNotConfigured = errors.New("feature not configured")
)

// ValidationError reports input rejected before any gateway call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthError carries a credential rejection with the gateway message verbatim.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// StorageError reports an object upload or download failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// GenerationError reports a failed, cancelled or malformed mesh job.
type GenerationError struct {
	TaskID string
	Status string
	Reason string
}

func (e *GenerationError) Error() string {
	if e.TaskID == "" {
		return "mesh generation: " + e.Reason
	}
	return fmt.Sprintf("mesh generation task %s (%s): %s", e.TaskID, e.Status, e.Reason)
}

// PartialFailure reports that one of two paired writes landed and the other did not.
type PartialFailure struct {
	Op        string
	Email     string
	Completed []string
	Failed    []string
	Err       error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s %s: partial failure (completed: %s; failed: %s): %v",
		e.Op, e.Email, strings.Join(e.Completed, ","), strings.Join(e.Failed, ","), e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		auth       *AuthError
		storage    *StorageError
		generation *GenerationError
		partial    *PartialFailure
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &partial):
		return http.StatusInternalServerError
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNoPendingReset):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTicketExists):
		return http.StatusConflict
	case errors.Is(err, ErrMeshTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &storage), errors.As(err, &generation):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
