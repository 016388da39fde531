// Package apperror defines the application's error taxonomy.
//
// Every error that crosses a package boundary is either a plain wrapped error
// (fmt.Errorf with %w) or an *AppError whose Err field is one of the sentinel
// values below. Handlers decide the HTTP response with errors.Is, never by
// comparing message strings.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// Login flow outcomes.
	ErrStateMismatch = errors.New("state mismatch")
	ErrRateLimited   = errors.New("rate limited")
	ErrAuthFailed    = errors.New("authentication failed")
)

type AppError struct {
	Err     error  // sentinel this error classifies as
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, logged but never shown to users
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause so errors.Is and errors.As
// see the whole chain.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// StateMismatch is returned when the OAuth state presented on callback is
// missing, expired, or differs from the one issued at redirect time.
func StateMismatch(message string) *AppError {
	return &AppError{
		Err:     ErrStateMismatch,
		Message: message,
	}
}

// RateLimited wraps a provider throttling response. Safe to retry later.
func RateLimited(cause error) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "provider rate limit exceeded",
		Cause:   cause,
	}
}

// AuthFailed is the generic login failure: transport or authorization errors
// from the provider, and persistence errors during reconciliation.
func AuthFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrAuthFailed,
		Message: "authentication failed",
		Cause:   cause,
	}
}
