package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case names the error under test and the sentinel it should (or should
// not) match through errors.Is.
func TestErrorsIs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("repository", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("github_id", "duplicate github id"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("organization", "neatorg"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "StateMismatch wraps ErrStateMismatch",
			err:       StateMismatch("state does not match"),
			target:    ErrStateMismatch,
			wantMatch: true,
		},
		{
			name:      "RateLimited wraps ErrRateLimited",
			err:       RateLimited(cause),
			target:    ErrRateLimited,
			wantMatch: true,
		},
		{
			name:      "RateLimited exposes its cause",
			err:       RateLimited(cause),
			target:    cause,
			wantMatch: true,
		},
		{
			name:      "AuthFailed survives further wrapping",
			err:       fmt.Errorf("service/auth: %w", AuthFailed(cause)),
			target:    ErrAuthFailed,
			wantMatch: true,
		},
		{
			name:      "AuthFailed does NOT match ErrRateLimited",
			err:       AuthFailed(cause),
			target:    ErrRateLimited,
			wantMatch: false,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("user", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("repository", "abc123"),
			wantMessage: "repository not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("name", "name is required"),
			wantMessage: "name is required",
		},
		{
			name:        "AuthFailed appends the cause",
			err:         AuthFailed(errors.New("boom")),
			wantMessage: "authentication failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("sqlite: %w", NotFound("user", "u1"))

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As() did not find the *AppError")
	}
	if appErr.Message != "user not found with id u1" {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("github_id", "duplicate github id 5")

	if err.Field != "github_id" {
		t.Errorf("Field = %q, want %q", err.Field, "github_id")
	}
}
