package apperror

import (
	"errors"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	// Each test case checks that errors.Is() correctly identifies the error kind
	// through the AppError wrapper.
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("guest session", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("user", "someone@example.com"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("invalid email or password"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "InsufficientCredits wraps ErrInsufficientCredits",
			err:       InsufficientCredits(0, 1),
			target:    ErrInsufficientCredits,
			wantMatch: true,
		},
		{
			name:      "InsufficientCredits does NOT match ErrNotFound",
			err:       InsufficientCredits(2, 5),
			target:    ErrNotFound,
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
		name    string
		err     *AppError
		wantMsg string
	}{
		{
			name:    "NotFound message includes resource and id",
			err:     NotFound("guest session", "g-42"),
			wantMsg: "guest session not found with id g-42",
		},
		{
			name:    "InsufficientCredits message includes both balances",
			err:     InsufficientCredits(2, 5),
			wantMsg: "insufficient credits: have 2, need 5",
		},
		{
			name:    "Unauthorized passes the message through",
			err:     Unauthorized("invalid email or password"),
			wantMsg: "invalid email or password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}
