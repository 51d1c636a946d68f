package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "out of stock", err: ErrOutOfStock, want: true},
		{name: "wrapped duplicate", err: fmt.Errorf("request: %w", ErrDuplicateRequest), want: true},
		{name: "joined not pending", err: errors.Join(ErrRequestNotPending, errors.New("ctx")), want: true},
		{name: "not found", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflict(tt.err); got != tt.want {
				t.Errorf("IsConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", ErrCancellationNotFound)) {
		t.Fatal("wrapped cancellation not found must be classified as not found")
	}
	if IsNotFound(ErrInvalidState) {
		t.Fatal("invalid state is not a not-found error")
	}
}

func TestValidationError(t *testing.T) {
	verr := NewValidationError()
	if verr.Err() != nil {
		t.Fatal("empty validation error must convert to nil")
	}

	verr.Add("phone", "is required")
	verr.Add("email", "is required")

	err := fmt.Errorf("checkout: %w", verr.Err())
	if !IsValidation(err) {
		t.Fatal("wrapped validation error must be detected")
	}
	want := "validation failed: email: is required; phone: is required"
	if verr.Error() != want {
		t.Fatalf("unexpected message %q, want %q", verr.Error(), want)
	}
}
