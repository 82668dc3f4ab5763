// Package errors tests for error code definitions and error handling.
package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestErrorCodes_areUnique verifies no two codes share a value.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrConfig,
		ErrStorage, ErrMigration,
		ErrRecording, ErrDispatch, ErrRetriesExhausted, ErrUnknownEntity,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("duplicate ErrorCode %q", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrDispatch, Message: "insert invoices", Err: fmt.Errorf("connection reset")},
			want:     "[DISPATCH_FAILED] insert invoices: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies the cause is reachable through errors.Is.
func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrStorage, "write queue", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is() should find the wrapped cause")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() did not return the cause")
	}
}

// TestNew verifies New leaves Err unset.
func TestNew(t *testing.T) {
	err := New(ErrInvalid, "entity id is required")
	if err.Code != ErrInvalid || err.Message != "entity id is required" || err.Err != nil {
		t.Errorf("New() = %+v", err)
	}
}

// TestIs verifies code matching through wrapping.
func TestIs(t *testing.T) {
	base := New(ErrUnknownEntity, "warehouse")
	wrapped := fmt.Errorf("dispatch change: %w", base)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", base, ErrUnknownEntity, true},
		{"wrapped match", wrapped, ErrUnknownEntity, true},
		{"different code", base, ErrDispatch, false},
		{"plain error", stderrors.New("x"), ErrDispatch, false},
		{"nil error", nil, ErrDispatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the fallback code for foreign errors.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("ctx: %w", New(ErrDispatch, "no network"))); got != ErrDispatch {
		t.Errorf("CodeOf() = %q, want OFFLINE", got)
	}
	if got := CodeOf(stderrors.New("boom")); got != ErrInternal {
		t.Errorf("CodeOf() = %q, want INTERNAL_ERROR", got)
	}
}
