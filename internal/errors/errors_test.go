package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError(t *testing.T) {
	err := New("TEST_001", "test error")

	if err.Code != "TEST_001" {
		t.Errorf("expected code TEST_001, got %s", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", err.Message)
	}
}

func TestAppErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("smtp refused")
	err := New("CHAN_002", "channel unavailable", cause)

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}
	if !strings.Contains(err.Error(), "smtp refused") {
		t.Errorf("expected error string to contain cause, got %s", err.Error())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("load medicine 7: %w", WithCause(ErrMedicineNotFound, fmt.Errorf("record not found")))

	if !stderrors.Is(wrapped, ErrMedicineNotFound) {
		t.Error("expected errors.Is to match by code through wrapping")
	}
	if stderrors.Is(wrapped, ErrScheduleNotFound) {
		t.Error("expected different codes not to match")
	}
}

func TestGetCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrInvalidTime)

	if GetCode(err) != "VALID_003" {
		t.Errorf("expected VALID_003, got %s", GetCode(err))
	}
	if GetCode(fmt.Errorf("plain")) != "UNKNOWN" {
		t.Error("expected UNKNOWN for standard error")
	}
	if !IsAppError(err) {
		t.Error("expected IsAppError to see through wrapping")
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		external   bool
	}{
		{"name required", ErrNameRequired, true, false},
		{"custom validation", Validation("pick a weekday"), true, false},
		{"overpass down", WithCause(ErrExternalUnavailable, fmt.Errorf("timeout")), false, true},
		{"not found", ErrMedicineNotFound, false, false},
		{"plain", fmt.Errorf("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
			if got := IsExternal(tt.err); got != tt.external {
				t.Errorf("IsExternal = %v, want %v", got, tt.external)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, "EXT_002", "overpass unavailable")

	if err.Code != "EXT_002" {
		t.Errorf("expected code EXT_002, got %s", err.Code)
	}
	if err.Unwrap() != cause {
		t.Error("expected cause to be set")
	}
}

func TestPredefinedErrors(t *testing.T) {
	sentinels := []*AppError{
		ErrConfigNotFound, ErrConfigInvalid, ErrValidation, ErrNameRequired,
		ErrInvalidTime, ErrInvalidDay, ErrInvalidDate, ErrInvalidQuantity,
		ErrMedicineNotFound, ErrScheduleNotFound, ErrExternalNotConfigured,
		ErrExternalUnavailable, ErrExternalAuth, ErrRateLimited,
		ErrChannelNotConfigured, ErrChannelUnavailable, ErrUnauthorized,
		ErrForbidden, ErrNotFound, ErrBadRequest, ErrInternal,
	}

	seen := make(map[string]bool)
	for _, e := range sentinels {
		if e.Code == "" || e.Message == "" {
			t.Errorf("sentinel %v missing code or message", e)
		}
		if seen[e.Code] {
			t.Errorf("duplicate code %s", e.Code)
		}
		seen[e.Code] = true
	}
}
