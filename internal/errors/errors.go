package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped sentinels
// still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrValidation      = &AppError{Code: "VALID_001", Message: "invalid input"}
	ErrNameRequired    = &AppError{Code: "VALID_002", Message: "medicine name is required"}
	ErrInvalidTime     = &AppError{Code: "VALID_003", Message: "invalid time of day"}
	ErrInvalidDay      = &AppError{Code: "VALID_004", Message: "invalid day of week"}
	ErrInvalidDate     = &AppError{Code: "VALID_005", Message: "invalid date"}
	ErrInvalidQuantity = &AppError{Code: "VALID_006", Message: "doses remaining must not be negative"}

	ErrMedicineNotFound = &AppError{Code: "MED_001", Message: "medicine not found"}
	ErrScheduleNotFound = &AppError{Code: "MED_002", Message: "schedule not found"}

	ErrExternalNotConfigured = &AppError{Code: "EXT_001", Message: "external service not configured"}
	ErrExternalUnavailable   = &AppError{Code: "EXT_002", Message: "external service unavailable"}
	ErrExternalAuth          = &AppError{Code: "EXT_003", Message: "external service authentication failed"}
	ErrRateLimited           = &AppError{Code: "EXT_004", Message: "rate limit exceeded"}

	ErrChannelNotConfigured = &AppError{Code: "CHAN_001", Message: "channel not configured"}
	ErrChannelUnavailable   = &AppError{Code: "CHAN_002", Message: "channel unavailable"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden    = &AppError{Code: "AUTH_002", Message: "forbidden"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// IsValidation reports whether err belongs to the VALID_* family.
func IsValidation(err error) bool {
	code := GetCode(err)
	return len(code) > 6 && code[:6] == "VALID_"
}

// IsExternal reports whether err came from a third-party adapter.
func IsExternal(err error) bool {
	code := GetCode(err)
	return len(code) > 4 && code[:4] == "EXT_"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithCause returns a copy of a sentinel carrying cause.
func WithCause(sentinel *AppError, cause error) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Cause:   cause,
	}
}

// Validation builds a VALID_001 error with a user facing message.
func Validation(message string) *AppError {
	return &AppError{Code: ErrValidation.Code, Message: message}
}
