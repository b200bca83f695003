package security

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/gmsas95/medminder/internal/errors"
)

var (
	ErrTooLong           = errors.New("is too long")
	ErrNullByteDetected  = errors.New("contains a null byte")
	ErrControlCharacter  = errors.New("contains control characters")
	ErrRepetitiveContent = errors.New("repeats one character too many times")
)

// Field limits in characters
const (
	MaxNameLen    = 200
	MaxDosageLen  = 100
	MaxBarcodeLen = 64
	MaxNotesLen   = 2000
)

type InputValidator struct {
	MaxLen        int
	MaxRepetition int
	// AllowNewlines permits \n, \r and \t, as in notes
	AllowNewlines bool
}

func NewInputValidator(maxLen int) *InputValidator {
	return &InputValidator{
		MaxLen:        maxLen,
		MaxRepetition: 50,
	}
}

func (v *InputValidator) Validate(input string) error {
	if v.MaxLen > 0 && utf8.RuneCountInString(input) > v.MaxLen {
		return ErrTooLong
	}

	for _, r := range input {
		if r == 0 {
			return ErrNullByteDetected
		}
		if unicode.IsControl(r) && !(v.AllowNewlines && (r == '\n' || r == '\r' || r == '\t')) {
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}
	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	var prev rune
	count := 0
	for _, r := range input {
		if r == prev {
			count++
			if count > maxLen {
				return true
			}
		} else {
			prev, count = r, 1
		}
	}
	return false
}

// ValidateField checks one user-entered value and names the field in the
// returned validation error
func ValidateField(field, value string, maxLen int, multiline bool) error {
	v := NewInputValidator(maxLen)
	v.AllowNewlines = multiline
	if err := v.Validate(value); err != nil {
		return apperrors.WithCause(apperrors.Validation(fmt.Sprintf("%s %v", field, err)), err)
	}
	return nil
}
