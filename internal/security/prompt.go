// Package security checks user-entered text before it is stored or sent
// to the AI assistant.
package security

import (
	"fmt"

	apperrors "github.com/gmsas95/medminder/internal/errors"
)

var (
	defaultDetector = NewPromptInjectionDetector()
	defaultScanner  = NewSecretScanner()
)

// PromptText prepares a user value for a model prompt. Secrets are
// redacted; text that tries to steer the model is rejected.
func PromptText(field, value string) (string, error) {
	if defaultDetector.Detect(value) {
		return "", apperrors.WithCause(
			apperrors.Validation(fmt.Sprintf("%s contains instructions the assistant will not follow", field)),
			ErrPromptInjection,
		)
	}
	return defaultScanner.Redact(value), nil
}

// RedactSecrets masks credentials in text bound for logs or the model
func RedactSecrets(input string) string {
	return defaultScanner.Redact(input)
}

func HasSecrets(input string) bool {
	return defaultScanner.HasSecrets(input)
}
