// Package secrets keeps credentials in the OS keyring, falling back to the
// configured value when the keyring has nothing or is unavailable.
package secrets

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "medminder"

// Well-known keyring users
const (
	SMTPPassword     = "smtp-password"
	TelegramBotToken = "telegram-bot-token"
	DiscordBotToken  = "discord-bot-token"
	AssistantAPIKey  = "assistant-api-key"
)

var (
	ErrNotFound    = errors.New("secret not found in keyring")
	ErrUnavailable = errors.New("OS keyring is not available")
)

func Get(name string) (string, error) {
	v, err := keyring.Get(service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func Set(name, value string) error {
	if value == "" {
		return errors.New("secret cannot be empty")
	}
	if err := keyring.Set(service, name, value); err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", name, err)
	}
	return nil
}

func Delete(name string) error {
	err := keyring.Delete(service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s from keyring: %w", name, err)
	}
	return nil
}

// Resolve returns the keyring value for name, or fallback when there is none
func Resolve(name, fallback string) string {
	if v, err := Get(name); err == nil && v != "" {
		return v
	}
	return fallback
}

// Available reports whether the keyring answers at all
func Available() bool {
	_, err := keyring.Get(service, "availability-check")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
