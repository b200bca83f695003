package notify

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/secrets"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/wneessen/go-mail"
)

// EmailConfig is the SMTP account used for reminders
type EmailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Sender    string
	Recipient string
}

// AddressBook supplies the addresses saved on the settings page
type AddressBook interface {
	EmailSettings(ctx context.Context) (store.EmailSettings, error)
}

// Email sends notifications over SMTP
type Email struct {
	cfg  EmailConfig
	book AddressBook
	dial func(ctx context.Context, cfg EmailConfig, msg *mail.Msg) error
}

func NewEmail(cfg EmailConfig, book AddressBook) *Email {
	return &Email{cfg: cfg, book: book, dial: dialAndSend}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, n Notification) error {
	cfg, err := e.resolve(ctx)
	if err != nil {
		return err
	}
	msg, err := buildMessage(cfg, n)
	if err != nil {
		return err
	}
	if err := e.dial(ctx, cfg, msg); err != nil {
		return apperrors.WithCause(apperrors.ErrChannelUnavailable, fmt.Errorf("smtp: %w", err))
	}
	return nil
}

// resolve overlays the saved addresses on the configured ones
func (e *Email) resolve(ctx context.Context) (EmailConfig, error) {
	cfg := e.cfg
	if e.book != nil {
		saved, err := e.book.EmailSettings(ctx)
		if err != nil {
			return cfg, err
		}
		if saved.Sender != "" {
			cfg.Sender = saved.Sender
		}
		if saved.Recipient != "" {
			cfg.Recipient = saved.Recipient
		}
	}
	if cfg.Username == "" {
		cfg.Username = cfg.Sender
	}
	cfg.Password = secrets.Resolve(secrets.SMTPPassword, cfg.Password)
	if cfg.Host == "" || cfg.Sender == "" || cfg.Recipient == "" {
		return cfg, apperrors.WithCause(apperrors.ErrChannelNotConfigured, fmt.Errorf("email addresses are not set"))
	}
	return cfg, nil
}

func buildMessage(cfg EmailConfig, n Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(cfg.Sender); err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("invalid sender address: %v", err))
	}
	if err := msg.To(cfg.Recipient); err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("invalid recipient address: %v", err))
	}
	msg.Subject(n.Title)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, emailBody(n))
	return msg, nil
}

func emailBody(n Notification) string {
	var b strings.Builder
	b.WriteString("Dear User,\n\n")
	b.WriteString(n.Body)
	b.WriteString("\n\n")
	if n.Kind == KindReminder && !n.At.IsZero() {
		fmt.Fprintf(&b, "Time: %s\nDate: %s\n\n", n.At.Format("15:04"), n.At.Format("2006-01-02"))
	}
	if n.Kind == KindExpiry {
		b.WriteString("Please consider replacing them soon.\n\n")
	}
	b.WriteString("Stay healthy!\nYour Medicine Reminder App\n")
	return b.String()
}

func dialAndSend(ctx context.Context, cfg EmailConfig, msg *mail.Msg) error {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
