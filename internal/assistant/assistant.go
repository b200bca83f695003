// Package assistant answers medicine questions with an OpenAI-compatible
// chat model: analysis, food interactions, alternatives, image
// identification and friendlier reminder texts.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/llm"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/security"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const service = "assistant"

// Analysis is the result of Analyze
type Analysis struct {
	UsageAdvice  string   `json:"usage_advice"`
	SideEffects  []string `json:"side_effects"`
	Interactions []string `json:"interactions"`
	GeneralInfo  string   `json:"general_info"`
}

// FoodInteraction is one food to be careful with
type FoodInteraction struct {
	Food        string `json:"food"`
	Description string `json:"description"`
}

// Alternative is a possible substitute medicine
type Alternative struct {
	Name  string `json:"name"`
	Class string `json:"class"`
	Notes string `json:"notes"`
}

// Alternatives lists substitutes with the model's disclaimer
type Alternatives struct {
	Items      []Alternative `json:"alternatives"`
	Disclaimer string        `json:"disclaimer"`
}

// Identification is the model's guess of what an image shows
type Identification struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Confidence  string `json:"confidence"`
	Notes       string `json:"notes"`
}

// Assistant wraps the chat client with a circuit breaker and metrics
type Assistant struct {
	client  *llm.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an assistant. It is usable without an API key; every
// operation except ReminderMessage then fails with ErrExternalNotConfigured.
func New(cfg config.AssistantConfig, m *metrics.Metrics, logger *zap.Logger) *Assistant {
	if m == nil {
		m = metrics.Default()
	}
	return &Assistant{
		client:  llm.NewClient(cfg),
		breaker: newBreaker(logger),
		metrics: m,
		logger:  logger,
	}
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// a model answering with bad JSON is not an outage
			var apiErr *llm.APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return err == nil || errors.Is(err, llm.ErrBadOutput) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// IsConfigured reports whether an API key is set
func (a *Assistant) IsConfigured() bool {
	return a.client.Configured()
}

// call runs fn through the breaker, records the call and maps errors
func (a *Assistant) call(op string, fn func() error) error {
	if !a.IsConfigured() {
		return apperrors.ErrExternalNotConfigured
	}

	start := time.Now()
	_, err := a.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	a.metrics.RecordExternal(service, err, time.Since(start))
	if err == nil {
		return nil
	}

	a.logger.Error("Assistant request failed", zap.String("operation", op), zap.Error(err))

	var apiErr *llm.APIError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.WithCause(apperrors.ErrExternalUnavailable, err)
	case errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403):
		return apperrors.WithCause(apperrors.ErrExternalAuth, err)
	case errors.As(err, &apiErr) && apiErr.StatusCode == 429:
		return apperrors.WithCause(apperrors.ErrRateLimited, err)
	default:
		return apperrors.WithCause(apperrors.ErrExternalUnavailable, fmt.Errorf("%s: %w", op, err))
	}
}

// promptFields cleans user values for a prompt, in order
func promptFields(fields ...[2]string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		clean, err := security.PromptText(f[0], f[1])
		if err != nil {
			return nil, err
		}
		out[i] = clean
	}
	return out, nil
}

// Analyze returns usage advice, side effects and interactions for a medicine
func (a *Assistant) Analyze(ctx context.Context, name, dosage, notes string) (*Analysis, error) {
	clean, err := promptFields([2]string{"Medicine name", name}, [2]string{"Dosage", dosage}, [2]string{"Notes", notes})
	if err != nil {
		return nil, err
	}
	name, dosage, notes = clean[0], clean[1], clean[2]

	var sb strings.Builder
	sb.WriteString("Please analyze this medication information and provide usage advice, potential side effects, ")
	sb.WriteString("and general information:\n\nMedicine: ")
	sb.WriteString(name)
	if dosage != "" {
		sb.WriteString("\nDosage: " + dosage)
	}
	if notes != "" {
		sb.WriteString("\nAdditional Notes: " + notes)
	}
	sb.WriteString("\n\nProvide information in JSON format with the following structure: ")
	sb.WriteString(`{"usage_advice": "...", "side_effects": ["..."], "interactions": ["..."], "general_info": "..."}`)

	var out Analysis
	err = a.call("analyze", func() error {
		return a.client.JSONChat(ctx, "", []llm.Message{llm.UserText(sb.String())}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FoodInteractions lists known food interactions of a medicine
func (a *Assistant) FoodInteractions(ctx context.Context, name string) ([]FoodInteraction, error) {
	name, err := security.PromptText("Medicine name", name)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Provide a list of potential food interactions for the medicine '%s'. "+
		`Format the response as a JSON object {"interactions": [{"food": "...", "description": "..."}]}. `+
		"Include only scientifically verified interactions.", name)

	var raw json.RawMessage
	err = a.call("food_interactions", func() error {
		return a.client.JSONChat(ctx, "", []llm.Message{llm.UserText(prompt)}, &raw)
	})
	if err != nil {
		return nil, err
	}

	var out []FoodInteraction
	if err := decodeList(raw, "interactions", &out); err != nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, err)
	}
	return out, nil
}

// Alternatives suggests substitutes for a medicine, optionally for a reason
func (a *Assistant) Alternatives(ctx context.Context, name, reason string) (*Alternatives, error) {
	clean, err := promptFields([2]string{"Medicine name", name}, [2]string{"Reason", reason})
	if err != nil {
		return nil, err
	}
	name, reason = clean[0], clean[1]

	prompt := fmt.Sprintf("Suggest potential alternative medications for '%s'", name)
	if reason != "" {
		prompt += " for a patient who " + reason
	}
	prompt += `. Format the response as a JSON object {"alternatives": [{"name": "...", "class": "...", "notes": "..."}], ` +
		`"disclaimer": "..."}. Include a clear disclaimer about consulting healthcare providers.`

	var raw json.RawMessage
	err = a.call("alternatives", func() error {
		return a.client.JSONChat(ctx, "", []llm.Message{llm.UserText(prompt)}, &raw)
	})
	if err != nil {
		return nil, err
	}

	out := &Alternatives{}
	if err := decodeList(raw, "alternatives", &out.Items); err != nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, err)
	}
	var obj struct {
		Disclaimer string `json:"disclaimer"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		out.Disclaimer = obj.Disclaimer
	}
	if out.Disclaimer == "" {
		out.Disclaimer = "Always consult your doctor or pharmacist before changing medication."
	}
	return out, nil
}

// IdentifyImage asks the vision model what medicine an image shows
func (a *Assistant) IdentifyImage(ctx context.Context, image []byte, mimeType string) (*Identification, error) {
	if len(image) == 0 {
		return nil, apperrors.Validation("image is empty")
	}
	prompt := "Please identify this medication and provide the following information in JSON format: " +
		`{"name": "possible medicine name", "description": "brief description", ` +
		`"confidence": "high/medium/low", "notes": "any additional information"}`

	var out Identification
	err := a.call("identify_image", func() error {
		return a.client.JSONChat(ctx, a.client.VisionModel(),
			[]llm.Message{llm.UserImage(prompt, mimeType, image)}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReminderMessage writes a short reminder text. Without an API key it
// returns the template text; on failure it returns the template text along
// with the error.
func (a *Assistant) ReminderMessage(ctx context.Context, name, dosage string, at time.Time, important bool) (string, error) {
	clock := at.Format("15:04")
	fallback := FallbackReminder(name, dosage, clock, important)
	if !a.IsConfigured() {
		return fallback, nil
	}
	clean, err := promptFields([2]string{"Medicine name", name}, [2]string{"Dosage", dosage})
	if err != nil {
		return fallback, nil
	}
	name, dosage = clean[0], clean[1]

	importance := "normal"
	if important {
		importance = "high"
	}
	prompt := fmt.Sprintf("Create a short, friendly reminder message for taking medicine. "+
		"Medicine: %s, Dosage: %s, Time: %s, Importance: %s. "+
		"Keep it concise (max 100 characters) and motivational.", name, dosage, clock, importance)

	var text string
	err = a.call("reminder_message", func() error {
		var err error
		text, err = a.client.SimpleChat(ctx, prompt, 100)
		return err
	})
	if err != nil {
		return fallback, err
	}
	if text = strings.TrimSpace(text); text == "" {
		return fallback, nil
	}
	return text, nil
}

// FallbackReminder is the reminder text used without the model
func FallbackReminder(name, dosage, clock string, important bool) string {
	if important {
		return fmt.Sprintf("IMPORTANT REMINDER: Time to take %s (%s) at %s!", name, dosage, clock)
	}
	return fmt.Sprintf("Reminder: Time to take %s (%s) at %s", name, dosage, clock)
}

// decodeList accepts either a bare array or an object holding the array
// under key (or under its only array-valued field).
func decodeList(raw json.RawMessage, key string, dest interface{}) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(raw, dest)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("unexpected response shape: %w", err)
	}
	if v, ok := obj[key]; ok {
		return json.Unmarshal(v, dest)
	}
	for _, v := range obj {
		if strings.HasPrefix(strings.TrimSpace(string(v)), "[") {
			return json.Unmarshal(v, dest)
		}
	}
	return fmt.Errorf("response has no %q list", key)
}
