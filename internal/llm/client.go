// Package llm is a small client for OpenAI-compatible chat completion APIs
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gmsas95/medminder/internal/config"
)

// ErrBadOutput means the model answered but not in the requested format
var ErrBadOutput = errors.New("model returned invalid JSON")

// Client provides LLM API access
type Client struct {
	cfg    config.AssistantConfig
	client *http.Client
}

// NewClient creates a new LLM client
func NewClient(cfg config.AssistantConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

// Message represents a chat message. Content is a string or a []ContentPart.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one part of a multimodal message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a URL or data URI
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat asks the model for a specific output format
type ResponseFormat struct {
	Type string `json:"type"`
}

// JSONObject forces the model to answer with a JSON object
var JSONObject = &ResponseFormat{Type: "json_object"}

// ChatRequest represents an API request
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse represents a non-streaming API response
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Text returns the content of the first choice
func (r *ChatResponse) Text() (string, error) {
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return r.Choices[0].Message.Content, nil
}

// APIError is a non-200 answer from the API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed later
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ChatCompletion sends a chat completion request
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// SimpleChat sends a single user message and returns the response text
func (c *Client) SimpleChat(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.ChatCompletion(ctx, ChatRequest{
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text()
}

// JSONChat sends messages in JSON mode and decodes the answer into dest
func (c *Client) JSONChat(ctx context.Context, model string, messages []Message, dest interface{}) error {
	resp, err := c.ChatCompletion(ctx, ChatRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: JSONObject,
	})
	if err != nil {
		return err
	}
	text, err := resp.Text()
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripFences(text)), dest); err != nil {
		return fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	return nil
}

// UserText builds a plain user message
func UserText(prompt string) Message {
	return Message{Role: "user", Content: prompt}
}

// UserImage builds a user message with a prompt and an inline image
func UserImage(prompt, mimeType string, image []byte) Message {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	uri := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return Message{Role: "user", Content: []ContentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &ImageURL{URL: uri}},
	}}
}

// StripFences removes a surrounding ```json block some models add in JSON mode
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Configured reports whether an API key is set
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// GetModel returns the configured text model
func (c *Client) GetModel() string {
	return c.cfg.Model
}

// VisionModel returns the configured image model
func (c *Client) VisionModel() string {
	if c.cfg.VisionModel == "" {
		return c.cfg.Model
	}
	return c.cfg.VisionModel
}
