package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"golang.org/x/oauth2"
)

// do sends a request and decodes a JSON response into dest when non-nil
func do(ctx context.Context, client *http.Client, method, url string, body io.Reader, contentType string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return apperrors.WithCause(apperrors.ErrExternalAuth, err)
		}
		return apperrors.WithCause(apperrors.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := fmt.Errorf("%s %s: %s - %s", method, req.URL.Path, resp.Status, strings.TrimSpace(string(snippet)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.WithCause(apperrors.ErrExternalAuth, cause)
		case http.StatusNotFound:
			return apperrors.WithCause(apperrors.ErrNotFound, cause)
		case http.StatusTooManyRequests:
			return apperrors.WithCause(apperrors.ErrRateLimited, cause)
		default:
			return apperrors.WithCause(apperrors.ErrExternalUnavailable, cause)
		}
	}

	if dest == nil {
		return nil
	}
	if w, ok := dest.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doJSON sends payload as JSON
func doJSON(ctx context.Context, client *http.Client, method, url string, payload, dest interface{}) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return do(ctx, client, method, url, body, contentType, dest)
}
