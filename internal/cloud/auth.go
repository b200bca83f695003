package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const tokenKey = "google:oauth_token"

// Scopes requested in the single consent screen
var Scopes = []string{
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/spreadsheets",
}

// TokenStore persists the OAuth token
type TokenStore interface {
	GetKV(key string) ([]byte, error)
	SetKV(key string, value []byte, ttl time.Duration) error
	DeleteKV(key string) error
}

// Auth runs the Google OAuth2 authorization code flow
type Auth struct {
	config  *oauth2.Config
	tokens  TokenStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuth creates the OAuth helper
func NewAuth(cfg config.GoogleConfig, tokens TokenStore, logger *zap.Logger) *Auth {
	return &Auth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		tokens:  tokens,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// SetEndpoint points the flow at another authorization server
func (a *Auth) SetEndpoint(ep oauth2.Endpoint) {
	a.config.Endpoint = ep
}

// Configured reports whether client credentials are present
func (a *Auth) Configured() bool {
	return a.config.ClientID != "" && a.config.ClientSecret != ""
}

// AuthURL returns the consent page URL
func (a *Auth) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it
func (a *Auth) Exchange(ctx context.Context, code string) error {
	if !a.Configured() {
		return apperrors.WithCause(apperrors.ErrExternalNotConfigured, fmt.Errorf("google client credentials missing"))
	}
	if code == "" {
		return apperrors.Validation("authorization code is required")
	}

	token, err := a.config.Exchange(a.httpContext(ctx), code)
	if err != nil {
		return apperrors.WithCause(apperrors.ErrExternalAuth, fmt.Errorf("failed to exchange code: %w", err))
	}
	if err := a.save(token); err != nil {
		return err
	}
	a.logger.Info("Google account connected")
	return nil
}

// Authenticated reports whether a token is stored
func (a *Auth) Authenticated() bool {
	tok, err := a.load()
	return err == nil && tok != nil
}

// Disconnect forgets the stored token
func (a *Auth) Disconnect() error {
	return a.tokens.DeleteKV(tokenKey)
}

// Client returns an HTTP client that authorizes requests with the stored
// token, refreshing and re-saving it as needed.
func (a *Auth) Client(ctx context.Context) (*http.Client, error) {
	tok, err := a.load()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalAuth, fmt.Errorf("google account not connected"))
	}

	ctx = a.httpContext(ctx)
	src := &savingSource{
		base: a.config.TokenSource(ctx, tok),
		last: tok.AccessToken,
		save: a.save,
		log:  a.logger,
	}
	return oauth2.NewClient(ctx, src), nil
}

func (a *Auth) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: a.timeout})
}

func (a *Auth) load() (*oauth2.Token, error) {
	data, err := a.tokens.GetKV(tokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &tok, nil
}

func (a *Auth) save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := a.tokens.SetKV(tokenKey, data, 0); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// savingSource persists refreshed tokens
type savingSource struct {
	base oauth2.TokenSource
	mu   sync.Mutex
	last string
	save func(*oauth2.Token) error
	log  *zap.Logger
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.save(tok); err != nil {
			s.log.Warn("Failed to persist refreshed token", zap.Error(err))
		}
	}
	return tok, nil
}
