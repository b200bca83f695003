package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// signState binds a random nonce to the session secret
func (s *Server) signState(nonce string) string {
	mac := hmac.New(sha256.New, []byte(s.config.Security.SessionSecret))
	mac.Write([]byte(nonce))
	return nonce + "." + hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) validState(state, nonce string) bool {
	if nonce == "" || !strings.HasPrefix(state, nonce+".") {
		return false
	}
	return hmac.Equal([]byte(state), []byte(s.signState(nonce)))
}

func (s *Server) handleGoogleAuth(c *fiber.Ctx) error {
	auth := s.deps.Cloud.Auth()
	if !auth.Configured() {
		return s.redirect(c, "/settings", FlashDanger, "Google client credentials are not configured")
	}
	nonce := uuid.NewString()
	if err := s.setSessionValue(c, stateKey, nonce); err != nil {
		return err
	}
	return c.Redirect(auth.AuthURL(s.signState(nonce)), fiber.StatusFound)
}

func (s *Server) handleOAuthCallback(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		s.logger.Warn("Google authorization denied", zap.String("reason", reason))
		return s.redirect(c, "/settings", FlashDanger, "Google authorization was denied")
	}
	if !s.validState(c.Query("state"), s.sessionValue(c, stateKey)) {
		return s.redirect(c, "/settings", FlashDanger, "Invalid OAuth state, please try again")
	}

	if err := s.deps.Cloud.Auth().Exchange(c.UserContext(), c.Query("code")); err != nil {
		s.logger.Warn("Google token exchange failed", zap.Error(err))
		return s.redirect(c, "/settings", FlashDanger, "Google authentication failed")
	}
	return s.redirect(c, "/settings", FlashSuccess, "Google account connected successfully")
}

func (s *Server) handleGoogleDisconnect(c *fiber.Ctx) error {
	if err := s.deps.Cloud.Auth().Disconnect(); err != nil {
		return err
	}
	return s.redirect(c, "/settings", FlashSuccess, "Google account disconnected")
}
