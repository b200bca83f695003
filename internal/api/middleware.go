package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 7 * 24 * time.Hour

// metricsMiddleware records every request under its route pattern
func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status, _ = statusOf(err)
		}
		s.deps.Metrics.RecordRequest(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}

// authMiddleware requires a bearer token once an admin password is set
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.config.Security.AdminPassword == "" {
			return c.Next()
		}

		auth := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(auth, "Bearer ") {
			return apperrors.WithCause(apperrors.ErrUnauthorized, errors.New("missing authorization header"))
		}

		tokenString := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return apperrors.WithCause(apperrors.ErrUnauthorized, errors.New("invalid token"))
		}

		return c.Next()
	}
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password" form:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.WithCause(apperrors.ErrBadRequest, err)
	}

	want := s.config.Security.AdminPassword
	if want != "" && subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 {
		return apperrors.ErrUnauthorized
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"token": signed, "expires_at": now.Add(tokenTTL).Unix()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status, code := "healthy", http.StatusOK
	if err := s.deps.Tracker.Store().Ping(c.UserContext()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   s.deps.Version,
		"timestamp": time.Now().Unix(),
	})
}
