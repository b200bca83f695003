package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gmsas95/medminder/internal/assistant"
	"github.com/gmsas95/medminder/internal/cloud"
	"github.com/gmsas95/medminder/internal/config"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/pharmacy"
	"github.com/gmsas95/medminder/internal/scanner"
	"github.com/gmsas95/medminder/internal/tracker"
	"github.com/gmsas95/medminder/internal/web"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"go.uber.org/zap"
)

// Pharmacies is the pharmacy search used by the pharmacy pages
type Pharmacies interface {
	Nearby(ctx context.Context, lat, lon float64, radius int) ([]pharmacy.Pharmacy, error)
	SearchByAddress(ctx context.Context, address string, radius int) (*pharmacy.Coordinates, []pharmacy.Pharmacy, error)
}

// Advisor answers the assistant page
type Advisor interface {
	IsConfigured() bool
	Analyze(ctx context.Context, name, dosage, notes string) (*assistant.Analysis, error)
	FoodInteractions(ctx context.Context, name string) ([]assistant.FoodInteraction, error)
	Alternatives(ctx context.Context, name, reason string) (*assistant.Alternatives, error)
	IdentifyImage(ctx context.Context, image []byte, mimeType string) (*assistant.Identification, error)
}

// Notifier delivers a notification on every enabled channel
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) notify.Report
	Channels() map[string]bool
}

// Deps are the components the server calls into
type Deps struct {
	Tracker   *tracker.Tracker
	Scanner   *scanner.Scanner
	Pharmacy  Pharmacies
	Assistant Advisor
	Cloud     *cloud.Service
	Notifier  Notifier
	Hub       *notify.Hub
	Metrics   *metrics.Metrics
	Version   string
}

// Server serves the web pages, the JSON API and the push socket
type Server struct {
	app      *fiber.App
	config   *config.Config
	deps     Deps
	sessions *session.Store
	logger   *zap.Logger
}

// New builds the server and registers every route
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	engine := html.NewFileSystem(web.Templates(), ".html")
	engine.AddFuncMap(templateFuncs())

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		sessions: session.New(session.Config{
			Expiration:     24 * time.Hour,
			Storage:        deps.Tracker.Store().Sessions(),
			KeyLookup:      "cookie:medminder_session",
			CookieHTTPOnly: true,
			CookieSameSite: "Lax",
		}),
	}

	s.app = fiber.New(fiber.Config{
		Views:                 engine,
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             (cfg.Scanner.MaxUploadMB + 1) * 1024 * 1024,
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
	})

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.config.Addr()))
	return s.app.Listen(s.config.Addr())
}

// Shutdown stops accepting connections and waits for open requests
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.app.ShutdownWithContext(ctx)
}

// statusOf maps an error to an HTTP status and a message fit for users
func statusOf(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case apperrors.IsValidation(err), errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, userMessage(err)
	case errors.Is(err, apperrors.ErrMedicineNotFound),
		errors.Is(err, apperrors.ErrScheduleNotFound),
		errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, userMessage(err)
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, userMessage(err)
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, userMessage(err)
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests, please try again later"
	case errors.Is(err, apperrors.ErrExternalNotConfigured):
		return http.StatusServiceUnavailable, userMessage(err)
	case apperrors.IsExternal(err):
		return http.StatusBadGateway, "The service is unavailable, please try again later"
	}
	return http.StatusInternalServerError, "Something went wrong"
}

// userMessage is the message of the AppError inside err, capitalized
func userMessage(err error) string {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Message == "" {
		return "Something went wrong"
	}
	return strings.ToUpper(appErr.Message[:1]) + appErr.Message[1:]
}

func wantsJSON(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Path(), "/api/") || c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	c.Status(code)
	if wantsJSON(c) {
		return c.JSON(fiber.Map{"error": msg})
	}
	if rerr := s.render(c, "error", fmt.Sprint(code), "", fiber.Map{"Status": code, "Message": msg}); rerr != nil {
		return c.SendString(msg)
	}
	return nil
}
