package api

import (
	"strings"

	"github.com/gmsas95/medminder/internal/web"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Use("/static", filesystem.New(filesystem.Config{Root: web.Static()}))
	s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))

	// Pages
	s.app.Get("/", s.handleIndex)
	s.app.Get("/medicines", s.handleMedicines)
	s.app.Get("/medicine/add", s.handleAddForm)
	s.app.Post("/medicine/add", s.handleAdd)
	s.app.Get("/medicine/edit/:id<int>", s.handleEditForm)
	s.app.Post("/medicine/edit/:id<int>", s.handleEdit)
	s.app.Post("/medicine/delete/:id<int>", s.handleDelete)
	s.app.Post("/medicine/take/:id<int>", s.handleTake)
	s.app.Get("/schedule", s.handleSchedule)

	s.app.Get("/scan", s.handleScan)
	s.app.Post("/scan/process", s.handleScanProcess)
	s.app.Post("/scan/upload", s.handleScanUpload)

	s.app.Get("/pharmacy", s.handlePharmacy)
	s.app.Post("/pharmacy/search", s.handlePharmacySearch)
	s.app.Post("/pharmacy/nearby", s.handlePharmacyNearby)

	s.app.Get("/assistant", s.handleAssistant)
	s.app.Post("/assistant/analyze", s.handleAnalyze)
	s.app.Post("/assistant/food-interactions", s.handleFoodInteractions)
	s.app.Post("/assistant/alternatives", s.handleAlternatives)
	s.app.Post("/assistant/identify", s.handleIdentify)

	s.app.Get("/settings", s.handleSettings)
	s.app.Post("/settings/email", s.handleEmailSettings)
	s.app.Post("/settings/telegram", s.handleAddTelegramChat)
	s.app.Post("/settings/telegram/remove/:chat", s.handleRemoveTelegramChat)
	s.app.Post("/settings/google", s.handleGoogleSettings)
	s.app.Post("/settings/notify/test", s.handleTestNotification)

	// Google
	s.app.Get("/authenticate/google", s.handleGoogleAuth)
	s.app.Get("/oauth/callback", s.handleOAuthCallback)
	s.app.Post("/settings/google/disconnect", s.handleGoogleDisconnect)
	s.app.Post("/sync/drive/upload", s.handleDriveUpload)
	s.app.Post("/sync/drive/download", s.handleDriveDownload)
	s.app.Post("/sync/sheets", s.handleSheetsExport)
	s.app.Post("/sync/sheets/import", s.handleSheetsImport)

	// JSON API
	s.app.Get("/api/health", s.handleHealth)

	api := s.app.Group("/api")
	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())
	protected.Get("/medicines", s.apiListMedicines)
	protected.Post("/medicines", s.apiCreateMedicine)
	protected.Get("/medicines/:id<int>", s.apiGetMedicine)
	protected.Put("/medicines/:id<int>", s.apiUpdateMedicine)
	protected.Delete("/medicines/:id<int>", s.apiDeleteMedicine)
	protected.Post("/medicines/:id<int>/take", s.apiTake)
	protected.Get("/today", s.apiToday)
	protected.Get("/streak", s.apiStreak)

	// Push
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}
