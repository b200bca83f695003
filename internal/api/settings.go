package api

import (
	"errors"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/secrets"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Server) handleSettings(c *fiber.Ctx) error {
	ctx := c.UserContext()
	st := s.deps.Tracker.Store()

	email, err := st.EmailSettings(ctx)
	if err != nil {
		return err
	}
	chats, err := st.TelegramChats(ctx)
	if err != nil {
		return err
	}
	toggles, err := st.SyncSettings(ctx)
	if err != nil {
		return err
	}
	status, err := s.deps.Cloud.Status(ctx)
	if err != nil {
		return err
	}

	return s.render(c, "settings", "Settings", "settings", fiber.Map{
		"Email":         email,
		"PasswordSet":   secrets.Resolve(secrets.SMTPPassword, s.config.Notifications.Email.Password) != "",
		"TelegramChats": chats,
		"Channels":      s.deps.Notifier.Channels(),
		"Sync":          toggles,
		"Cloud":         status,
	})
}

func validAddress(addr string) bool {
	if addr == "" {
		return true
	}
	_, err := mail.ParseAddress(addr)
	return err == nil
}

func (s *Server) handleEmailSettings(c *fiber.Ctx) error {
	saved := store.EmailSettings{
		Sender:    strings.TrimSpace(c.FormValue("sender")),
		Recipient: strings.TrimSpace(c.FormValue("recipient")),
	}
	if !validAddress(saved.Sender) || !validAddress(saved.Recipient) {
		return s.redirect(c, "/settings", FlashDanger, "Invalid email address")
	}
	if err := s.deps.Tracker.Store().SaveSetting(c.UserContext(), store.SettingEmail, saved); err != nil {
		return err
	}

	if password := c.FormValue("password"); password != "" {
		if err := secrets.Set(secrets.SMTPPassword, password); err != nil {
			s.logger.Warn("Failed to store SMTP password", zap.Error(err))
			s.flash(c, FlashWarning, "The password could not be saved to the system keyring")
		}
	}
	return s.redirect(c, "/settings", FlashSuccess, "Email settings saved successfully")
}

func (s *Server) handleAddTelegramChat(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.FormValue("chat_id"))
	if raw == "" {
		return s.redirect(c, "/settings", FlashDanger, "Telegram chat ID is required")
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return s.redirect(c, "/settings", FlashDanger, "Telegram chat ID must be a number")
	}

	added, err := s.deps.Tracker.Store().AddTelegramChat(c.UserContext(), chatID)
	if err != nil {
		return err
	}
	if !added {
		return s.redirect(c, "/settings", FlashInfo, "Telegram chat is already registered")
	}
	return s.redirect(c, "/settings", FlashSuccess, "Telegram chat added successfully")
}

func (s *Server) handleRemoveTelegramChat(c *fiber.Ctx) error {
	chatID, err := strconv.ParseInt(c.Params("chat"), 10, 64)
	if err != nil {
		return fiber.ErrBadRequest
	}
	if err := s.deps.Tracker.Store().RemoveTelegramChat(c.UserContext(), chatID); err != nil {
		return err
	}
	return s.redirect(c, "/settings", FlashSuccess, "Telegram chat removed successfully")
}

// checked reports whether an HTML checkbox was posted
func checked(c *fiber.Ctx, name string) bool {
	switch strings.ToLower(c.FormValue(name)) {
	case "", "0", "false", "off":
		return false
	}
	return true
}

func (s *Server) handleGoogleSettings(c *fiber.Ctx) error {
	toggles := store.SyncSettings{
		Drive:    checked(c, "sync_drive"),
		Calendar: checked(c, "sync_calendar"),
		Sheets:   checked(c, "sync_sheets"),
	}
	if err := s.deps.Tracker.Store().SaveSetting(c.UserContext(), store.SettingSync, toggles); err != nil {
		return err
	}
	s.logger.Info("Sync settings saved",
		zap.Bool("drive", toggles.Drive),
		zap.Bool("calendar", toggles.Calendar),
		zap.Bool("sheets", toggles.Sheets),
	)
	return s.redirect(c, "/settings", FlashSuccess, "Google services settings saved successfully")
}

// handleTestNotification sends a test message on every enabled channel
func (s *Server) handleTestNotification(c *fiber.Ctx) error {
	report := s.deps.Notifier.Send(c.UserContext(), notify.Notification{
		Kind:  notify.KindTest,
		Title: "Medicine Reminder test",
		Body:  "Notifications are working.",
		At:    time.Now(),
	})

	if len(report.Delivered) == 0 && len(report.Failed) == 0 {
		return s.redirect(c, "/settings", FlashWarning, "No notification channels are enabled")
	}
	if !report.OK() {
		failed := make([]string, 0, len(report.Failed))
		for name, err := range report.Failed {
			failed = append(failed, name)
			s.logger.Warn("Test notification failed", zap.String("channel", name), zap.Error(err))
		}
		sort.Strings(failed)
		return s.redirect(c, "/settings", FlashWarning, "Test notification failed on: "+strings.Join(failed, ", "))
	}
	delivered := append([]string(nil), report.Delivered...)
	sort.Strings(delivered)
	return s.redirect(c, "/settings", FlashSuccess, "Test notification sent via "+strings.Join(delivered, ", "))
}

// syncFlash turns a sync outcome into a flash
func (s *Server) syncFlash(c *fiber.Ctx, err error, success string) error {
	switch {
	case err == nil:
		return s.redirect(c, "/settings", FlashSuccess, success)
	case errors.Is(err, apperrors.ErrNotFound):
		return s.redirect(c, "/settings", FlashWarning, "No backup found in Google Drive")
	case errors.Is(err, apperrors.ErrExternalAuth):
		return s.redirect(c, "/settings", FlashDanger, "Google account is not connected")
	}
	_, msg := statusOf(err)
	return s.redirect(c, "/settings", FlashDanger, "Sync failed: "+msg)
}

func (s *Server) handleDriveUpload(c *fiber.Ctx) error {
	return s.syncFlash(c, s.deps.Cloud.UploadDrive(c.UserContext()), "Backup uploaded to Google Drive")
}

func (s *Server) handleDriveDownload(c *fiber.Ctx) error {
	return s.syncFlash(c, s.deps.Cloud.DownloadDrive(c.UserContext()), "Data restored from Google Drive")
}

func (s *Server) handleSheetsExport(c *fiber.Ctx) error {
	return s.syncFlash(c, s.deps.Cloud.SyncSheets(c.UserContext()), "Data exported to Google Sheets")
}

func (s *Server) handleSheetsImport(c *fiber.Ctx) error {
	err := s.deps.Cloud.ImportSheets(c.UserContext())
	if errors.Is(err, apperrors.ErrNotFound) {
		return s.redirect(c, "/settings", FlashWarning, "No spreadsheet to import from. Export to Google Sheets first.")
	}
	return s.syncFlash(c, err, "Medicines imported from Google Sheets")
}
