package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Flash categories, matching the page's alert styles
const (
	FlashSuccess = "success"
	FlashDanger  = "danger"
	FlashInfo    = "info"
	FlashWarning = "warning"
)

const (
	flashKey   = "flashes"
	barcodeKey = "scanned_barcode"
	stateKey   = "oauth_state"
)

// Flash is a one-shot message shown on the next rendered page
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// flash queues a message for the next page
func (s *Server) flash(c *fiber.Ctx, category, message string) {
	sess, err := s.sessions.Get(c)
	if err != nil {
		s.logger.Warn("Failed to load session", zap.Error(err))
		return
	}
	var list []Flash
	if raw, ok := sess.Get(flashKey).(string); ok {
		_ = json.Unmarshal([]byte(raw), &list)
	}
	list = append(list, Flash{Category: category, Message: message})
	data, _ := json.Marshal(list)
	sess.Set(flashKey, string(data))
	if err := sess.Save(); err != nil {
		s.logger.Warn("Failed to save session", zap.Error(err))
	}
}

// takeFlashes returns and clears the queued messages
func (s *Server) takeFlashes(c *fiber.Ctx) []Flash {
	sess, err := s.sessions.Get(c)
	if err != nil {
		return nil
	}
	raw, ok := sess.Get(flashKey).(string)
	if !ok {
		return nil
	}
	var list []Flash
	_ = json.Unmarshal([]byte(raw), &list)
	sess.Delete(flashKey)
	if err := sess.Save(); err != nil {
		s.logger.Warn("Failed to save session", zap.Error(err))
	}
	return list
}

// sessionValue reads and removes a string stored in the session
func (s *Server) sessionValue(c *fiber.Ctx, key string) string {
	sess, err := s.sessions.Get(c)
	if err != nil {
		return ""
	}
	v, _ := sess.Get(key).(string)
	if v != "" {
		sess.Delete(key)
		_ = sess.Save()
	}
	return v
}

func (s *Server) setSessionValue(c *fiber.Ctx, key, value string) error {
	sess, err := s.sessions.Get(c)
	if err != nil {
		return err
	}
	sess.Set(key, value)
	return sess.Save()
}

// redirect flashes message and sends the browser to path
func (s *Server) redirect(c *fiber.Ctx, path, category, message string) error {
	if message != "" {
		s.flash(c, category, message)
	}
	return c.Redirect(path, fiber.StatusFound)
}

// render executes page inside the base layout
func (s *Server) render(c *fiber.Ctx, page, title, active string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	theme := s.config.UI.Theme
	if theme == "" {
		theme = "light"
	}
	data["Title"] = title
	data["Active"] = active
	data["Theme"] = theme
	data["Flashes"] = s.takeFlashes(c)
	return c.Render(page, data, "layouts/base")
}

func templateFuncs() map[string]interface{} {
	return map[string]interface{}{
		"date": func(t time.Time) string {
			return t.Format("Monday, January 2")
		},
		"datetime": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04")
		},
		"isodate": func(v interface{}) string {
			switch t := v.(type) {
			case time.Time:
				return t.Format("2006-01-02")
			case *time.Time:
				if t != nil {
					return t.Format("2006-01-02")
				}
			}
			return ""
		},
		"sameday": func(a, b time.Time) bool {
			return a.Year() == b.Year() && a.YearDay() == b.YearDay()
		},
		"deref": func(p *int) int {
			if p == nil {
				return 0
			}
			return *p
		},
		"percent": func(f float64) string {
			return fmt.Sprintf("%.0f%%", f)
		},
		"km": func(f float64) string {
			return fmt.Sprintf("%.1f km", f)
		},
		"str": func(v interface{}) string {
			return fmt.Sprint(v)
		},
	}
}
