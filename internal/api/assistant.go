package api

import (
	"io"
	"net/http"

	"github.com/gmsas95/medminder/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Server) handleAssistant(c *fiber.Ctx) error {
	meds, err := s.deps.Tracker.Store().ListMedicines(c.UserContext())
	if err != nil {
		return err
	}
	return s.render(c, "assistant", "Assistant", "assistant", fiber.Map{
		"Medicines":  meds,
		"Configured": s.deps.Assistant.IsConfigured(),
	})
}

func fail(c *fiber.Ctx, msg string) error {
	return c.JSON(fiber.Map{"success": false, "error": msg})
}

// selectedMedicine loads the medicine named by the medicine_id field. It
// writes the failure response itself and returns nil when there is none.
func (s *Server) selectedMedicine(c *fiber.Ctx) (*store.Medicine, error) {
	if !s.deps.Assistant.IsConfigured() {
		return nil, fail(c, "AI assistant is not configured")
	}
	id, ok := parseID(c, "medicine_id")
	if !ok {
		return nil, fail(c, "No medicine selected")
	}
	med, err := s.deps.Tracker.Store().GetMedicine(c.UserContext(), id)
	if err != nil {
		if isNotFound(err) {
			return nil, fail(c, "Medicine not found")
		}
		return nil, err
	}
	return med, nil
}

// assistantError logs a failed call and answers with a generic message
func (s *Server) assistantError(c *fiber.Ctx, op string, err error) error {
	s.logger.Warn("Assistant request failed", zap.String("operation", op), zap.Error(err))
	_, msg := statusOf(err)
	return fail(c, msg)
}

func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	med, err := s.selectedMedicine(c)
	if med == nil {
		return err
	}
	analysis, err := s.deps.Assistant.Analyze(c.UserContext(), med.Name, med.Dosage, med.Notes)
	if err != nil {
		return s.assistantError(c, "analyze", err)
	}
	return c.JSON(fiber.Map{"success": true, "analysis": analysis})
}

func (s *Server) handleFoodInteractions(c *fiber.Ctx) error {
	med, err := s.selectedMedicine(c)
	if med == nil {
		return err
	}
	interactions, err := s.deps.Assistant.FoodInteractions(c.UserContext(), med.Name)
	if err != nil {
		return s.assistantError(c, "food_interactions", err)
	}
	return c.JSON(fiber.Map{"success": true, "interactions": interactions})
}

func (s *Server) handleAlternatives(c *fiber.Ctx) error {
	med, err := s.selectedMedicine(c)
	if med == nil {
		return err
	}
	alts, err := s.deps.Assistant.Alternatives(c.UserContext(), med.Name, c.FormValue("reason"))
	if err != nil {
		return s.assistantError(c, "alternatives", err)
	}
	return c.JSON(fiber.Map{"success": true, "alternatives": alts})
}

func (s *Server) handleIdentify(c *fiber.Ctx) error {
	if !s.deps.Assistant.IsConfigured() {
		return fail(c, "AI assistant is not configured")
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return fail(c, "No image uploaded")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	mime := fh.Header.Get(fiber.HeaderContentType)
	if mime == "" || mime == fiber.MIMEOctetStream {
		mime = http.DetectContentType(data)
	}
	id, err := s.deps.Assistant.IdentifyImage(c.UserContext(), data, mime)
	if err != nil {
		return s.assistantError(c, "identify", err)
	}
	return c.JSON(fiber.Map{"success": true, "identification": id})
}
