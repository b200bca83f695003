package api

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/tracker"
	"github.com/gofiber/fiber/v2"
)

// slot is one time/day row of the medicine form
type slot struct {
	Time string
	Day  string
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	overview, err := s.deps.Tracker.Today(c.UserContext())
	if err != nil {
		return err
	}
	return s.render(c, "index", "Today", "today", fiber.Map{"Overview": overview})
}

func (s *Server) handleMedicines(c *fiber.Ctx) error {
	meds, err := s.deps.Tracker.Store().ListMedicines(c.UserContext())
	if err != nil {
		return err
	}
	return s.render(c, "medicines", "Medicines", "medicines", fiber.Map{
		"Medicines": meds,
		"Now":       s.deps.Tracker.Now(),
		"Threshold": s.config.Notifications.LowStockThreshold,
	})
}

// formValues returns every value posted under key, for urlencoded and
// multipart bodies alike
func formValues(c *fiber.Ctx, key string) []string {
	var out []string
	for _, v := range c.Request().PostArgs().PeekMulti(key) {
		out = append(out, string(v))
	}
	if len(out) == 0 {
		if form, err := c.MultipartForm(); err == nil {
			out = form.Value[key]
		}
	}
	return out
}

// medicineInput reads the add/edit form
func medicineInput(c *fiber.Ctx) tracker.MedicineInput {
	return tracker.MedicineInput{
		Name:           c.FormValue("name"),
		Barcode:        c.FormValue("barcode"),
		Dosage:         c.FormValue("dosage"),
		Notes:          c.FormValue("notes"),
		ExpiryDate:     c.FormValue("expiry_date"),
		DosesRemaining: c.FormValue("doses_remaining"),
		Times:          formValues(c, "time[]"),
		Days:           formValues(c, "day[]"),
	}
}

func slotsOf(in tracker.MedicineInput) []slot {
	var slots []slot
	for i, t := range in.Times {
		day := "-1"
		if i < len(in.Days) && in.Days[i] != "" {
			day = in.Days[i]
		}
		slots = append(slots, slot{Time: t, Day: day})
	}
	if len(slots) == 0 {
		slots = append(slots, slot{Day: "-1"})
	}
	return slots
}

func (s *Server) renderForm(c *fiber.Ctx, title, action string, editing bool, in tracker.MedicineInput) error {
	return s.render(c, "medicine_form", title, "medicines", fiber.Map{
		"Action":  action,
		"Editing": editing,
		"Input":   in,
		"Slots":   slotsOf(in),
		"Days":    schedule.FormDays(),
	})
}

func (s *Server) handleAddForm(c *fiber.Ctx) error {
	in := tracker.MedicineInput{Barcode: c.Query("barcode")}
	if scanned := s.sessionValue(c, barcodeKey); scanned != "" {
		in.Barcode = scanned
	}
	return s.renderForm(c, "Add medicine", "/medicine/add", false, in)
}

func (s *Server) handleAdd(c *fiber.Ctx) error {
	if _, err := s.deps.Tracker.AddMedicine(c.UserContext(), medicineInput(c)); err != nil {
		if apperrors.IsValidation(err) {
			return s.redirect(c, "/medicine/add", FlashDanger, userMessage(err))
		}
		return err
	}
	return s.redirect(c, "/medicines", FlashSuccess, "Medicine added successfully")
}

func (s *Server) handleEditForm(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.ErrBadRequest
	}
	med, err := s.deps.Tracker.Store().GetMedicine(c.UserContext(), uint(id))
	if err != nil {
		if isNotFound(err) {
			return s.redirect(c, "/medicines", FlashDanger, "Medicine not found")
		}
		return err
	}
	return s.renderForm(c, "Edit "+med.Name, fmt.Sprintf("/medicine/edit/%d", med.ID), true, tracker.InputFrom(med))
}

func (s *Server) handleEdit(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.ErrBadRequest
	}
	_, err = s.deps.Tracker.UpdateMedicine(c.UserContext(), uint(id), medicineInput(c))
	switch {
	case err == nil:
		return s.redirect(c, "/medicines", FlashSuccess, "Medicine updated successfully")
	case isNotFound(err):
		return s.redirect(c, "/medicines", FlashDanger, "Medicine not found")
	case apperrors.IsValidation(err):
		return s.redirect(c, fmt.Sprintf("/medicine/edit/%d", id), FlashDanger, userMessage(err))
	}
	return err
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.ErrBadRequest
	}
	if err := s.deps.Tracker.DeleteMedicine(c.UserContext(), uint(id)); err != nil {
		if isNotFound(err) {
			return s.redirect(c, "/medicines", FlashDanger, "Medicine not found")
		}
		return err
	}
	return s.redirect(c, "/medicines", FlashSuccess, "Medicine deleted successfully")
}

func (s *Server) handleTake(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.ErrBadRequest
	}
	med, err := s.deps.Tracker.Take(c.UserContext(), uint(id))
	if err != nil {
		if isNotFound(err) {
			return s.redirect(c, "/", FlashDanger, "Medicine not found")
		}
		return err
	}
	return s.redirect(c, "/", FlashSuccess, fmt.Sprintf("Marked %s as taken", med.Name))
}

func (s *Server) handleSchedule(c *fiber.Ctx) error {
	now := s.deps.Tracker.Now()
	selected := now
	if q := strings.TrimSpace(c.Query("date")); q != "" {
		d, err := schedule.ParseDate(q, now.Location())
		if err != nil {
			s.flash(c, FlashWarning, "Invalid date, showing today")
		} else {
			selected = d
		}
	}

	week := schedule.WeekAround(selected)
	plan, err := s.deps.Tracker.DayPlan(c.UserContext(), week.Selected)
	if err != nil {
		return err
	}
	return s.render(c, "schedule", "Schedule", "schedule", fiber.Map{
		"Week":  week,
		"Plan":  plan,
		"Today": schedule.Day(now),
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrMedicineNotFound) || errors.Is(err, apperrors.ErrNotFound)
}

// parseID reads a numeric form field
func parseID(c *fiber.Ctx, key string) (uint, bool) {
	var id uint
	if _, err := fmt.Sscan(strings.TrimSpace(c.FormValue(key)), &id); err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
