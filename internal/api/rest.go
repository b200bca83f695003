package api

import (
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/tracker"
	"github.com/gofiber/fiber/v2"
)

func medicineID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("invalid medicine id")
	}
	return uint(id), nil
}

func (s *Server) apiListMedicines(c *fiber.Ctx) error {
	meds, err := s.deps.Tracker.Store().ListMedicines(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(meds)
}

func (s *Server) apiGetMedicine(c *fiber.Ctx) error {
	id, err := medicineID(c)
	if err != nil {
		return err
	}
	med, err := s.deps.Tracker.Store().GetMedicine(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(med)
}

func (s *Server) apiCreateMedicine(c *fiber.Ctx) error {
	var in tracker.MedicineInput
	if err := c.BodyParser(&in); err != nil {
		return apperrors.WithCause(apperrors.ErrBadRequest, err)
	}
	med, err := s.deps.Tracker.AddMedicine(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(med)
}

func (s *Server) apiUpdateMedicine(c *fiber.Ctx) error {
	id, err := medicineID(c)
	if err != nil {
		return err
	}
	var in tracker.MedicineInput
	if err := c.BodyParser(&in); err != nil {
		return apperrors.WithCause(apperrors.ErrBadRequest, err)
	}
	med, err := s.deps.Tracker.UpdateMedicine(c.UserContext(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(med)
}

func (s *Server) apiDeleteMedicine(c *fiber.Ctx) error {
	id, err := medicineID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Tracker.DeleteMedicine(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) apiTake(c *fiber.Ctx) error {
	id, err := medicineID(c)
	if err != nil {
		return err
	}
	med, err := s.deps.Tracker.Take(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(med)
}

func (s *Server) apiToday(c *fiber.Ctx) error {
	overview, err := s.deps.Tracker.Today(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(overview)
}

func (s *Server) apiStreak(c *fiber.Ctx) error {
	streak, err := s.deps.Tracker.Streak(c.UserContext())
	if err != nil {
		return err
	}
	rate, err := s.deps.Tracker.Rate(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"current":        streak.Current,
		"longest":        streak.Longest,
		"today_due":      streak.TodayDue,
		"today_kept":     streak.TodayKept,
		"adherence_rate": rate,
	})
}
