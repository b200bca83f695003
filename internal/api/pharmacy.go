package api

import (
	"strconv"
	"strings"

	"github.com/gmsas95/medminder/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Server) handlePharmacy(c *fiber.Ctx) error {
	origin, err := s.deps.Tracker.Store().GetString(c.UserContext(), store.SettingPharmacyOrigin)
	if err != nil {
		s.logger.Warn("Failed to read last pharmacy search", zap.Error(err))
	}
	return s.render(c, "pharmacy", "Pharmacies", "pharmacy", fiber.Map{"Origin": origin})
}

func (s *Server) radius(c *fiber.Ctx) int {
	r, err := strconv.Atoi(strings.TrimSpace(c.FormValue("radius")))
	if err != nil || r <= 0 {
		return s.config.Pharmacy.SearchRadius
	}
	return r
}

func (s *Server) handlePharmacySearch(c *fiber.Ctx) error {
	location := strings.TrimSpace(c.FormValue("location"))
	if location == "" {
		return s.redirect(c, "/pharmacy", FlashDanger, "Location is required")
	}
	radius := s.radius(c)

	_, pharmacies, err := s.deps.Pharmacy.SearchByAddress(c.UserContext(), location, radius)
	if err != nil {
		s.logger.Warn("Pharmacy search failed", zap.String("location", location), zap.Error(err))
		_, msg := statusOf(err)
		return s.redirect(c, "/pharmacy", FlashDanger, "Error finding pharmacies: "+msg)
	}
	if err := s.deps.Tracker.Store().SaveSetting(c.UserContext(), store.SettingPharmacyOrigin, location); err != nil {
		s.logger.Warn("Failed to remember pharmacy search", zap.Error(err))
	}

	return s.render(c, "pharmacy_results", "Pharmacies", "pharmacy", fiber.Map{
		"Pharmacies": pharmacies,
		"Location":   location,
		"Radius":     radius,
		"RadiusKM":   float64(radius) / 1000,
	})
}

// handlePharmacyNearby answers the page's geolocation lookup
func (s *Server) handlePharmacyNearby(c *fiber.Ctx) error {
	lat, errLat := strconv.ParseFloat(c.FormValue("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.FormValue("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid coordinates"})
	}

	pharmacies, err := s.deps.Pharmacy.Nearby(c.UserContext(), lat, lon, s.radius(c))
	if err != nil {
		s.logger.Warn("Nearby pharmacy search failed", zap.Error(err))
		_, msg := statusOf(err)
		return c.JSON(fiber.Map{"success": false, "error": msg})
	}
	return c.JSON(fiber.Map{"success": true, "pharmacies": pharmacies})
}
