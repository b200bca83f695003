package api

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/scanner"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Server) handleScan(c *fiber.Ctx) error {
	return s.render(c, "scan", "Scan", "scan", nil)
}

// handleScanProcess looks a barcode up and sends the user to the matching
// medicine, or to the add form with the barcode filled in
func (s *Server) handleScanProcess(c *fiber.Ctx) error {
	code := strings.TrimSpace(c.FormValue("barcode"))
	if code == "" {
		return s.redirect(c, "/scan", FlashDanger, "No barcode provided")
	}

	med, err := s.deps.Tracker.Store().GetMedicineByBarcode(c.UserContext(), code)
	if err != nil {
		return err
	}
	if med != nil {
		s.flash(c, FlashSuccess, "Found medicine: "+med.Name)
		return c.Redirect(fmt.Sprintf("/medicine/edit/%d", med.ID), fiber.StatusFound)
	}

	if err := s.setSessionValue(c, barcodeKey, code); err != nil {
		s.logger.Warn("Failed to remember scanned barcode", zap.Error(err))
	}
	return s.redirect(c, "/medicine/add", FlashInfo, "No medicine found with this barcode. Please add a new one.")
}

// handleScanUpload decodes a barcode from an uploaded photo
func (s *Server) handleScanUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return c.JSON(fiber.Map{"success": false, "error": "No image uploaded"})
	}
	if fh.Size > s.deps.Scanner.MaxBytes() {
		return c.JSON(fiber.Map{"success": false, "error": userMessage(scanner.ErrTooLarge)})
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := s.deps.Scanner.Decode(f)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return c.JSON(fiber.Map{"success": false, "error": userMessage(err)})
		}
		return err
	}
	return c.JSON(fiber.Map{"success": true, "barcode": res.Text, "type": res.Format})
}
