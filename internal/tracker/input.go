package tracker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/security"
	"github.com/gmsas95/medminder/internal/store"
)

// MedicineInput is the add/edit medicine form. Times and Days are parallel
// lists; a missing day means every day and an empty time row is skipped.
type MedicineInput struct {
	Name           string   `json:"name" form:"name"`
	Barcode        string   `json:"barcode" form:"barcode"`
	Dosage         string   `json:"dosage" form:"dosage"`
	Notes          string   `json:"notes" form:"notes"`
	ExpiryDate     string   `json:"expiry_date" form:"expiry_date"`
	DosesRemaining string   `json:"doses_remaining" form:"doses_remaining"`
	Times          []string `json:"times" form:"time[]"`
	Days           []string `json:"days" form:"day[]"`
}

// Medicine validates the input and builds the row with its schedules
func (in MedicineInput) Medicine() (*store.Medicine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.ErrNameRequired
	}

	fields := []struct {
		label, value string
		max          int
		multiline    bool
	}{
		{"Medicine name", name, security.MaxNameLen, false},
		{"Barcode", in.Barcode, security.MaxBarcodeLen, false},
		{"Dosage", in.Dosage, security.MaxDosageLen, false},
		{"Notes", in.Notes, security.MaxNotesLen, true},
	}
	for _, f := range fields {
		if err := security.ValidateField(f.label, strings.TrimSpace(f.value), f.max, f.multiline); err != nil {
			return nil, err
		}
	}

	med := &store.Medicine{
		Name:    name,
		Barcode: strings.TrimSpace(in.Barcode),
		Dosage:  strings.TrimSpace(in.Dosage),
		Notes:   strings.TrimSpace(in.Notes),
	}

	if s := strings.TrimSpace(in.ExpiryDate); s != "" {
		d, err := schedule.ParseDate(s, time.UTC)
		if err != nil {
			return nil, err
		}
		med.ExpiryDate = &d
	}

	if s := strings.TrimSpace(in.DosesRemaining); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, apperrors.WithCause(apperrors.ErrInvalidQuantity, fmt.Errorf("%q", s))
		}
		med.DosesRemaining = &n
	}

	for i, t := range in.Times {
		if strings.TrimSpace(t) == "" {
			continue
		}
		clock, err := schedule.ParseClock(t)
		if err != nil {
			return nil, err
		}
		rec := schedule.Daily()
		if i < len(in.Days) && strings.TrimSpace(in.Days[i]) != "" {
			if rec, err = schedule.ParseFormDay(in.Days[i]); err != nil {
				return nil, err
			}
		}
		med.Schedules = append(med.Schedules, store.NewSchedule(clock, rec))
	}

	return med, nil
}

// InputFrom fills the edit form from a stored medicine
func InputFrom(med *store.Medicine) MedicineInput {
	in := MedicineInput{
		Name:    med.Name,
		Barcode: med.Barcode,
		Dosage:  med.Dosage,
		Notes:   med.Notes,
	}
	if med.ExpiryDate != nil {
		in.ExpiryDate = med.ExpiryDate.Format("2006-01-02")
	}
	if med.DosesRemaining != nil {
		in.DosesRemaining = strconv.Itoa(*med.DosesRemaining)
	}
	for _, s := range med.Schedules {
		rec, err := s.Recurrence()
		if err != nil {
			continue
		}
		in.Times = append(in.Times, s.TimeOfDay)
		in.Days = append(in.Days, strconv.Itoa(rec.FormDay()))
	}
	return in
}
