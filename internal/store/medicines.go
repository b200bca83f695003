package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func notFound(err error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.WithCause(apperrors.ErrMedicineNotFound, fmt.Errorf("id %d", id))
	}
	return err
}

func orderedSchedules(db *gorm.DB) *gorm.DB {
	return db.Order("time_of_day ASC, id ASC")
}

// CreateMedicine inserts a medicine together with its schedules
func (s *Store) CreateMedicine(ctx context.Context, med *Medicine) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(med).Error
	})
}

// UpdateMedicine saves the medicine fields and replaces its schedules with
// med.Schedules. Rows whose time and recurrence are unchanged keep their ID,
// last-fired marker and calendar event.
func (s *Store) UpdateMedicine(ctx context.Context, med *Medicine) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Medicine
		if err := tx.First(&existing, med.ID).Error; err != nil {
			return notFound(err, med.ID)
		}

		med.CreatedAt = existing.CreatedAt
		if err := tx.Omit(clause.Associations).Save(med).Error; err != nil {
			return err
		}

		return replaceSchedules(tx, med.ID, med.Schedules)
	})
}

// ReplaceSchedules swaps the schedules of a medicine
func (s *Store) ReplaceSchedules(ctx context.Context, medicineID uint, schedules []Schedule) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceSchedules(tx, medicineID, schedules)
	})
}

func replaceSchedules(tx *gorm.DB, medicineID uint, schedules []Schedule) error {
	var current []Schedule
	if err := tx.Where("medicine_id = ?", medicineID).Find(&current).Error; err != nil {
		return err
	}

	keep := make(map[uint]bool)
	var inserts []Schedule
	for i := range schedules {
		next := schedules[i]
		next.MedicineID = medicineID
		matched := false
		for _, cur := range current {
			if !keep[cur.ID] && cur.sameSlot(next) {
				keep[cur.ID] = true
				schedules[i] = cur
				matched = true
				break
			}
		}
		if !matched {
			next.ID = 0
			inserts = append(inserts, next)
		}
	}

	var drop []uint
	var since time.Time
	for _, cur := range current {
		if !keep[cur.ID] {
			drop = append(drop, cur.ID)
			if since.IsZero() || cur.CreatedAt.Before(since) {
				since = cur.CreatedAt
			}
		}
	}
	// Inserted rows take over the start of the rows they replace, so moving
	// a dose time does not drop the days already due.
	if !since.IsZero() {
		for i := range inserts {
			inserts[i].CreatedAt = since
		}
	}
	if len(drop) > 0 {
		if err := tx.Delete(&Schedule{}, drop).Error; err != nil {
			return err
		}
	}
	if len(inserts) > 0 {
		if err := tx.Create(&inserts).Error; err != nil {
			return err
		}
	}
	return nil
}

// DeleteMedicine removes a medicine and its schedules. Dose events stay.
func (s *Store) DeleteMedicine(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("medicine_id = ?", id).Delete(&Schedule{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Medicine{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound(gorm.ErrRecordNotFound, id)
		}
		return nil
	})
}

// GetMedicine retrieves a medicine with its schedules
func (s *Store) GetMedicine(ctx context.Context, id uint) (*Medicine, error) {
	var med Medicine
	err := s.db.WithContext(ctx).Preload("Schedules", orderedSchedules).First(&med, id).Error
	if err != nil {
		return nil, notFound(err, id)
	}
	return &med, nil
}

// GetMedicineByBarcode returns nil when no medicine carries the code
func (s *Store) GetMedicineByBarcode(ctx context.Context, barcode string) (*Medicine, error) {
	var med Medicine
	err := s.db.WithContext(ctx).Preload("Schedules", orderedSchedules).
		Where("barcode = ?", barcode).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

// FindMedicineByName matches case-insensitively
func (s *Store) FindMedicineByName(ctx context.Context, name string) (*Medicine, error) {
	var med Medicine
	err := s.db.WithContext(ctx).Preload("Schedules", orderedSchedules).Where("LOWER(name) = LOWER(?)", name).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.WithCause(apperrors.ErrMedicineNotFound, fmt.Errorf("name %q", name))
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

// ListMedicines returns all medicines ordered by name
func (s *Store) ListMedicines(ctx context.Context) ([]Medicine, error) {
	var meds []Medicine
	err := s.db.WithContext(ctx).Preload("Schedules", orderedSchedules).
		Order("name ASC, id ASC").Find(&meds).Error
	return meds, err
}

// CountMedicines returns the number of medicines
func (s *Store) CountMedicines(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Medicine{}).Count(&n).Error
	return n, err
}

// ExpiringMedicines returns medicines whose expiry date falls within the
// next days days, including today.
func (s *Store) ExpiringMedicines(ctx context.Context, now time.Time, days int) ([]Medicine, error) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, days)

	var meds []Medicine
	err := s.db.WithContext(ctx).
		Where("expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?", from, to).
		Order("expiry_date ASC, name ASC").Find(&meds).Error
	return meds, err
}

// LowStockMedicines returns medicines tracking a count at or under threshold
func (s *Store) LowStockMedicines(ctx context.Context, threshold int) ([]Medicine, error) {
	var meds []Medicine
	err := s.db.WithContext(ctx).
		Where("doses_remaining IS NOT NULL AND doses_remaining <= ?", threshold).
		Order("doses_remaining ASC, name ASC").Find(&meds).Error
	return meds, err
}

// ListSchedules returns every schedule row
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var scheds []Schedule
	err := orderedSchedules(s.db.WithContext(ctx)).Find(&scheds).Error
	return scheds, err
}

// CountSchedules counts the schedules of a medicine
func (s *Store) CountSchedules(ctx context.Context, medicineID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Schedule{}).Where("medicine_id = ?", medicineID).Count(&n).Error
	return n, err
}

// ClaimOccurrence marks a schedule as fired for the occurrence at. It
// returns false when that occurrence, or a later one, was already claimed.
func (s *Store) ClaimOccurrence(ctx context.Context, scheduleID uint, at time.Time) (bool, error) {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&Schedule{}).
		Where("id = ? AND (last_fired_at IS NULL OR last_fired_at < ?)", scheduleID, at).
		UpdateColumn("last_fired_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetCalendarEventID stores the Google Calendar event of a schedule
func (s *Store) SetCalendarEventID(ctx context.Context, scheduleID uint, eventID string) error {
	return s.db.WithContext(ctx).Model(&Schedule{}).
		Where("id = ?", scheduleID).
		UpdateColumn("calendar_event_id", eventID).Error
}
