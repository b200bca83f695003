package store

import (
	"context"
	"time"

	"github.com/gmsas95/medminder/internal/adherence"
	"gorm.io/gorm"
)

// TakeDose logs a dose of a medicine and decrements its remaining count
// when one is tracked. The count never goes below zero.
func (s *Store) TakeDose(ctx context.Context, medicineID uint, at time.Time) (*Medicine, *DoseEvent, error) {
	var (
		med   Medicine
		event DoseEvent
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&med, medicineID).Error; err != nil {
			return notFound(err, medicineID)
		}

		event = DoseEvent{MedicineID: medicineID, TakenAt: at.UTC()}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		if med.DosesRemaining != nil && *med.DosesRemaining > 0 {
			res := tx.Model(&Medicine{}).
				Where("id = ? AND doses_remaining > 0", medicineID).
				UpdateColumn("doses_remaining", gorm.Expr("doses_remaining - 1"))
			if res.Error != nil {
				return res.Error
			}
		}

		return tx.First(&med, medicineID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &med, &event, nil
}

// DoseEvents returns the doses taken in [from, to)
func (s *Store) DoseEvents(ctx context.Context, from, to time.Time) ([]DoseEvent, error) {
	var events []DoseEvent
	err := s.db.WithContext(ctx).
		Where("taken_at >= ? AND taken_at < ?", from.UTC(), to.UTC()).
		Order("taken_at ASC").Find(&events).Error
	return events, err
}

// AllDoseEvents returns the full dose log
func (s *Store) AllDoseEvents(ctx context.Context) ([]DoseEvent, error) {
	var events []DoseEvent
	err := s.db.WithContext(ctx).Order("taken_at ASC").Find(&events).Error
	return events, err
}

// CountDoseEvents counts the doses logged for a medicine
func (s *Store) CountDoseEvents(ctx context.Context, medicineID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&DoseEvent{}).Where("medicine_id = ?", medicineID).Count(&n).Error
	return n, err
}

// DoseCountsOn counts doses per medicine on the calendar day of day
func (s *Store) DoseCountsOn(ctx context.Context, day time.Time) (map[uint]int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	events, err := s.DoseEvents(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int)
	for _, e := range events {
		counts[e.MedicineID]++
	}
	return counts, nil
}

// DoseTimes returns the timestamps of every dose, in loc
func DoseTimes(events []DoseEvent, loc *time.Location) []time.Time {
	out := make([]time.Time, len(events))
	for i, e := range events {
		out[i] = e.TakenAt.In(loc)
	}
	return out
}

// Doses converts events for the adherence rate calculation
func Doses(events []DoseEvent) []adherence.Dose {
	out := make([]adherence.Dose, len(events))
	for i, e := range events {
		out[i] = adherence.Dose{MedicineID: e.MedicineID, TakenAt: e.TakenAt}
	}
	return out
}
