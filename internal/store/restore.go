package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dataset is every relational row of the app
type Dataset struct {
	Medicines  []Medicine
	DoseEvents []DoseEvent
	Settings   []Setting
}

// Snapshot reads the whole dataset
func (s *Store) Snapshot(ctx context.Context) (*Dataset, error) {
	meds, err := s.ListMedicines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list medicines: %w", err)
	}
	events, err := s.AllDoseEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dose events: %w", err)
	}
	settings, err := s.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return &Dataset{Medicines: meds, DoseEvents: events, Settings: settings}, nil
}

// Restore replaces every relational row with ds in one transaction. IDs
// are kept so dose events still point at their medicines.
func (s *Store) Restore(ctx context.Context, ds *Dataset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&DoseEvent{}, &Schedule{}, &Medicine{}, &Setting{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", model, err)
			}
		}

		if len(ds.Medicines) > 0 {
			if err := tx.Omit(clause.Associations).Create(&ds.Medicines).Error; err != nil {
				return fmt.Errorf("failed to restore medicines: %w", err)
			}
			var schedules []Schedule
			for _, m := range ds.Medicines {
				for _, sc := range m.Schedules {
					sc.MedicineID = m.ID
					schedules = append(schedules, sc)
				}
			}
			if len(schedules) > 0 {
				if err := tx.Create(&schedules).Error; err != nil {
					return fmt.Errorf("failed to restore schedules: %w", err)
				}
			}
		}
		if len(ds.DoseEvents) > 0 {
			if err := tx.Create(&ds.DoseEvents).Error; err != nil {
				return fmt.Errorf("failed to restore dose events: %w", err)
			}
		}
		if len(ds.Settings) > 0 {
			if err := tx.Create(&ds.Settings).Error; err != nil {
				return fmt.Errorf("failed to restore settings: %w", err)
			}
		}

		if tx.Dialector.Name() == "postgres" {
			return resetSequences(tx, "medicines", "schedules", "dose_events")
		}
		return nil
	})
}

// resetSequences moves serial counters past the restored IDs
func resetSequences(tx *gorm.DB, tables ...string) error {
	for _, t := range tables {
		q := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %s", t, t)
		if err := tx.Exec(q).Error; err != nil {
			return fmt.Errorf("failed to reset %s sequence: %w", t, err)
		}
	}
	return nil
}
