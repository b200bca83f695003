package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Medicine is a registered medicine with its reminder schedules
type Medicine struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Name           string     `json:"name" gorm:"not null;index"`
	Barcode        string     `json:"barcode,omitempty" gorm:"index"`
	Dosage         string     `json:"dosage"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty" gorm:"type:date"`
	DosesRemaining *int       `json:"doses_remaining,omitempty"`
	Notes          string     `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Schedules      []Schedule `json:"schedules,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// Schedule is one reminder time of a medicine
type Schedule struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	MedicineID      uint       `json:"medicine_id" gorm:"not null;index"`
	TimeOfDay       string     `json:"time_of_day" gorm:"size:5;not null"`
	Repeat          string     `json:"repeat" gorm:"size:10;not null;default:daily"`
	Weekday         *int       `json:"weekday,omitempty"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DoseEvent records that a dose was taken. Rows are only ever appended.
type DoseEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	MedicineID uint      `json:"medicine_id" gorm:"not null;index"`
	TakenAt    time.Time `json:"taken_at" gorm:"not null;index"`
}

// Setting is a JSON value stored under a key
type Setting struct {
	Key       string         `json:"key" gorm:"primaryKey;size:64"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SyncLog records the outcome of a cloud sync run
type SyncLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Operation string    `json:"operation" gorm:"index;size:32"`
	Status    string    `json:"status" gorm:"size:16"`
	Details   string    `json:"details,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// NewSchedule builds a schedule row from a clock and recurrence
func NewSchedule(clock schedule.Clock, rec schedule.Recurrence) Schedule {
	return Schedule{
		TimeOfDay: clock.String(),
		Repeat:    string(rec.Kind()),
		Weekday:   rec.PersistedWeekday(),
	}
}

// Clock parses TimeOfDay
func (s Schedule) Clock() (schedule.Clock, error) {
	return schedule.ParseClock(s.TimeOfDay)
}

// Recurrence parses Repeat and Weekday
func (s Schedule) Recurrence() (schedule.Recurrence, error) {
	return schedule.ParseRecurrence(s.Repeat, s.Weekday)
}

// Rule converts the row into a due rule
func (s Schedule) Rule() (schedule.Rule, error) {
	c, err := s.Clock()
	if err != nil {
		return schedule.Rule{}, fmt.Errorf("schedule %d: %w", s.ID, err)
	}
	r, err := s.Recurrence()
	if err != nil {
		return schedule.Rule{}, fmt.Errorf("schedule %d: %w", s.ID, err)
	}
	return schedule.Rule{
		MedicineID: s.MedicineID,
		ScheduleID: s.ID,
		Clock:      c,
		Recurrence: r,
		Since:      s.CreatedAt,
	}, nil
}

// sameSlot reports whether two rows describe the same due time
func (s Schedule) sameSlot(o Schedule) bool {
	if s.TimeOfDay != o.TimeOfDay || s.Repeat != o.Repeat {
		return false
	}
	if s.Weekday == nil || o.Weekday == nil {
		return s.Weekday == nil && o.Weekday == nil
	}
	return *s.Weekday == *o.Weekday
}

// Describe renders "08:00 (Every day)"
func (s Schedule) Describe() string {
	r, err := s.Recurrence()
	if err != nil {
		return s.TimeOfDay
	}
	return fmt.Sprintf("%s (%s)", s.TimeOfDay, r)
}

func (m *Medicine) BeforeSave(tx *gorm.DB) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return apperrors.ErrNameRequired
	}
	if m.DosesRemaining != nil && *m.DosesRemaining < 0 {
		return apperrors.ErrInvalidQuantity
	}
	return nil
}

func (s *Schedule) BeforeSave(tx *gorm.DB) error {
	c, err := s.Clock()
	if err != nil {
		return err
	}
	if _, err := s.Recurrence(); err != nil {
		return err
	}
	s.TimeOfDay = c.String()
	if s.Repeat == "" {
		s.Repeat = string(schedule.KindDaily)
	}
	return nil
}

// Rules converts every schedule of the medicine, skipping malformed rows
func (m Medicine) Rules() []schedule.Rule {
	rules := make([]schedule.Rule, 0, len(m.Schedules))
	for _, s := range m.Schedules {
		if r, err := s.Rule(); err == nil {
			rules = append(rules, r)
		}
	}
	return rules
}

// Entry converts the medicine into planning input
func (m Medicine) Entry() schedule.Entry {
	return schedule.Entry{
		MedicineID:     m.ID,
		Name:           m.Name,
		Dosage:         m.Dosage,
		DosesRemaining: m.DosesRemaining,
		ExpiryDate:     m.ExpiryDate,
		Rules:          m.Rules(),
	}
}

// Expired reports whether the expiry date lies before the day of now
func (m Medicine) Expired(now time.Time) bool {
	if m.ExpiryDate == nil {
		return false
	}
	return schedule.DateIn(*m.ExpiryDate, now.Location()).Before(schedule.Day(now))
}

// LowStock reports whether a tracked count is at or under threshold
func (m Medicine) LowStock(threshold int) bool {
	return m.DosesRemaining != nil && *m.DosesRemaining <= threshold
}

func ToJSON(v interface{}) datatypes.JSON {
	data, _ := json.Marshal(v)
	return datatypes.JSON(data)
}
