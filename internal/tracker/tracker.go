// Package tracker holds the medicine operations shared by the web pages,
// the REST API, the chat bots and the CLI.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/gmsas95/medminder/internal/adherence"
	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/store"
	"go.uber.org/zap"
)

// Tracker provides medicine management and adherence reads
type Tracker struct {
	store   *store.Store
	notify  config.NotificationsConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a tracker
func New(st *store.Store, cfg config.NotificationsConfig, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	if m == nil {
		m = metrics.Default()
	}
	return &Tracker{
		store:   st,
		notify:  cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Now returns the tracker's current time
func (t *Tracker) Now() time.Time {
	return t.now()
}

// Store exposes the underlying store
func (t *Tracker) Store() *store.Store {
	return t.store
}

// Overview is everything the home page shows
type Overview struct {
	Date      time.Time          `json:"date"`
	Plan      []schedule.Planned `json:"plan"`
	Streak    adherence.Streak   `json:"streak"`
	Rate      float64            `json:"adherence_rate"`
	Expiring  []store.Medicine   `json:"expiring"`
	LowStock  []store.Medicine   `json:"low_stock"`
	Medicines int64              `json:"medicines"`
}

// Today builds the overview for the current day
func (t *Tracker) Today(ctx context.Context) (*Overview, error) {
	now := t.now()

	meds, err := t.store.ListMedicines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list medicines: %w", err)
	}
	plan, err := t.planFor(ctx, now, meds)
	if err != nil {
		return nil, err
	}

	events, err := t.store.AllDoseEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dose log: %w", err)
	}
	rules := rulesOf(meds)

	expiring, err := t.store.ExpiringMedicines(ctx, now, t.notify.ExpiryWarningDays)
	if err != nil {
		return nil, err
	}
	low, err := t.store.LowStockMedicines(ctx, t.notify.LowStockThreshold)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Date:      schedule.Day(now),
		Plan:      plan,
		Streak:    t.streak(ctx, now, rules, events),
		Rate:      adherence.Rate(now, rules, store.Doses(events), adherence.DefaultWindow),
		Expiring:  expiring,
		LowStock:  low,
		Medicines: int64(len(meds)),
	}, nil
}

// DayPlan lists the medicines due on day with their taken badges
func (t *Tracker) DayPlan(ctx context.Context, day time.Time) ([]schedule.Planned, error) {
	meds, err := t.store.ListMedicines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list medicines: %w", err)
	}
	return t.planFor(ctx, day, meds)
}

func (t *Tracker) planFor(ctx context.Context, day time.Time, meds []store.Medicine) ([]schedule.Planned, error) {
	counts, err := t.store.DoseCountsOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to count doses: %w", err)
	}
	entries := make([]schedule.Entry, len(meds))
	for i, m := range meds {
		entries[i] = m.Entry()
	}
	return schedule.DayPlan(day, entries, counts), nil
}

// Streak computes the streak as of now
func (t *Tracker) Streak(ctx context.Context) (adherence.Streak, error) {
	now := t.now()
	scheds, err := t.store.ListSchedules(ctx)
	if err != nil {
		return adherence.Streak{}, err
	}
	events, err := t.store.AllDoseEvents(ctx)
	if err != nil {
		return adherence.Streak{}, err
	}
	var rules []schedule.Rule
	for _, s := range scheds {
		if r, err := s.Rule(); err == nil {
			rules = append(rules, r)
		}
	}
	return t.streak(ctx, now, rules, events), nil
}

// streak calculates the streak and reports the longest run ever recorded,
// which later schedule deletions cannot lower
func (t *Tracker) streak(ctx context.Context, now time.Time, rules []schedule.Rule, events []store.DoseEvent) adherence.Streak {
	s := adherence.Calculate(now, rules, store.DoseTimes(events, now.Location()))
	longest, err := t.store.RecordLongestStreak(ctx, s.Longest)
	if err != nil {
		t.logger.Warn("Failed to record longest streak", zap.Error(err))
		return s
	}
	s.Longest = longest
	return s
}

// Take logs a dose of a medicine now
func (t *Tracker) Take(ctx context.Context, id uint) (*store.Medicine, error) {
	med, _, err := t.store.TakeDose(ctx, id, t.now())
	if err != nil {
		return nil, err
	}
	t.metrics.RecordDose()
	t.logger.Info("Dose taken",
		zap.Uint("medicine_id", med.ID),
		zap.String("name", med.Name),
	)
	return med, nil
}

// TakeByName logs a dose of the medicine named name, ignoring case
func (t *Tracker) TakeByName(ctx context.Context, name string) (*store.Medicine, error) {
	med, err := t.store.FindMedicineByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Take(ctx, med.ID)
}

// AddMedicine validates and stores a new medicine
func (t *Tracker) AddMedicine(ctx context.Context, in MedicineInput) (*store.Medicine, error) {
	med, err := in.Medicine()
	if err != nil {
		return nil, err
	}
	if err := t.store.CreateMedicine(ctx, med); err != nil {
		return nil, err
	}
	t.logger.Info("Medicine added",
		zap.Uint("medicine_id", med.ID),
		zap.String("name", med.Name),
		zap.Int("schedules", len(med.Schedules)),
	)
	return med, nil
}

// UpdateMedicine replaces the fields and schedules of medicine id
func (t *Tracker) UpdateMedicine(ctx context.Context, id uint, in MedicineInput) (*store.Medicine, error) {
	med, err := in.Medicine()
	if err != nil {
		return nil, err
	}
	med.ID = id
	if err := t.store.UpdateMedicine(ctx, med); err != nil {
		return nil, err
	}
	t.logger.Info("Medicine updated", zap.Uint("medicine_id", id))
	return t.store.GetMedicine(ctx, id)
}

// DeleteMedicine removes a medicine and its schedules
func (t *Tracker) DeleteMedicine(ctx context.Context, id uint) error {
	if err := t.store.DeleteMedicine(ctx, id); err != nil {
		return err
	}
	t.logger.Info("Medicine deleted", zap.Uint("medicine_id", id))
	return nil
}

// Rate returns the adherence percentage over the default window
func (t *Tracker) Rate(ctx context.Context) (float64, error) {
	now := t.now()
	meds, err := t.store.ListMedicines(ctx)
	if err != nil {
		return 0, err
	}
	from := schedule.Day(now).AddDate(0, 0, -adherence.DefaultWindow)
	events, err := t.store.DoseEvents(ctx, from, now.Add(time.Minute))
	if err != nil {
		return 0, err
	}
	return adherence.Rate(now, rulesOf(meds), store.Doses(events), adherence.DefaultWindow), nil
}

func rulesOf(meds []store.Medicine) []schedule.Rule {
	var rules []schedule.Rule
	for _, m := range meds {
		rules = append(rules, m.Rules()...)
	}
	return rules
}
