// Package reminder turns schedules into notifications. Each poll looks at
// the minutes since the previous poll, claims every occurrence due in them
// and fans a reminder out once per claimed occurrence.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/store"
	"go.uber.org/zap"
)

// MaxCatchUp bounds how far back a poll looks after a pause or restart
const MaxCatchUp = 5 * time.Minute

// Sender fans out a notification
type Sender interface {
	Send(ctx context.Context, n notify.Notification) notify.Report
}

// Composer writes a friendlier reminder text
type Composer interface {
	IsConfigured() bool
	ReminderMessage(ctx context.Context, name, dosage string, at time.Time, lowStock bool) (string, error)
}

// Dispatcher polls schedules and sends reminders
type Dispatcher struct {
	store    *store.Store
	sender   Sender
	composer Composer
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	cfg  config.NotificationsConfig
	last time.Time
}

// New creates a dispatcher
func New(st *store.Store, sender Sender, cfg config.NotificationsConfig, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if m == nil {
		m = metrics.Default()
	}
	return &Dispatcher{
		store:   st,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SetComposer enables AI-written reminder texts when cfg.AIMessages is set
func (d *Dispatcher) SetComposer(c Composer) {
	d.mu.Lock()
	d.composer = c
	d.mu.Unlock()
}

// SetClock overrides the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetConfig applies reloaded notification settings
func (d *Dispatcher) SetConfig(cfg config.NotificationsConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Dispatcher) settings() (config.NotificationsConfig, Composer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.composer
}

// window returns (from, to] for this poll and advances the cursor
func (d *Dispatcher) window(now time.Time, poll time.Duration) (time.Time, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	from := d.last
	if from.IsZero() {
		from = now.Add(-poll)
	}
	if now.Sub(from) > MaxCatchUp {
		from = now.Add(-MaxCatchUp)
	}
	if now.After(d.last) {
		d.last = now
	}
	return from, now
}

// Tick runs one poll and returns the number of reminders sent
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	cfg, composer := d.settings()
	from, to := d.window(d.now(), cfg.PollInterval())
	if !to.After(from) {
		return 0, nil
	}

	meds, err := d.store.ListMedicines(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list medicines: %w", err)
	}

	fired := 0
	for _, med := range meds {
		if med.Expired(to) {
			continue
		}
		for _, rule := range med.Rules() {
			for _, at := range occurrences(rule, from, to) {
				claimed, err := d.store.ClaimOccurrence(ctx, rule.ScheduleID, at)
				if err != nil {
					d.logger.Error("Failed to claim reminder",
						zap.Uint("schedule_id", rule.ScheduleID), zap.Error(err))
					continue
				}
				if !claimed {
					continue
				}
				d.fire(ctx, cfg, composer, med, rule, at)
				fired++
			}
		}
	}

	d.metrics.RecordTick(fired)
	return fired, nil
}

// occurrences lists the due instants of rule in (from, to]
func occurrences(rule schedule.Rule, from, to time.Time) []time.Time {
	var out []time.Time
	for day := schedule.Day(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		if !rule.DueOn(day) {
			continue
		}
		at := rule.Occurrence(day)
		if at.After(from) && !at.After(to) {
			out = append(out, at)
		}
	}
	return out
}

func (d *Dispatcher) fire(ctx context.Context, cfg config.NotificationsConfig, composer Composer, med store.Medicine, rule schedule.Rule, at time.Time) {
	lowStock := med.LowStock(cfg.LowStockThreshold)
	body := ReminderBody(med, cfg.LowStockThreshold)

	if cfg.AIMessages && composer != nil && composer.IsConfigured() {
		msg, err := composer.ReminderMessage(ctx, med.Name, med.Dosage, at, lowStock)
		if err != nil {
			d.logger.Warn("Falling back to plain reminder text", zap.Error(err))
		} else if msg = strings.TrimSpace(msg); msg != "" {
			body = msg
		}
	}

	report := d.sender.Send(ctx, notify.Notification{
		Kind:       notify.KindReminder,
		Title:      ReminderTitle(med.Name),
		Body:       body,
		MedicineID: med.ID,
		ScheduleID: rule.ScheduleID,
		At:         at,
	})

	d.logger.Info("Reminder sent",
		zap.String("medicine", med.Name),
		zap.String("time", rule.Clock.String()),
		zap.Strings("delivered", report.Delivered),
		zap.Int("failed", len(report.Failed)),
	)
}

// ReminderTitle is the notification title for a due dose
func ReminderTitle(name string) string {
	return "Medicine Reminder: " + name
}

// ReminderBody is the plain reminder text, with a stock warning when the
// tracked count is at or under threshold
func ReminderBody(med store.Medicine, threshold int) string {
	body := "Time to take " + med.Name
	if med.Dosage != "" {
		body += " - " + med.Dosage
	}
	if med.LowStock(threshold) {
		body += fmt.Sprintf(" (Only %d dose(s) remaining!)", *med.DosesRemaining)
	}
	return body
}

// CheckExpiring sends one warning per expiry date for medicines expiring
// within the configured number of days. It returns the number of warnings.
func (d *Dispatcher) CheckExpiring(ctx context.Context) (int, error) {
	cfg, _ := d.settings()
	now := d.now()

	meds, err := d.store.ExpiringMedicines(ctx, now, cfg.ExpiryWarningDays)
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring medicines: %w", err)
	}

	groups := GroupByExpiry(meds)
	dates := make([]string, 0, len(groups))
	for date := range groups {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		report := d.sender.Send(ctx, notify.Notification{
			Kind:  notify.KindExpiry,
			Title: "Medicine Expiry Warning",
			Body:  fmt.Sprintf("Medicines expiring on %s: %s", date, strings.Join(groups[date], ", ")),
			At:    now,
		})
		d.logger.Info("Expiry warning sent",
			zap.String("date", date),
			zap.Strings("medicines", groups[date]),
			zap.Bool("ok", report.OK()),
		)
	}
	return len(dates), nil
}

// GroupByExpiry maps YYYY-MM-DD to the names expiring that day
func GroupByExpiry(meds []store.Medicine) map[string][]string {
	groups := make(map[string][]string)
	for _, m := range meds {
		if m.ExpiryDate == nil {
			continue
		}
		key := m.ExpiryDate.UTC().Format("2006-01-02")
		groups[key] = append(groups[key], m.Name)
	}
	return groups
}
