package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
)

// Kind names how a Recurrence repeats. It is also the persisted form.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

// Recurrence is either Daily() or Weekly(day). The zero value is daily.
type Recurrence struct {
	kind Kind
	day  time.Weekday
}

func Daily() Recurrence {
	return Recurrence{kind: KindDaily}
}

func Weekly(day time.Weekday) Recurrence {
	return Recurrence{kind: KindWeekly, day: day}
}

func (r Recurrence) Kind() Kind {
	if r.kind == "" {
		return KindDaily
	}
	return r.kind
}

func (r Recurrence) IsDaily() bool {
	return r.Kind() == KindDaily
}

// Weekday returns the weekday of a weekly recurrence.
func (r Recurrence) Weekday() (time.Weekday, bool) {
	if r.IsDaily() {
		return 0, false
	}
	return r.day, true
}

// Matches reports whether the recurrence falls on the calendar day of t.
func (r Recurrence) Matches(t time.Time) bool {
	if r.IsDaily() {
		return true
	}
	return t.Weekday() == r.day
}

func (r Recurrence) String() string {
	if r.IsDaily() {
		return "Every day"
	}
	return r.day.String()
}

// ParseRecurrence restores a Recurrence from its persisted columns.
func ParseRecurrence(kind string, weekday *int) (Recurrence, error) {
	switch Kind(kind) {
	case KindDaily, "":
		return Daily(), nil
	case KindWeekly:
		if weekday == nil || *weekday < 0 || *weekday > 6 {
			return Recurrence{}, apperrors.WithCause(apperrors.ErrInvalidDay, fmt.Errorf("weekly schedule without weekday"))
		}
		return Weekly(time.Weekday(*weekday)), nil
	default:
		return Recurrence{}, apperrors.WithCause(apperrors.ErrInvalidDay, fmt.Errorf("unknown repeat %q", kind))
	}
}

// PersistedWeekday returns the weekday column value, nil for daily.
func (r Recurrence) PersistedWeekday() *int {
	d, ok := r.Weekday()
	if !ok {
		return nil
	}
	v := int(d)
	return &v
}

// ParseFormDay converts the edit form's day selector, where -1 means every
// day and 0..6 run Monday..Sunday.
func ParseFormDay(s string) (Recurrence, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Recurrence{}, apperrors.WithCause(apperrors.ErrInvalidDay, fmt.Errorf("%q", s))
	}
	switch {
	case n == -1:
		return Daily(), nil
	case n >= 0 && n <= 6:
		return Weekly(time.Weekday((n + 1) % 7)), nil
	default:
		return Recurrence{}, apperrors.WithCause(apperrors.ErrInvalidDay, fmt.Errorf("%d", n))
	}
}

// FormDay is the inverse of ParseFormDay.
func (r Recurrence) FormDay() int {
	d, ok := r.Weekday()
	if !ok {
		return -1
	}
	return (int(d) + 6) % 7
}

var rruleDays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// RRule renders the recurrence as an iCalendar rule.
func (r Recurrence) RRule() string {
	d, ok := r.Weekday()
	if !ok {
		return "RRULE:FREQ=DAILY"
	}
	return "RRULE:FREQ=WEEKLY;BYDAY=" + rruleDays[d]
}

// FormDays lists the selector options in display order.
func FormDays() []FormDayOption {
	opts := []FormDayOption{{Value: -1, Label: "Every day"}}
	for i := 0; i < 7; i++ {
		opts = append(opts, FormDayOption{Value: i, Label: time.Weekday((i + 1) % 7).String()})
	}
	return opts
}

type FormDayOption struct {
	Value int
	Label string
}
