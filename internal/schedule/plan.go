// Package schedule models when doses are due: times of day, daily or weekly
// recurrence, and the per-day plan shown on the home and schedule pages.
package schedule

import (
	"sort"
	"time"
)

// Rule is one due-time rule of a medicine.
type Rule struct {
	MedicineID uint
	ScheduleID uint
	Clock      Clock
	Recurrence Recurrence
	// Since is the first day the rule applies; zero means always.
	Since time.Time
}

// DueOn reports whether the rule produces a dose on the calendar day of t.
func (r Rule) DueOn(t time.Time) bool {
	if !r.Since.IsZero() && Day(t).Before(Day(r.Since.In(t.Location()))) {
		return false
	}
	return r.Recurrence.Matches(t)
}

// Occurrence returns the due instant of the rule on the day of t.
func (r Rule) Occurrence(t time.Time) time.Time {
	return r.Clock.On(t)
}

// Entry is the planning input for one medicine.
type Entry struct {
	MedicineID     uint
	Name           string
	Dosage         string
	DosesRemaining *int
	ExpiryDate     *time.Time
	Rules          []Rule
}

// Badge is one due time on a planned day.
type Badge struct {
	Clock Clock `json:"time"`
	Taken bool  `json:"taken"`
}

// Planned is a medicine due on a given day.
type Planned struct {
	MedicineID     uint    `json:"medicine_id"`
	Name           string  `json:"name"`
	Dosage         string  `json:"dosage"`
	DosesRemaining *int    `json:"doses_remaining,omitempty"`
	Expired        bool    `json:"expired"`
	Badges         []Badge `json:"times"`
	TakenCount     int     `json:"taken_count"`
}

// Complete reports whether every badge is taken.
func (p Planned) Complete() bool {
	return p.TakenCount >= len(p.Badges)
}

// DayPlan lists medicines due on the calendar day of day, ordered by their
// first due time. taken maps medicine IDs to the doses logged that day; the
// earliest badges are marked taken first.
func DayPlan(day time.Time, entries []Entry, taken map[uint]int) []Planned {
	var plan []Planned
	for _, e := range entries {
		var clocks []Clock
		for _, r := range e.Rules {
			if r.DueOn(day) {
				clocks = append(clocks, r.Clock)
			}
		}
		if len(clocks) == 0 {
			continue
		}
		sort.Slice(clocks, func(i, j int) bool { return clocks[i].Before(clocks[j]) })

		n := taken[e.MedicineID]
		badges := make([]Badge, len(clocks))
		for i, c := range clocks {
			badges[i] = Badge{Clock: c, Taken: i < n}
		}

		plan = append(plan, Planned{
			MedicineID:     e.MedicineID,
			Name:           e.Name,
			Dosage:         e.Dosage,
			DosesRemaining: e.DosesRemaining,
			Expired:        e.ExpiryDate != nil && DateIn(*e.ExpiryDate, day.Location()).Before(Day(day)),
			Badges:         badges,
			TakenCount:     n,
		})
	}

	sort.SliceStable(plan, func(i, j int) bool {
		a, b := plan[i].Badges[0].Clock, plan[j].Badges[0].Clock
		if a == b {
			return plan[i].Name < plan[j].Name
		}
		return a.Before(b)
	})
	return plan
}

// Week is the seven-day strip around a selected date.
type Week struct {
	Days     []time.Time
	Selected time.Time
	Prev     time.Time
	Next     time.Time
}

// WeekAround returns the days from three before to three after selected,
// with anchors one week back and forward.
func WeekAround(selected time.Time) Week {
	sel := Day(selected)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = sel.AddDate(0, 0, i-3)
	}
	return Week{
		Days:     days,
		Selected: sel,
		Prev:     sel.AddDate(0, 0, -7),
		Next:     sel.AddDate(0, 0, 7),
	}
}
