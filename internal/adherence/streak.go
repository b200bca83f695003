// Package adherence derives streaks and adherence rates from the dose log
// and the schedule rules. Everything here is a pure function of its inputs.
package adherence

import (
	"time"

	"github.com/gmsas95/medminder/internal/schedule"
)

// maxLookback bounds how far back a streak walk goes.
const maxLookback = 5 * 366

// Streak is the adherence streak as of a given day.
type Streak struct {
	Current  int `json:"current"`
	Longest  int `json:"longest"`
	TodayDue bool `json:"today_due"`
	// TodayKept is true once a dose is logged on a due today.
	TodayKept bool `json:"today_kept"`
}

// Calculate walks the due days from the earliest rule up to today. A due
// day is kept when at least one dose was logged on it; a due day without a
// dose ends the run. Days with nothing due neither extend nor break a run.
// An untaken today does not break the run, so the current streak still
// counts the kept days that precede it.
func Calculate(today time.Time, rules []schedule.Rule, doses []time.Time) Streak {
	var s Streak
	if len(rules) == 0 {
		return s
	}

	loc := today.Location()
	end := schedule.Day(today)

	taken := make(map[string]bool, len(doses))
	earliestDose := end
	for _, d := range doses {
		d = d.In(loc)
		taken[schedule.DayKey(d)] = true
		if day := schedule.Day(d); day.Before(earliestDose) {
			earliestDose = day
		}
	}

	start := end
	for _, r := range rules {
		since := earliestDose
		if !r.Since.IsZero() {
			since = schedule.Day(r.Since.In(loc))
		}
		if since.Before(start) {
			start = since
		}
	}
	if floor := end.AddDate(0, 0, -maxLookback); start.Before(floor) {
		start = floor
	}

	run := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if !dueOn(rules, day) {
			continue
		}
		isToday := day.Equal(end)
		kept := taken[schedule.DayKey(day)]

		if isToday {
			s.TodayDue = true
			s.TodayKept = kept
		}

		switch {
		case kept:
			run++
			if run > s.Longest {
				s.Longest = run
			}
		case isToday:
			// grace period until today's first dose
		default:
			run = 0
		}
	}

	s.Current = run
	return s
}

func dueOn(rules []schedule.Rule, day time.Time) bool {
	for _, r := range rules {
		if r.DueOn(day) {
			return true
		}
	}
	return false
}
