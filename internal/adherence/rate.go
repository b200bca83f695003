package adherence

import (
	"time"

	"github.com/gmsas95/medminder/internal/schedule"
)

// DefaultWindow is the look-back used on the home page.
const DefaultWindow = 30

// Dose is a logged dose of a medicine.
type Dose struct {
	MedicineID uint
	TakenAt    time.Time
}

// Rate returns the percentage of due doses taken over the last window days
// ending at now. Doses due later today are not yet counted, and extra doses
// on a day never make up for a missed one on another. It returns 0 when
// nothing was due.
func Rate(now time.Time, rules []schedule.Rule, doses []Dose, window int) float64 {
	if window <= 0 {
		window = DefaultWindow
	}

	loc := now.Location()
	today := schedule.Day(now)
	nowClock := schedule.ClockOf(now)

	type key struct {
		day string
		med uint
	}
	takenByDay := make(map[key]int)
	for _, d := range doses {
		takenByDay[key{schedule.DayKey(d.TakenAt.In(loc)), d.MedicineID}]++
	}

	var due, taken int
	for i := window - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		dueByMed := make(map[uint]int)
		for _, r := range rules {
			if !r.DueOn(day) {
				continue
			}
			if day.Equal(today) && nowClock.Before(r.Clock) {
				continue
			}
			dueByMed[r.MedicineID]++
		}
		for med, n := range dueByMed {
			due += n
			taken += min(takenByDay[key{schedule.DayKey(day), med}], n)
		}
	}

	if due == 0 {
		return 0
	}
	return float64(taken) / float64(due) * 100
}
