package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/store"
	"go.uber.org/zap"
)

// CalendarName is the secondary calendar holding reminder events
const CalendarName = "Medicine Reminders"

const (
	propApp      = "app"
	propAppValue = "medminder"
	propSchedule = "schedule_id"
	eventLength  = 30 * time.Minute
)

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type calendarEvent struct {
	ID          string    `json:"id,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
	Recurrence  []string  `json:"recurrence,omitempty"`
	Reminders   struct {
		UseDefault bool               `json:"useDefault"`
		Overrides  []reminderOverride `json:"overrides,omitempty"`
	} `json:"reminders"`
	ExtendedProperties struct {
		Private map[string]string `json:"private,omitempty"`
	} `json:"extendedProperties"`
}

// zoneName is the IANA name Google needs to expand recurrences
func zoneName(loc *time.Location) (string, *time.Location) {
	name := loc.String()
	if name == "" || name == "Local" {
		return "Etc/UTC", time.UTC
	}
	return name, loc
}

// firstOccurrence is the first due time of sc on or after the day of now
func firstOccurrence(sc store.Schedule, now time.Time) (time.Time, error) {
	clock, err := sc.Clock()
	if err != nil {
		return time.Time{}, err
	}
	rec, err := sc.Recurrence()
	if err != nil {
		return time.Time{}, err
	}
	day := schedule.Day(now)
	for i := 0; i < 7 && !rec.Matches(day); i++ {
		day = day.AddDate(0, 0, 1)
	}
	return clock.On(day), nil
}

// reminderEvent builds the recurring event of one schedule
func reminderEvent(med store.Medicine, sc store.Schedule, now time.Time) (*calendarEvent, error) {
	zone, loc := zoneName(now.Location())
	start, err := firstOccurrence(sc, now.In(loc))
	if err != nil {
		return nil, err
	}
	rec, _ := sc.Recurrence()

	ev := &calendarEvent{
		Summary:     "Take " + med.Name,
		Description: strings.TrimSpace(fmt.Sprintf("Dosage: %s\n\n%s", med.Dosage, med.Notes)),
		Start:       eventTime{DateTime: start.Format(time.RFC3339), TimeZone: zone},
		End:         eventTime{DateTime: start.Add(eventLength).Format(time.RFC3339), TimeZone: zone},
		Recurrence:  []string{rec.RRule()},
	}
	ev.Reminders.Overrides = []reminderOverride{{"popup", 15}, {"popup", 0}}
	ev.ExtendedProperties.Private = map[string]string{
		propApp:      propAppValue,
		propSchedule: strconv.FormatUint(uint64(sc.ID), 10),
	}
	return ev, nil
}

func calendarPath(id string) string {
	return "/calendars/" + url.PathEscape(id)
}

// ensureCalendar finds or creates the reminders calendar
func (s *Service) ensureCalendar(ctx context.Context, c *http.Client) (string, error) {
	var list struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"items"`
	}
	if err := do(ctx, c, http.MethodGet, s.endpoints.Calendar+"/users/me/calendarList", nil, "", &list); err != nil {
		return "", err
	}

	id := ""
	for _, item := range list.Items {
		if item.Summary == CalendarName {
			id = item.ID
			break
		}
	}
	if id == "" {
		zone, _ := zoneName(s.now().Location())
		var created struct {
			ID string `json:"id"`
		}
		payload := map[string]string{
			"summary":     CalendarName,
			"description": "Calendar for medicine reminders",
			"timeZone":    zone,
		}
		if err := doJSON(ctx, c, http.MethodPost, s.endpoints.Calendar+"/calendars", payload, &created); err != nil {
			return "", fmt.Errorf("failed to create calendar: %w", err)
		}
		id = created.ID
		s.logger.Info("Created medicine calendar", zap.String("calendar_id", id))
	}

	if err := s.store.SaveSetting(ctx, store.SettingCalendarID, id); err != nil {
		return "", err
	}
	return id, nil
}

// SyncCalendar writes one recurring event per schedule and removes events
// whose schedule no longer exists
func (s *Service) SyncCalendar(ctx context.Context) error {
	return s.run(ctx, OpCalendar, func(ctx context.Context, c *http.Client) (string, error) {
		calID, err := s.ensureCalendar(ctx, c)
		if err != nil {
			return "", err
		}
		meds, err := s.store.ListMedicines(ctx)
		if err != nil {
			return "", err
		}

		now := s.now()
		eventsURL := s.endpoints.Calendar + calendarPath(calID) + "/events"
		keep := make(map[string]bool)
		created, updated := 0, 0

		for _, med := range meds {
			for _, sc := range med.Schedules {
				ev, err := reminderEvent(med, sc, now)
				if err != nil {
					s.logger.Warn("Skipping malformed schedule", zap.Uint("schedule_id", sc.ID), zap.Error(err))
					continue
				}

				if sc.CalendarEventID != "" {
					err := doJSON(ctx, c, http.MethodPut, eventsURL+"/"+url.PathEscape(sc.CalendarEventID), ev, nil)
					if err == nil {
						keep[sc.CalendarEventID] = true
						updated++
						continue
					}
					if !errors.Is(err, apperrors.ErrNotFound) {
						return "", err
					}
				}

				var out calendarEvent
				if err := doJSON(ctx, c, http.MethodPost, eventsURL, ev, &out); err != nil {
					return "", fmt.Errorf("failed to create event for %s: %w", med.Name, err)
				}
				if err := s.store.SetCalendarEventID(ctx, sc.ID, out.ID); err != nil {
					return "", err
				}
				keep[out.ID] = true
				created++
			}
		}

		removed, err := s.pruneEvents(ctx, c, eventsURL, keep)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d created, %d updated, %d removed", created, updated, removed), nil
	})
}

// pruneEvents deletes app events not in keep
func (s *Service) pruneEvents(ctx context.Context, c *http.Client, eventsURL string, keep map[string]bool) (int, error) {
	q := url.Values{}
	q.Set("privateExtendedProperty", propApp+"="+propAppValue)
	q.Set("maxResults", "250")

	var list struct {
		Items []calendarEvent `json:"items"`
	}
	if err := do(ctx, c, http.MethodGet, eventsURL+"?"+q.Encode(), nil, "", &list); err != nil {
		return 0, err
	}

	removed := 0
	for _, ev := range list.Items {
		if keep[ev.ID] {
			continue
		}
		err := do(ctx, c, http.MethodDelete, eventsURL+"/"+url.PathEscape(ev.ID), nil, "", nil)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
