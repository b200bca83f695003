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

	"github.com/gmsas95/medminder/internal/adherence"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gmsas95/medminder/internal/tracker"
	"go.uber.org/zap"
)

const (
	// SpreadsheetTitle names the spreadsheet created on first sync
	SpreadsheetTitle = "Medicine Reminder Data"

	SheetMedicines = "Medicines"
	SheetSchedule  = "Schedule"
	SheetDoseLog   = "DoseLog"
	SheetStreaks   = "Streaks"
)

var sheetTitles = []string{SheetMedicines, SheetSchedule, SheetDoseLog, SheetStreaks}

var (
	medicineHeader = []interface{}{"ID", "Name", "Barcode", "Dosage", "Expiry Date", "Doses Remaining", "Schedules", "Notes"}
	scheduleHeader = []interface{}{"ID", "Medicine ID", "Day of Week", "Time"}
	doseHeader     = []interface{}{"ID", "Medicine ID", "Medicine Name", "Taken At"}
	streakHeader   = []interface{}{"Current Streak", "Longest Streak", "Last Taken Date"}
)

// StreakSource reports the streak written to the Streaks sheet
type StreakSource interface {
	Streak(ctx context.Context) (adherence.Streak, error)
}

// MedicineRows renders the Medicines sheet
func MedicineRows(meds []store.Medicine) [][]interface{} {
	rows := [][]interface{}{medicineHeader}
	for _, m := range meds {
		expiry, remaining := "", ""
		if m.ExpiryDate != nil {
			expiry = m.ExpiryDate.UTC().Format("2006-01-02")
		}
		if m.DosesRemaining != nil {
			remaining = strconv.Itoa(*m.DosesRemaining)
		}
		times := make([]string, 0, len(m.Schedules))
		for _, sc := range m.Schedules {
			times = append(times, sc.Describe())
		}
		rows = append(rows, []interface{}{m.ID, m.Name, m.Barcode, m.Dosage, expiry, remaining, strings.Join(times, "; "), m.Notes})
	}
	return rows
}

// ScheduleRows renders the Schedule sheet. Day of Week uses the form
// encoding: -1 for every day, 0 for Monday through 6 for Sunday.
func ScheduleRows(meds []store.Medicine) [][]interface{} {
	rows := [][]interface{}{scheduleHeader}
	for _, m := range meds {
		for _, sc := range m.Schedules {
			rec, err := sc.Recurrence()
			if err != nil {
				continue
			}
			rows = append(rows, []interface{}{sc.ID, m.ID, rec.FormDay(), sc.TimeOfDay})
		}
	}
	return rows
}

// DoseRows renders the DoseLog sheet
func DoseRows(events []store.DoseEvent, names map[uint]string, loc *time.Location) [][]interface{} {
	rows := [][]interface{}{doseHeader}
	for _, e := range events {
		name, ok := names[e.MedicineID]
		if !ok {
			name = "Unknown"
		}
		rows = append(rows, []interface{}{e.ID, e.MedicineID, name, e.TakenAt.In(loc).Format("2006-01-02 15:04:05")})
	}
	return rows
}

// StreakRows renders the Streaks sheet
func StreakRows(s adherence.Streak, events []store.DoseEvent, loc *time.Location) [][]interface{} {
	var latest time.Time
	for _, e := range events {
		if e.TakenAt.After(latest) {
			latest = e.TakenAt
		}
	}
	last := ""
	if !latest.IsZero() {
		last = latest.In(loc).Format("2006-01-02")
	}
	return [][]interface{}{streakHeader, {s.Current, s.Longest, last}}
}

// SheetMedicine is a medicine read back from the spreadsheet
type SheetMedicine struct {
	// SheetID is the ID column, zero when blank
	SheetID uint
	Input   tracker.MedicineInput
	// HasSchedules is false when the Schedule sheet has no rows for the
	// medicine; its stored schedules are then left alone
	HasSchedules bool
}

// ParseSheets reads the Medicines and Schedule sheets. Header and blank
// rows are ignored; rows that do not parse are counted as skipped.
func ParseSheets(medRows, schedRows [][]string) ([]SheetMedicine, int) {
	skipped := 0

	type slot struct{ time, day string }
	slots := make(map[uint][]slot)
	for _, row := range dataRows(schedRows) {
		row = pad(row, 4)
		medID, err := strconv.ParseUint(row[1], 10, 32)
		if err != nil || row[3] == "" {
			skipped++
			continue
		}
		day := row[2]
		if day == "" {
			day = "-1"
		}
		slots[uint(medID)] = append(slots[uint(medID)], slot{time: row[3], day: day})
	}

	var out []SheetMedicine
	for _, row := range dataRows(medRows) {
		row = pad(row, 8)
		var sheetID uint
		if row[0] != "" {
			n, err := strconv.ParseUint(row[0], 10, 32)
			if err != nil {
				skipped++
				continue
			}
			sheetID = uint(n)
		}
		in := tracker.MedicineInput{
			Name:           row[1],
			Barcode:        row[2],
			Dosage:         row[3],
			ExpiryDate:     row[4],
			DosesRemaining: row[5],
			Notes:          row[7],
		}
		list := slots[sheetID]
		if sheetID == 0 {
			list = nil
		}
		for _, sl := range list {
			in.Times = append(in.Times, sl.time)
			in.Days = append(in.Days, sl.day)
		}
		if _, err := in.Medicine(); err != nil {
			skipped++
			continue
		}
		out = append(out, SheetMedicine{SheetID: sheetID, Input: in, HasSchedules: len(list) > 0})
	}
	return out, skipped
}

func dataRows(rows [][]string) [][]string {
	var out [][]string
	for i, row := range rows {
		if i == 0 && len(row) > 0 && strings.EqualFold(row[0], "ID") {
			continue
		}
		blank := true
		for _, cell := range row {
			if cell != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out
}

func pad(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}
	return row
}

func cellText(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func (s *Service) spreadsheetURL(id string) string {
	return s.endpoints.Sheets + "/spreadsheets/" + url.PathEscape(id)
}

// ensureSpreadsheet returns the stored spreadsheet id, creating the
// spreadsheet when none is stored
func (s *Service) ensureSpreadsheet(ctx context.Context, c *http.Client) (string, error) {
	id, err := s.store.GetString(ctx, store.SettingSpreadsheetID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	sheets := make([]map[string]interface{}, len(sheetTitles))
	for i, title := range sheetTitles {
		sheets[i] = map[string]interface{}{"properties": map[string]string{"title": title}}
	}
	payload := map[string]interface{}{
		"properties": map[string]string{"title": SpreadsheetTitle},
		"sheets":     sheets,
	}
	var created struct {
		SpreadsheetID string `json:"spreadsheetId"`
	}
	if err := doJSON(ctx, c, http.MethodPost, s.endpoints.Sheets+"/spreadsheets", payload, &created); err != nil {
		return "", fmt.Errorf("failed to create spreadsheet: %w", err)
	}
	s.logger.Info("Created spreadsheet", zap.String("spreadsheet_id", created.SpreadsheetID))

	if err := s.store.SaveSetting(ctx, store.SettingSpreadsheetID, created.SpreadsheetID); err != nil {
		return "", err
	}
	return created.SpreadsheetID, nil
}

// ensureTabs adds the sheets an older spreadsheet lacks
func (s *Service) ensureTabs(ctx context.Context, c *http.Client, id string) error {
	var book struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := doJSON(ctx, c, http.MethodGet, s.spreadsheetURL(id)+"?fields=sheets.properties.title", nil, &book); err != nil {
		return err
	}
	have := make(map[string]bool, len(book.Sheets))
	for _, sh := range book.Sheets {
		have[sh.Properties.Title] = true
	}

	var requests []map[string]interface{}
	var added []string
	for _, title := range sheetTitles {
		if have[title] {
			continue
		}
		added = append(added, title)
		requests = append(requests, map[string]interface{}{
			"addSheet": map[string]interface{}{"properties": map[string]string{"title": title}},
		})
	}
	if len(requests) == 0 {
		return nil
	}
	s.logger.Info("Adding sheets", zap.String("spreadsheet_id", id), zap.Strings("sheets", added))
	return doJSON(ctx, c, http.MethodPost, s.spreadsheetURL(id)+":batchUpdate", map[string]interface{}{"requests": requests}, nil)
}

// writeSheet replaces the contents of one sheet
func (s *Service) writeSheet(ctx context.Context, c *http.Client, id, sheet string, rows [][]interface{}) error {
	base := s.spreadsheetURL(id) + "/values/"
	if err := doJSON(ctx, c, http.MethodPost, base+url.PathEscape(sheet)+":clear", map[string]string{}, nil); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"range":          sheet + "!A1",
		"majorDimension": "ROWS",
		"values":         rows,
	}
	return doJSON(ctx, c, http.MethodPut, base+url.PathEscape(sheet+"!A1")+"?valueInputOption=RAW", payload, nil)
}

// readSheet returns the cells of one sheet as text
func (s *Service) readSheet(ctx context.Context, c *http.Client, id, sheet string) ([][]string, error) {
	var resp struct {
		Values [][]interface{} `json:"values"`
	}
	if err := doJSON(ctx, c, http.MethodGet, s.spreadsheetURL(id)+"/values/"+url.PathEscape(sheet), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = cellText(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func (s *Service) streak(ctx context.Context, meds []store.Medicine, events []store.DoseEvent) (adherence.Streak, error) {
	if s.streaks != nil {
		return s.streaks.Streak(ctx)
	}
	now := s.now()
	var rules []schedule.Rule
	for _, m := range meds {
		rules = append(rules, m.Rules()...)
	}
	return adherence.Calculate(now, rules, store.DoseTimes(events, now.Location())), nil
}

// SyncSheets exports medicines, schedules, the dose log and the streak to
// the spreadsheet. A spreadsheet deleted on the Google side is recreated
// once.
func (s *Service) SyncSheets(ctx context.Context) error {
	return s.run(ctx, OpSheets, func(ctx context.Context, c *http.Client) (string, error) {
		meds, err := s.store.ListMedicines(ctx)
		if err != nil {
			return "", err
		}
		events, err := s.store.AllDoseEvents(ctx)
		if err != nil {
			return "", err
		}
		streak, err := s.streak(ctx, meds, events)
		if err != nil {
			return "", err
		}
		names := make(map[uint]string, len(meds))
		for _, m := range meds {
			names[m.ID] = m.Name
		}
		loc := s.now().Location()
		sheets := map[string][][]interface{}{
			SheetMedicines: MedicineRows(meds),
			SheetSchedule:  ScheduleRows(meds),
			SheetDoseLog:   DoseRows(events, names, loc),
			SheetStreaks:   StreakRows(streak, events, loc),
		}

		write := func(id string) error {
			if err := s.ensureTabs(ctx, c, id); err != nil {
				return err
			}
			for _, title := range sheetTitles {
				if err := s.writeSheet(ctx, c, id, title, sheets[title]); err != nil {
					return err
				}
			}
			return nil
		}

		id, err := s.ensureSpreadsheet(ctx, c)
		if err != nil {
			return "", err
		}
		err = write(id)
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Spreadsheet missing, creating a new one", zap.String("spreadsheet_id", id))
			if err := s.store.SaveSetting(ctx, store.SettingSpreadsheetID, ""); err != nil {
				return "", err
			}
			if id, err = s.ensureSpreadsheet(ctx, c); err != nil {
				return "", err
			}
			err = write(id)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("wrote %d medicines and %d doses to %s", len(meds), len(events), id), nil
	})
}

// ImportSheets reads the Medicines and Schedule sheets back into the store.
// A row whose ID matches a stored medicine updates it; other rows become new
// medicines.
func (s *Service) ImportSheets(ctx context.Context) error {
	return s.run(ctx, OpSheetsImport, func(ctx context.Context, c *http.Client) (string, error) {
		id, err := s.store.GetString(ctx, store.SettingSpreadsheetID)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", apperrors.WithCause(apperrors.ErrNotFound, errors.New("no spreadsheet has been exported"))
		}
		medRows, err := s.readSheet(ctx, c, id, SheetMedicines)
		if err != nil {
			return "", err
		}
		schedRows, err := s.readSheet(ctx, c, id, SheetSchedule)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return "", err
		}

		parsed, skipped := ParseSheets(medRows, schedRows)
		added, updated := 0, 0
		for _, sm := range parsed {
			med, err := sm.Input.Medicine()
			if err != nil {
				skipped++
				continue
			}
			if sm.SheetID != 0 {
				existing, err := s.store.GetMedicine(ctx, sm.SheetID)
				switch {
				case err == nil:
					med.ID = existing.ID
					if !sm.HasSchedules {
						med.Schedules = existing.Schedules
					}
					if err := s.store.UpdateMedicine(ctx, med); err != nil {
						return "", fmt.Errorf("medicine %d: %w", med.ID, err)
					}
					updated++
					continue
				case !errors.Is(err, apperrors.ErrMedicineNotFound):
					return "", err
				}
			}
			if err := s.store.CreateMedicine(ctx, med); err != nil {
				return "", fmt.Errorf("medicine %q: %w", med.Name, err)
			}
			added++
		}

		if skipped > 0 {
			s.logger.Warn("Skipped spreadsheet rows", zap.Int("rows", skipped))
		}
		return fmt.Sprintf("imported %d medicines (%d new), skipped %d rows", added+updated, added, skipped), nil
	})
}
