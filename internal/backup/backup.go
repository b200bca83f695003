// Package backup exports and restores the whole medicine database as a
// JSON or YAML snapshot.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/store"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// Version of the snapshot layout
const Version = 1

// Format is a snapshot encoding
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", apperrors.Validation(fmt.Sprintf("unknown backup format %q", s))
}

// FormatOf guesses the format from a file name
func FormatOf(path string) Format {
	if f, err := ParseFormat(filepath.Ext(path)); err == nil {
		return f
	}
	return JSON
}

// Snapshot is the portable form of the database
type Snapshot struct {
	Version    int        `json:"version" yaml:"version"`
	ExportedAt time.Time  `json:"exported_at" yaml:"exported_at"`
	Medicines  []Medicine `json:"medicines" yaml:"medicines"`
	DoseEvents []Dose     `json:"dose_events" yaml:"dose_events"`
	Settings   []Setting  `json:"settings" yaml:"settings"`
}

// Medicine is a medicine row with its schedules
type Medicine struct {
	ID             uint       `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name"`
	Barcode        string     `json:"barcode,omitempty" yaml:"barcode,omitempty"`
	Dosage         string     `json:"dosage,omitempty" yaml:"dosage,omitempty"`
	ExpiryDate     string     `json:"expiry_date,omitempty" yaml:"expiry_date,omitempty"`
	DosesRemaining *int       `json:"doses_remaining,omitempty" yaml:"doses_remaining,omitempty"`
	Notes          string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	Schedules      []Schedule `json:"schedules" yaml:"schedules"`
}

// Schedule is one reminder time
type Schedule struct {
	ID        uint      `json:"id" yaml:"id"`
	TimeOfDay string    `json:"time_of_day" yaml:"time_of_day"`
	Repeat    string    `json:"repeat" yaml:"repeat"`
	Weekday   *int      `json:"weekday,omitempty" yaml:"weekday,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Dose is one taken dose
type Dose struct {
	MedicineID uint      `json:"medicine_id" yaml:"medicine_id"`
	TakenAt    time.Time `json:"taken_at" yaml:"taken_at"`
}

// Setting keeps its value as JSON text
type Setting struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Export reads the database into a snapshot
func Export(ctx context.Context, st *store.Store) (*Snapshot, error) {
	ds, err := st.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Medicines:  make([]Medicine, 0, len(ds.Medicines)),
		DoseEvents: make([]Dose, 0, len(ds.DoseEvents)),
		Settings:   make([]Setting, 0, len(ds.Settings)),
	}
	for _, m := range ds.Medicines {
		out := Medicine{
			ID:             m.ID,
			Name:           m.Name,
			Barcode:        m.Barcode,
			Dosage:         m.Dosage,
			DosesRemaining: m.DosesRemaining,
			Notes:          m.Notes,
			CreatedAt:      m.CreatedAt.UTC(),
			Schedules:      make([]Schedule, 0, len(m.Schedules)),
		}
		if m.ExpiryDate != nil {
			out.ExpiryDate = m.ExpiryDate.UTC().Format("2006-01-02")
		}
		for _, s := range m.Schedules {
			out.Schedules = append(out.Schedules, Schedule{
				ID:        s.ID,
				TimeOfDay: s.TimeOfDay,
				Repeat:    s.Repeat,
				Weekday:   s.Weekday,
				CreatedAt: s.CreatedAt.UTC(),
			})
		}
		snap.Medicines = append(snap.Medicines, out)
	}
	for _, e := range ds.DoseEvents {
		snap.DoseEvents = append(snap.DoseEvents, Dose{MedicineID: e.MedicineID, TakenAt: e.TakenAt.UTC()})
	}
	for _, s := range ds.Settings {
		snap.Settings = append(snap.Settings, Setting{Key: s.Key, Value: string(s.Value)})
	}
	return snap, nil
}

// Import replaces the database contents with snap
func Import(ctx context.Context, st *store.Store, snap *Snapshot) error {
	if snap.Version > Version {
		return apperrors.Validation(fmt.Sprintf("backup version %d is newer than supported version %d", snap.Version, Version))
	}

	ds := &store.Dataset{}
	known := make(map[uint]bool)
	for _, m := range snap.Medicines {
		med := store.Medicine{
			ID:             m.ID,
			Name:           m.Name,
			Barcode:        m.Barcode,
			Dosage:         m.Dosage,
			DosesRemaining: m.DosesRemaining,
			Notes:          m.Notes,
			CreatedAt:      m.CreatedAt,
		}
		if m.ExpiryDate != "" {
			d, err := schedule.ParseDate(m.ExpiryDate, time.UTC)
			if err != nil {
				return fmt.Errorf("medicine %q: %w", m.Name, err)
			}
			med.ExpiryDate = &d
		}
		for _, s := range m.Schedules {
			med.Schedules = append(med.Schedules, store.Schedule{
				ID:        s.ID,
				TimeOfDay: s.TimeOfDay,
				Repeat:    s.Repeat,
				Weekday:   s.Weekday,
				CreatedAt: s.CreatedAt,
			})
		}
		known[m.ID] = true
		ds.Medicines = append(ds.Medicines, med)
	}
	for _, e := range snap.DoseEvents {
		if !known[e.MedicineID] {
			continue
		}
		ds.DoseEvents = append(ds.DoseEvents, store.DoseEvent{MedicineID: e.MedicineID, TakenAt: e.TakenAt})
	}
	for _, s := range snap.Settings {
		if !json.Valid([]byte(s.Value)) {
			return apperrors.Validation(fmt.Sprintf("setting %q is not valid JSON", s.Key))
		}
		ds.Settings = append(ds.Settings, store.Setting{Key: s.Key, Value: datatypes.JSON(s.Value)})
	}

	return st.Restore(ctx, ds)
}

// Encode writes snap in the given format
func Encode(w io.Writer, snap *Snapshot, format Format) error {
	switch format {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
}

// Decode reads a snapshot in the given format
func Decode(r io.Reader, format Format) (*Snapshot, error) {
	var snap Snapshot
	var err error
	switch format {
	case YAML:
		err = yaml.NewDecoder(r).Decode(&snap)
	default:
		err = json.NewDecoder(r).Decode(&snap)
	}
	if err != nil {
		return nil, apperrors.WithCause(apperrors.ErrBadRequest, fmt.Errorf("invalid %s backup: %w", format, err))
	}
	return &snap, nil
}
