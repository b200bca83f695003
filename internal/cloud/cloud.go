// Package cloud syncs medicines to Google Drive, Calendar and Sheets.
package cloud

import (
	"context"
	"net/http"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/store"
	"go.uber.org/zap"
)

// Sync operations, as written to the sync log
const (
	OpDriveUpload   = "drive_upload"
	OpDriveDownload = "drive_download"
	OpCalendar      = "calendar"
	OpSheets        = "sheets"
	OpSheetsImport  = "sheets_import"
)

// Endpoints are the API base URLs
type Endpoints struct {
	Drive       string
	DriveUpload string
	Calendar    string
	Sheets      string
}

// DefaultEndpoints are Google's production APIs
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Drive:       "https://www.googleapis.com/drive/v3",
		DriveUpload: "https://www.googleapis.com/upload/drive/v3",
		Calendar:    "https://www.googleapis.com/calendar/v3",
		Sheets:      "https://sheets.googleapis.com/v4",
	}
}

// Service runs the sync operations
type Service struct {
	cfg       config.CloudConfig
	auth      *Auth
	store     *store.Store
	endpoints Endpoints
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	streaks   StreakSource
}

// New creates the sync service. The OAuth token lives in the store's KV.
func New(cfg config.CloudConfig, st *store.Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	if m == nil {
		m = metrics.Default()
	}
	return &Service{
		cfg:       cfg,
		auth:      NewAuth(cfg.Google, st, logger),
		store:     st,
		endpoints: DefaultEndpoints(),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Auth exposes the OAuth flow
func (s *Service) Auth() *Auth {
	return s.auth
}

// SetEndpoints overrides the API base URLs
func (s *Service) SetEndpoints(e Endpoints) {
	s.endpoints = e
}

// SetStreakSource sets where the Streaks sheet gets the streak from. Without
// one the streak is calculated from the store alone.
func (s *Service) SetStreakSource(src StreakSource) {
	s.streaks = src
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Interval returns the configured period of op, zero when op does not
// run on a timer
func (s *Service) Interval(op string) time.Duration {
	var sc config.SyncConfig
	switch op {
	case OpDriveUpload:
		sc = s.cfg.Drive
	case OpCalendar:
		sc = s.cfg.Calendar
	case OpSheets:
		sc = s.cfg.Sheets
	default:
		return 0
	}
	if sc.IntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(sc.IntervalMinutes) * time.Minute
}

// Enabled reports whether op is turned on in the config file or on the
// settings page
func (s *Service) Enabled(ctx context.Context, op string) bool {
	toggles, err := s.store.SyncSettings(ctx)
	if err != nil {
		s.logger.Warn("Failed to read sync settings", zap.Error(err))
	}
	switch op {
	case OpDriveUpload:
		return s.cfg.Drive.Enabled || toggles.Drive
	case OpCalendar:
		return s.cfg.Calendar.Enabled || toggles.Calendar
	case OpSheets:
		return s.cfg.Sheets.Enabled || toggles.Sheets
	}
	return false
}

// Scheduled runs op from a timer. Disabled or unauthenticated syncs are
// skipped without logging a failure.
func (s *Service) Scheduled(op string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !s.Enabled(ctx, op) || !s.auth.Authenticated() {
			return nil
		}
		switch op {
		case OpDriveUpload:
			return s.UploadDrive(ctx)
		case OpCalendar:
			return s.SyncCalendar(ctx)
		case OpSheets:
			return s.SyncSheets(ctx)
		}
		return nil
	}
}

// Status is the connection state shown on the settings page
type Status struct {
	Configured    bool
	Authenticated bool
	LastRuns      map[string]*store.SyncLog
	Recent        []store.SyncLog
}

// Status reports connection state and the latest successful runs
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Configured:    s.auth.Configured(),
		Authenticated: s.auth.Authenticated(),
		LastRuns:      make(map[string]*store.SyncLog),
	}
	for _, op := range []string{OpDriveUpload, OpDriveDownload, OpCalendar, OpSheets, OpSheetsImport} {
		last, err := s.store.LastSync(ctx, op)
		if err != nil {
			return nil, err
		}
		st.LastRuns[op] = last
	}
	recent, err := s.store.RecentSyncs(ctx, 10)
	if err != nil {
		return nil, err
	}
	st.Recent = recent
	return st, nil
}

// run authorizes, executes fn and records the outcome
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, c *http.Client) (string, error)) error {
	start := s.now()

	var details string
	client, err := s.auth.Client(ctx)
	if err == nil {
		details, err = fn(ctx, client)
	}

	status := store.SyncSuccess
	if err != nil {
		status = store.SyncFailed
		details = err.Error()
		s.logger.Error("Cloud sync failed", zap.String("operation", op), zap.Error(err))
	} else {
		s.logger.Info("Cloud sync completed",
			zap.String("operation", op),
			zap.String("details", details),
			zap.Duration("duration", s.now().Sub(start)),
		)
	}

	s.metrics.RecordSync(op, status)
	if lerr := s.store.LogSync(ctx, op, status, details); lerr != nil {
		s.logger.Warn("Failed to write sync log", zap.Error(lerr))
	}
	return err
}
