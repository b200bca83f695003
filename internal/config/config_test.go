package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "medminder.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "badger"), cfg.Storage.BadgerPath)
	assert.Equal(t, 30*time.Second, cfg.Notifications.PollInterval())
	assert.Equal(t, 3, cfg.Notifications.LowStockThreshold)
	assert.Equal(t, "09:00", cfg.Notifications.ExpiryCheckTime)
	assert.Equal(t, 5000, cfg.Pharmacy.SearchRadius)
	assert.Equal(t, 10, cfg.Pharmacy.MaxResults)
	assert.Equal(t, "https://api.x.ai/v1", cfg.Assistant.BaseURL)
	assert.Equal(t, 15, cfg.Cloud.Drive.IntervalMinutes)
	assert.Equal(t, "light", cfg.UI.Theme)
	assert.True(t, cfg.Notifications.Desktop.Enabled)
	assert.False(t, cfg.Notifications.Email.Enabled)
	assert.NotEmpty(t, cfg.Security.JWTSecret)
	assert.NotEmpty(t, cfg.Security.SessionSecret)
	assert.Empty(t, cfg.File)
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medminder.json")

	content := `{
  "server": {"port": 8088},
  "notifications": {
    "desktop": {"enabled": false},
    "email": {"enabled": true, "sender": "me@example.com", "recipient": "you@example.com"}
  },
  "scanner": {"camera_index": 2},
  "pharmacy": {"search_radius": 1500, "max_results": 4},
  "cloud": {"drive": {"enabled": true, "interval_minutes": 5}},
  "ui": {"theme": "dark"},
  "logging": {"level": "debug", "max_backups": 7}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.False(t, cfg.Notifications.Desktop.Enabled)
	assert.True(t, cfg.Notifications.Email.Enabled)
	assert.Equal(t, "you@example.com", cfg.Notifications.Email.Recipient)
	assert.Equal(t, 2, cfg.Scanner.CameraIndex)
	assert.Equal(t, 1500, cfg.Pharmacy.SearchRadius)
	assert.True(t, cfg.Cloud.Drive.Enabled)
	assert.Equal(t, 5, cfg.Cloud.Drive.IntervalMinutes)
	assert.Equal(t, "dark", cfg.UI.Theme)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Logging.MaxBackups)

	enabled := cfg.Notifications.EnabledChannels()
	assert.True(t, enabled["email"])
	assert.False(t, enabled["desktop"])
}

func TestLoad_EnvAliases(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("DATABASE_URL", "postgres://meds@localhost/meds")
	t.Setenv("XAI_API_KEY", "xai-test")
	t.Setenv("MEDMINDER_SERVER_PORT", "9090")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres://meds@localhost/meds", cfg.Storage.DatabaseURL)
	assert.Equal(t, "xai-test", cfg.Assistant.APIKey)
	assert.True(t, cfg.AssistantConfigured())
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad theme", `{"ui": {"theme": "neon"}}`},
		{"bad expiry time", `{"notifications": {"expiry_check_time": "9am"}}`},
		{"telegram without token", `{"notifications": {"telegram": {"enabled": true}}}`},
		{"zero radius", `{"pharmacy": {"search_radius": 0}}`},
		{"slow poll", `{"notifications": {"poll_interval_seconds": 600}}`},
		{"malformed json", `{"server": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "medminder.json"), []byte(tt.content), 0644))

			_, err := Load("", dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medminder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"notifications": {"email": {"enabled": false}}}`), 0644))

	var (
		mu  sync.Mutex
		got *Config
	)
	err := Watch(path, dir, zap.NewNop(), func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		got = cfg
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"notifications": {"email": {"enabled": true}}}`), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Notifications.Email.Enabled
	}, 5*time.Second, 50*time.Millisecond)
}
