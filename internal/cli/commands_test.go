package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gmsas95/medminder/internal/app"
	"github.com/gmsas95/medminder/internal/assistant"
	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gmsas95/medminder/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	keyring.MockInit()

	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)
	cfg.Storage.BadgerPath = store.InMemory
	cfg.Storage.DatabaseURL = ""
	cfg.Assistant.APIKey = ""

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	a := app.New(cfg, st, zap.NewNop(), "test")
	y, m, d := time.Now().Date()
	now := time.Date(y, m, d, 7, 0, 0, 0, time.Local)
	a.Tracker.SetClock(func() time.Time { return now })
	return a
}

func addAspirin(t *testing.T, a *app.App) *store.Medicine {
	t.Helper()
	med, err := a.Tracker.AddMedicine(context.Background(), tracker.MedicineInput{
		Name: "Aspirin", Dosage: "100mg", DosesRemaining: "10",
		Times: []string{"08:00"}, Days: []string{"-1"},
	})
	require.NoError(t, err)
	return med
}

func TestTodayAndTake(t *testing.T) {
	a := newApp(t)
	addAspirin(t, a)
	ctx := context.Background()

	var buf bytes.Buffer
	require.Equal(t, 0, Run(ctx, a, "today", nil, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "Aspirin 100mg")
	assert.Contains(t, buf.String(), "08:00")
	assert.Contains(t, buf.String(), "(10 left)")
	assert.NotContains(t, buf.String(), "✓")

	buf.Reset()
	require.Equal(t, 0, Run(ctx, a, "take", []string{"aspirin"}, PlainOutput(&buf)))
	assert.Equal(t, "✓ Marked Aspirin as taken (9 dose(s) remaining)\n", buf.String())

	buf.Reset()
	require.Equal(t, 0, Run(ctx, a, "today", nil, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "08:00 ✓")

	buf.Reset()
	require.Equal(t, 0, Run(ctx, a, "streak", nil, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "Current streak: 1 day(s)")
	assert.Contains(t, buf.String(), "Today's doses are logged.")
}

func TestTakeUnknownMedicine(t *testing.T) {
	a := newApp(t)

	var buf bytes.Buffer
	assert.Equal(t, 1, Run(context.Background(), a, "take", []string{"42"}, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "Error:")

	buf.Reset()
	assert.Equal(t, 1, Run(context.Background(), a, "take", nil, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "usage: medminder take")
}

func TestMedicines(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.Equal(t, 0, Run(ctx, a, "medicines", nil, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "No medicines yet")

	addAspirin(t, a)
	_, err := a.Tracker.AddMedicine(ctx, tracker.MedicineInput{Name: "Cough Syrup", DosesRemaining: "2"})
	require.NoError(t, err)

	buf.Reset()
	require.Equal(t, 0, Run(ctx, a, "medicines", nil, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "Aspirin 100mg")
	assert.Contains(t, buf.String(), "08:00 (Every day)")
	assert.Contains(t, buf.String(), "Cough Syrup 2 left")
}

func TestExportImport(t *testing.T) {
	src := newApp(t)
	addAspirin(t, src)
	ctx := context.Background()
	_, err := src.Tracker.TakeByName(ctx, "Aspirin")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.yaml")
	var buf bytes.Buffer
	require.Equal(t, 0, Run(ctx, src, "export", []string{path}, PlainOutput(&buf)))
	assert.Equal(t, "Exported 1 medicine(s) and 1 dose(s) to "+path+"\n", buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Aspirin")

	dst := newApp(t)
	buf.Reset()
	require.Equal(t, 0, Run(ctx, dst, "import", []string{path}, PlainOutput(&buf)))
	med, err := dst.Store.FindMedicineByName(ctx, "Aspirin")
	require.NoError(t, err)
	require.NotNil(t, med.DosesRemaining)
	assert.Equal(t, 9, *med.DosesRemaining)
	n, err := dst.Store.CountDoseEvents(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExportToStdout(t *testing.T) {
	a := newApp(t)
	addAspirin(t, a)

	var buf bytes.Buffer
	require.Equal(t, 0, Run(context.Background(), a, "export", []string{"--format", "json"}, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), `"name": "Aspirin"`)

	buf.Reset()
	assert.Equal(t, 1, Run(context.Background(), a, "export", []string{"--format", "xml"}, PlainOutput(&buf)))
}

func TestAnalyzeNotConfigured(t *testing.T) {
	a := newApp(t)
	med := addAspirin(t, a)

	var buf bytes.Buffer
	assert.Equal(t, 1, Run(context.Background(), a, "analyze", []string{"1"}, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "AI assistant is not configured")
	assert.NotZero(t, med.ID)

	buf.Reset()
	assert.Equal(t, 1, Run(context.Background(), a, "analyze", []string{"one"}, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "invalid medicine id")
}

func TestAnalysisMarkdown(t *testing.T) {
	md := AnalysisMarkdown(&store.Medicine{Name: "Aspirin", Dosage: "100mg"}, &assistant.Analysis{
		UsageAdvice: "Take with food.",
		SideEffects: []string{"Nausea", "Heartburn"},
	})

	assert.Contains(t, md, "# Aspirin 100mg\n")
	assert.Contains(t, md, "## How to take it\n\nTake with food.")
	assert.Contains(t, md, "- Nausea\n- Heartburn\n")
	assert.NotContains(t, md, "## Interactions")
	assert.NotContains(t, md, "## About")
}

func TestDoctor(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	var buf bytes.Buffer
	issues := HandleDoctorCommand("", dir, PlainOutput(&buf))
	out := buf.String()
	assert.Equal(t, 0, issues, out)
	assert.Contains(t, out, "✅ Config: Defaults (no config file)")
	assert.Contains(t, out, "✅ Database: sqlite")
	assert.Contains(t, out, "Telegram: ❌ disabled")
	assert.Contains(t, out, "✅ All checks passed!")
}

func TestDoctorReportsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medminder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ui": {"theme": "purple"}}`), 0o600))

	var buf bytes.Buffer
	assert.Equal(t, 1, HandleDoctorCommand(path, dir, PlainOutput(&buf)))
	assert.Contains(t, buf.String(), "❌ Config")
}

func TestChannelStatus(t *testing.T) {
	tests := []struct {
		enabled  bool
		expected string
	}{
		{true, "✅ enabled"},
		{false, "❌ disabled"},
	}

	for _, tt := range tests {
		result := channelStatus(tt.enabled)
		if result != tt.expected {
			t.Errorf("channelStatus(%v) = %q, want %q", tt.enabled, result, tt.expected)
		}
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", "1234...Dsaw"},
		{"short", "***"},
		{"", "***"},
		{"1234567", "***"},
	}

	for _, tt := range tests {
		result := maskToken(tt.token)
		if result != tt.expected {
			t.Errorf("maskToken(%q) = %q, want %q", tt.token, result, tt.expected)
		}
	}
}
