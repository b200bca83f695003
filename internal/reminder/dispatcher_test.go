package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Send(_ context.Context, n notify.Notification) notify.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return notify.Report{Delivered: []string{"test"}}
}

type fakeComposer struct {
	text string
	err  error
}

func (f fakeComposer) IsConfigured() bool { return true }

func (f fakeComposer) ReminderMessage(context.Context, string, string, time.Time, bool) (string, error) {
	return f.text, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(&config.Config{Storage: config.StorageConfig{
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, "test.db"),
		BadgerPath: store.InMemory,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		PollIntervalSeconds: 30,
		LowStockThreshold:   3,
		ExpiryWarningDays:   7,
	}
}

func addMedicine(t *testing.T, st *store.Store, med *store.Medicine, times ...string) *store.Medicine {
	t.Helper()
	for _, hhmm := range times {
		c, err := schedule.ParseClock(hhmm)
		require.NoError(t, err)
		med.Schedules = append(med.Schedules, store.NewSchedule(c, schedule.Daily()))
	}
	require.NoError(t, st.CreateMedicine(context.Background(), med))
	return med
}

// at returns today's date at the given local time; schedules created by the
// test apply from today onwards.
func at(hour, min, sec int) time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, min, sec, 0, time.Local)
}

func intPtr(n int) *int { return &n }

func newDispatcher(st *store.Store, rec *recorder, now *time.Time) *Dispatcher {
	d := New(st, rec, testConfig(), metrics.New(), zap.NewNop())
	d.SetClock(func() time.Time { return *now })
	return d
}

func TestTickFiresOncePerOccurrence(t *testing.T) {
	st := newTestStore(t)
	rec := &recorder{}
	addMedicine(t, st, &store.Medicine{Name: "Aspirin", Dosage: "100mg", DosesRemaining: intPtr(10)}, "08:00")

	now := at(7, 59, 50)
	d := newDispatcher(st, rec, &now)
	ctx := context.Background()

	n, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = at(8, 0, 20)
	n, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	now = at(8, 0, 50)
	n, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, notify.KindReminder, got.Kind)
	assert.Equal(t, "Medicine Reminder: Aspirin", got.Title)
	assert.Equal(t, "Time to take Aspirin - 100mg", got.Body)
	assert.True(t, got.At.Equal(at(8, 0, 0)))
}

func TestRestartDoesNotRefire(t *testing.T) {
	st := newTestStore(t)
	addMedicine(t, st, &store.Medicine{Name: "Aspirin"}, "08:00")
	ctx := context.Background()

	now := at(8, 0, 10)
	first, second := &recorder{}, &recorder{}

	_, err := newDispatcher(st, first, &now).Tick(ctx)
	require.NoError(t, err)

	// a fresh dispatcher looks back one poll interval and finds 08:00 again
	now = at(8, 0, 30)
	_, err = newDispatcher(st, second, &now).Tick(ctx)
	require.NoError(t, err)

	assert.Len(t, first.sent, 1)
	assert.Empty(t, second.sent)
}

func TestCatchUpIsBounded(t *testing.T) {
	st := newTestStore(t)
	rec := &recorder{}
	addMedicine(t, st, &store.Medicine{Name: "Early"}, "08:00")
	addMedicine(t, st, &store.Medicine{Name: "Recent"}, "08:08")

	now := at(7, 0, 0)
	d := newDispatcher(st, rec, &now)
	ctx := context.Background()
	_, err := d.Tick(ctx)
	require.NoError(t, err)

	// paused for an hour: only the last five minutes are considered
	now = at(8, 10, 0)
	n, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "Medicine Reminder: Recent", rec.sent[0].Title)
}

func TestExpiredMedicineIsSkipped(t *testing.T) {
	st := newTestStore(t)
	rec := &recorder{}
	yesterday := time.Now().AddDate(0, 0, -1)
	expiry := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC)
	addMedicine(t, st, &store.Medicine{Name: "Old", ExpiryDate: &expiry}, "08:00")

	now := at(8, 0, 5)
	n, err := newDispatcher(st, rec, &now).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.sent)
}

func TestLowStockWarning(t *testing.T) {
	st := newTestStore(t)
	rec := &recorder{}
	addMedicine(t, st, &store.Medicine{Name: "Vitamin D", Dosage: "1 tablet", DosesRemaining: intPtr(2)}, "09:30")

	now := at(9, 30, 0)
	_, err := newDispatcher(st, rec, &now).Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "Time to take Vitamin D - 1 tablet (Only 2 dose(s) remaining!)", rec.sent[0].Body)
}

func TestComposer(t *testing.T) {
	st := newTestStore(t)
	addMedicine(t, st, &store.Medicine{Name: "A", Dosage: "5mg"}, "10:00")
	addMedicine(t, st, &store.Medicine{Name: "B", Dosage: "5mg"}, "11:00")
	ctx := context.Background()

	cfg := testConfig()
	cfg.AIMessages = true

	rec := &recorder{}
	now := at(10, 0, 0)
	d := newDispatcher(st, rec, &now)
	d.SetConfig(cfg)
	d.SetComposer(fakeComposer{text: "  Hey! Your 5mg of A is due.  "})
	_, err := d.Tick(ctx)
	require.NoError(t, err)

	d.SetComposer(fakeComposer{err: errors.New("upstream down")})
	now = at(11, 0, 0)
	_, err = d.Tick(ctx)
	require.NoError(t, err)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, "Hey! Your 5mg of A is due.", rec.sent[0].Body)
	assert.Equal(t, "Time to take B - 5mg", rec.sent[1].Body)
}

func TestCheckExpiring(t *testing.T) {
	st := newTestStore(t)
	rec := &recorder{}
	today := time.Now()
	date := func(days int) *time.Time {
		d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		return &d
	}
	addMedicine(t, st, &store.Medicine{Name: "Alpha", ExpiryDate: date(2)})
	addMedicine(t, st, &store.Medicine{Name: "Beta", ExpiryDate: date(2)})
	addMedicine(t, st, &store.Medicine{Name: "Gamma", ExpiryDate: date(5)})
	addMedicine(t, st, &store.Medicine{Name: "Later", ExpiryDate: date(30)})

	now := time.Now()
	n, err := newDispatcher(st, rec, &now).CheckExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, "Medicine Expiry Warning", rec.sent[0].Title)
	assert.Equal(t, "Medicines expiring on "+date(2).Format("2006-01-02")+": Alpha, Beta", rec.sent[0].Body)
	assert.Equal(t, "Medicines expiring on "+date(5).Format("2006-01-02")+": Gamma", rec.sent[1].Body)
}

func TestOccurrencesAcrossMidnight(t *testing.T) {
	c, err := schedule.ParseClock("00:01")
	require.NoError(t, err)
	rule := schedule.Rule{Clock: c, Recurrence: schedule.Daily()}

	from := time.Date(2026, 10, 16, 23, 58, 0, 0, time.UTC)
	to := time.Date(2026, 10, 17, 0, 2, 0, 0, time.UTC)
	got := occurrences(rule, from, to)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 1, 0, 0, time.UTC), got[0])
}
