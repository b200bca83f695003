package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, "test.db"),
		BadgerPath: InMemory,
	}}
	st, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func intPtr(n int) *int { return &n }

func daily(t *testing.T, hhmm string) Schedule {
	c, err := schedule.ParseClock(hhmm)
	require.NoError(t, err)
	return NewSchedule(c, schedule.Daily())
}

func seedMedicine(t *testing.T, st *Store, name string, remaining *int, times ...string) *Medicine {
	t.Helper()
	med := &Medicine{Name: name, Dosage: "1 tablet", DosesRemaining: remaining}
	for _, hhmm := range times {
		med.Schedules = append(med.Schedules, daily(t, hhmm))
	}
	require.NoError(t, st.CreateMedicine(context.Background(), med))
	return med
}

func TestCreateAndGetMedicine(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "  Aspirin ", intPtr(10), "20:00", "08:00")
	assert.NotZero(t, med.ID)

	got, err := st.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aspirin", got.Name)
	require.Len(t, got.Schedules, 2)
	assert.Equal(t, "08:00", got.Schedules[0].TimeOfDay)
	assert.Equal(t, "20:00", got.Schedules[1].TimeOfDay)
	assert.Equal(t, "daily", got.Schedules[0].Repeat)
}

func TestCreateMedicineValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.CreateMedicine(ctx, &Medicine{Name: "   "})
	assert.ErrorIs(t, err, apperrors.ErrNameRequired)

	err = st.CreateMedicine(ctx, &Medicine{Name: "X", DosesRemaining: intPtr(-1)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuantity)

	bad := &Medicine{Name: "Y", Schedules: []Schedule{{TimeOfDay: "25:00"}}}
	err = st.CreateMedicine(ctx, bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTime)

	n, err := st.CountMedicines(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetMedicineNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetMedicine(context.Background(), 42)
	assert.ErrorIs(t, err, apperrors.ErrMedicineNotFound)
}

func TestDeleteMedicineRemovesSchedules(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "Aspirin", nil, "08:00", "20:00")
	_, _, err := st.TakeDose(ctx, med.ID, time.Now())
	require.NoError(t, err)

	require.NoError(t, st.DeleteMedicine(ctx, med.ID))

	n, err := st.CountSchedules(ctx, med.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	doses, err := st.CountDoseEvents(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doses)

	assert.ErrorIs(t, st.DeleteMedicine(ctx, med.ID), apperrors.ErrMedicineNotFound)
}

func TestUpdateMedicinePreservesMatchingSchedules(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "Aspirin", nil, "08:00", "20:00")
	got, err := st.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	morning := got.Schedules[0]

	fired := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	ok, err := st.ClaimOccurrence(ctx, morning.ID, fired)
	require.NoError(t, err)
	require.True(t, ok)

	got.Name = "Aspirin Forte"
	got.Schedules = []Schedule{daily(t, "08:00"), daily(t, "12:30")}
	require.NoError(t, st.UpdateMedicine(ctx, got))

	updated, err := st.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aspirin Forte", updated.Name)
	require.Len(t, updated.Schedules, 2)
	assert.Equal(t, morning.ID, updated.Schedules[0].ID)
	require.NotNil(t, updated.Schedules[0].LastFiredAt)
	assert.True(t, fired.Equal(*updated.Schedules[0].LastFiredAt))
	assert.Equal(t, "12:30", updated.Schedules[1].TimeOfDay)
	assert.Nil(t, updated.Schedules[1].LastFiredAt)
}

func TestUpdateMedicineKeepsScheduleStart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	sched := daily(t, "08:00")
	sched.CreatedAt = start
	med := &Medicine{Name: "Aspirin", Schedules: []Schedule{sched}}
	require.NoError(t, st.CreateMedicine(ctx, med))

	med.Schedules = []Schedule{daily(t, "09:00"), daily(t, "21:00")}
	require.NoError(t, st.UpdateMedicine(ctx, med))

	got, err := st.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	require.Len(t, got.Schedules, 2)
	for _, sc := range got.Schedules {
		assert.True(t, start.Equal(sc.CreatedAt), "%s starts %s", sc.TimeOfDay, sc.CreatedAt)
	}

	fresh := seedMedicine(t, st, "Vitamin D", nil)
	fresh.Schedules = []Schedule{daily(t, "08:00")}
	require.NoError(t, st.UpdateMedicine(ctx, fresh))
	got, err = st.GetMedicine(ctx, fresh.ID)
	require.NoError(t, err)
	require.Len(t, got.Schedules, 1)
	assert.WithinDuration(t, time.Now(), got.Schedules[0].CreatedAt, time.Minute)
}

func TestRecordLongestStreak(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	best, err := st.RecordLongestStreak(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, best)

	best, err = st.RecordLongestStreak(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, best)

	best, err = st.RecordLongestStreak(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, best)
}

func TestTakeDoseDecrementsAndClamps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "Aspirin", intPtr(1), "08:00")

	got, event, err := st.TakeDose(ctx, med.ID, time.Now())
	require.NoError(t, err)
	assert.NotZero(t, event.ID)
	require.NotNil(t, got.DosesRemaining)
	assert.Equal(t, 0, *got.DosesRemaining)

	got, _, err = st.TakeDose(ctx, med.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, *got.DosesRemaining)

	n, err := st.CountDoseEvents(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTakeDoseUntracked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "Vitamin D", nil)
	got, _, err := st.TakeDose(ctx, med.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got.DosesRemaining)

	_, _, err = st.TakeDose(ctx, 999, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrMedicineNotFound)
}

func TestDoseCountsOn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seedMedicine(t, st, "A", nil, "08:00")
	b := seedMedicine(t, st, "B", nil, "08:00")
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.Local)

	for _, at := range []time.Time{day.Add(8 * time.Hour), day.Add(20 * time.Hour), day.AddDate(0, 0, -1).Add(9 * time.Hour)} {
		_, _, err := st.TakeDose(ctx, a.ID, at)
		require.NoError(t, err)
	}
	_, _, err := st.TakeDose(ctx, b.ID, day.Add(12*time.Hour))
	require.NoError(t, err)

	counts, err := st.DoseCountsOn(ctx, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{a.ID: 2, b.ID: 1}, counts)
}

func TestClaimOccurrenceOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "Aspirin", nil, "08:00")
	got, err := st.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	id := got.Schedules[0].ID

	at := time.Date(2026, 10, 16, 8, 0, 0, 0, time.Local)
	ok, err := st.ClaimOccurrence(ctx, id, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ClaimOccurrence(ctx, id, at)
	require.NoError(t, err)
	assert.False(t, ok, "same occurrence must not be claimed twice")

	ok, err = st.ClaimOccurrence(ctx, id, at.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiringAndLowStock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	soon := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateMedicine(ctx, &Medicine{Name: "Soon", ExpiryDate: &soon, DosesRemaining: intPtr(2)}))
	require.NoError(t, st.CreateMedicine(ctx, &Medicine{Name: "Later", ExpiryDate: &later, DosesRemaining: intPtr(30)}))
	require.NoError(t, st.CreateMedicine(ctx, &Medicine{Name: "Untracked"}))

	expiring, err := st.ExpiringMedicines(ctx, now, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "Soon", expiring[0].Name)

	low, err := st.LowStockMedicines(ctx, 3)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Soon", low[0].Name)
}

func TestFindByNameAndBarcode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateMedicine(ctx, &Medicine{Name: "Ibuprofen", Barcode: "4006381333931"}))

	med, err := st.FindMedicineByName(ctx, "ibuprofen")
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen", med.Name)

	seedMedicine(t, st, "Aspirin", nil, "08:00")
	med, err = st.FindMedicineByName(ctx, "ASPIRIN")
	require.NoError(t, err)
	require.Len(t, med.Schedules, 1)
	assert.Equal(t, "08:00", med.Schedules[0].TimeOfDay)

	_, err = st.FindMedicineByName(ctx, "nothing")
	assert.ErrorIs(t, err, apperrors.ErrMedicineNotFound)

	med, err = st.GetMedicineByBarcode(ctx, "4006381333931")
	require.NoError(t, err)
	require.NotNil(t, med)

	med, err = st.GetMedicineByBarcode(ctx, "0000")
	require.NoError(t, err)
	assert.Nil(t, med)
}

func TestSettings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	es, err := st.EmailSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, es.Recipient)

	require.NoError(t, st.SaveSetting(ctx, SettingEmail, EmailSettings{Sender: "a@x.org", Recipient: "b@x.org"}))
	require.NoError(t, st.SaveSetting(ctx, SettingEmail, EmailSettings{Sender: "a@x.org", Recipient: "c@x.org"}))
	es, err = st.EmailSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c@x.org", es.Recipient)

	added, err := st.AddTelegramChat(ctx, 42)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = st.AddTelegramChat(ctx, 42)
	require.NoError(t, err)
	assert.False(t, added)
	_, err = st.AddTelegramChat(ctx, 7)
	require.NoError(t, err)

	chats, err := st.TelegramChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 7}, chats)

	require.NoError(t, st.RemoveTelegramChat(ctx, 42))
	chats, err = st.TelegramChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, chats)
}

func TestSyncLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	last, err := st.LastSync(ctx, "drive_backup")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, st.LogSync(ctx, "drive_backup", SyncSuccess, "uploaded"))
	require.NoError(t, st.LogSync(ctx, "drive_backup", SyncFailed, "timeout"))

	last, err = st.LastSync(ctx, "drive_backup")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "uploaded", last.Details)

	recent, err := st.RecentSyncs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestKVAndSessions(t *testing.T) {
	st := newTestStore(t)

	v, err := st.GetKV("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, st.SetKV("geo:berlin", []byte(`{"lat":52.5}`), time.Hour))
	v, err = st.GetKV("geo:berlin")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":52.5}`, string(v))
	require.NoError(t, st.DeleteKV("geo:berlin"))
	v, err = st.GetKV("geo:berlin")
	require.NoError(t, err)
	assert.Nil(t, v)

	sessions := st.Sessions()
	require.NoError(t, sessions.Set("abc", []byte("flash"), time.Minute))
	v, err = sessions.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("flash"), v)

	require.NoError(t, sessions.Reset())
	v, err = sessions.Get("abc")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSnapshotAndRestore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	med := seedMedicine(t, st, "Aspirin", intPtr(3), "08:00")
	_, _, err := st.TakeDose(ctx, med.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.SaveSetting(ctx, SettingTelegramChats, []int64{42}))

	ds, err := st.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, ds.Medicines, 1)
	require.Len(t, ds.DoseEvents, 1)

	seedMedicine(t, st, "Ibuprofen", nil, "12:00")
	require.NoError(t, st.Restore(ctx, ds))

	meds, err := st.ListMedicines(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, med.ID, meds[0].ID)
	assert.Equal(t, 2, *meds[0].DosesRemaining)
	require.Len(t, meds[0].Schedules, 1)
	assert.Equal(t, "08:00", meds[0].Schedules[0].TimeOfDay)

	n, err := st.CountDoseEvents(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	chats, err := st.TelegramChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, chats)

	// new rows continue after the restored ids
	next := seedMedicine(t, st, "Vitamin D", nil)
	assert.Greater(t, next.ID, med.ID)
}
