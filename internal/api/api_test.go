package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gmsas95/medminder/internal/assistant"
	"github.com/gmsas95/medminder/internal/cloud"
	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/pharmacy"
	"github.com/gmsas95/medminder/internal/scanner"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gmsas95/medminder/internal/tracker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type fakePharmacies struct {
	results []pharmacy.Pharmacy
	err     error
	address string
	radius  int
}

func (f *fakePharmacies) Nearby(_ context.Context, lat, lon float64, radius int) ([]pharmacy.Pharmacy, error) {
	f.radius = radius
	return f.results, f.err
}

func (f *fakePharmacies) SearchByAddress(_ context.Context, address string, radius int) (*pharmacy.Coordinates, []pharmacy.Pharmacy, error) {
	f.address, f.radius = address, radius
	if f.err != nil {
		return nil, nil, f.err
	}
	return &pharmacy.Coordinates{Lat: 52.52, Lon: 13.405}, f.results, nil
}

type fakeAdvisor struct {
	configured bool
	err        error
	asked      string
	mime       string
}

func (f *fakeAdvisor) IsConfigured() bool { return f.configured }

func (f *fakeAdvisor) Analyze(_ context.Context, name, dosage, notes string) (*assistant.Analysis, error) {
	f.asked = name + " " + dosage
	if f.err != nil {
		return nil, f.err
	}
	return &assistant.Analysis{UsageAdvice: "Take with water", SideEffects: []string{"Nausea"}}, nil
}

func (f *fakeAdvisor) FoodInteractions(_ context.Context, name string) ([]assistant.FoodInteraction, error) {
	f.asked = name
	return []assistant.FoodInteraction{{Food: "Alcohol", Description: "Stomach bleeding"}}, f.err
}

func (f *fakeAdvisor) Alternatives(_ context.Context, name, reason string) (*assistant.Alternatives, error) {
	f.asked = name + " " + reason
	return &assistant.Alternatives{Items: []assistant.Alternative{{Name: "Paracetamol"}}}, f.err
}

func (f *fakeAdvisor) IdentifyImage(_ context.Context, image []byte, mimeType string) (*assistant.Identification, error) {
	f.mime = mimeType
	return &assistant.Identification{Name: "Aspirin", Confidence: "high"}, f.err
}

type fixture struct {
	t       *testing.T
	srv     *Server
	cfg     *config.Config
	tracker *tracker.Tracker
	store   *store.Store
	metrics *metrics.Metrics
	cloud   *cloud.Service
	channel *recordingChannel
	hub     *notify.Hub
	pharm   *fakePharmacies
	advisor *fakeAdvisor
	now     time.Time
	cookies map[string]*http.Cookie
}

func setup(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	cfg, err := config.Load("", dir)
	require.NoError(t, err)
	cfg.Storage.BadgerPath = store.InMemory
	cfg.Storage.DatabaseURL = ""
	cfg.Security.AdminPassword = ""
	for _, fn := range tweak {
		fn(cfg)
	}

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	y, m, d := time.Now().Date()
	now := time.Date(y, m, d, 7, 0, 0, 0, time.Local)

	logger := zap.NewNop()
	reg := metrics.New()
	tr := tracker.New(st, cfg.Notifications, reg, logger)
	tr.SetClock(func() time.Time { return now })

	fx := &fixture{
		t:       t,
		cfg:     cfg,
		tracker: tr,
		store:   st,
		metrics: reg,
		cloud:   cloud.New(cfg.Cloud, st, reg, logger),
		channel: &recordingChannel{name: "recorder"},
		hub:     notify.NewHub(),
		pharm:   &fakePharmacies{},
		advisor: &fakeAdvisor{configured: true},
		now:     now,
		cookies: map[string]*http.Cookie{},
	}
	fx.srv = New(cfg, Deps{
		Tracker:   tr,
		Scanner:   scanner.New(cfg.Scanner.MaxUploadMB, logger),
		Pharmacy:  fx.pharm,
		Assistant: fx.advisor,
		Cloud:     fx.cloud,
		Notifier:  notify.NewFanout(time.Second, reg, logger, fx.channel, fx.hub),
		Hub:       fx.hub,
		Metrics:   reg,
		Version:   "test",
	}, logger)
	return fx
}

// do sends req, carrying the session cookie like a browser would
func (fx *fixture) do(req *http.Request) *http.Response {
	fx.t.Helper()
	for _, c := range fx.cookies {
		req.AddCookie(c)
	}
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(fx.t, err)
	for _, c := range resp.Cookies() {
		fx.cookies[c.Name] = c
	}
	return resp
}

func (fx *fixture) get(path string) *http.Response {
	return fx.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (fx *fixture) postForm(path string, form url.Values) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return fx.do(req)
}

// page fetches path and parses the rendered HTML
func (fx *fixture) page(path string) *goquery.Document {
	fx.t.Helper()
	resp := fx.get(path)
	defer resp.Body.Close()
	require.Equal(fx.t, http.StatusOK, resp.StatusCode, path)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(fx.t, err)
	return doc
}

func (fx *fixture) addMedicine(in tracker.MedicineInput) *store.Medicine {
	fx.t.Helper()
	med, err := fx.tracker.AddMedicine(context.Background(), in)
	require.NoError(fx.t, err)
	return med
}

func flashText(doc *goquery.Document, category string) string {
	return strings.TrimSpace(doc.Find(".flash.alert-" + category).Text())
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, location, resp.Header.Get("Location"))
}

func TestAspirinEndToEnd(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	resp := fx.postForm("/medicine/add", url.Values{
		"name":            {"Aspirin"},
		"dosage":          {"100mg"},
		"doses_remaining": {"10"},
		"time[]":          {"08:00"},
		"day[]":           {"-1"},
	})
	assertRedirect(t, resp, "/medicines")

	med, err := fx.store.FindMedicineByName(ctx, "aspirin")
	require.NoError(t, err)
	require.Len(t, med.Schedules, 1)
	assert.Equal(t, "08:00", med.Schedules[0].TimeOfDay)
	assert.Equal(t, "daily", med.Schedules[0].Repeat)

	doc := fx.page("/medicines")
	assert.Equal(t, "Medicine added successfully", flashText(doc, "success"))
	assert.Contains(t, doc.Find("#medicines .medicine").Text(), "08:00 (Every day)")

	doc = fx.page("/")
	item := doc.Find("#today .medicine")
	require.Equal(t, 1, item.Length())
	assert.Equal(t, "Aspirin", item.Find(".medicine-name").Text())
	assert.Equal(t, "08:00", strings.TrimSpace(item.Find(".time-badge").Text()))
	assert.Equal(t, 0, item.Find(".time-badge.taken").Length())
	assert.Contains(t, item.Find(".remaining").Text(), "10 doses remaining")

	resp = fx.postForm(fmt.Sprintf("/medicine/take/%d", med.ID), nil)
	assertRedirect(t, resp, "/")

	n, err := fx.store.CountDoseEvents(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	med, err = fx.store.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	require.NotNil(t, med.DosesRemaining)
	assert.Equal(t, 9, *med.DosesRemaining)

	doc = fx.page("/")
	assert.Equal(t, "Marked Aspirin as taken", flashText(doc, "success"))
	item = doc.Find("#today .medicine")
	assert.Equal(t, 1, item.Find(".time-badge.taken").Length())
	assert.Contains(t, item.Find(".remaining").Text(), "9 doses remaining")
	_, disabled := item.Find("button").Attr("disabled")
	assert.True(t, disabled)
	assert.Equal(t, "1", doc.Find("#streak .current").Text())

	// the flash is shown once
	doc = fx.page("/")
	assert.Empty(t, flashText(doc, "success"))
}

func TestAddMedicineValidation(t *testing.T) {
	fx := setup(t)

	resp := fx.postForm("/medicine/add", url.Values{"name": {"  "}})
	assertRedirect(t, resp, "/medicine/add")
	doc := fx.page("/medicine/add")
	assert.Equal(t, "Medicine name is required", flashText(doc, "danger"))

	resp = fx.postForm("/medicine/add", url.Values{"name": {"Aspirin"}, "time[]": {"25:00"}})
	assertRedirect(t, resp, "/medicine/add")
	doc = fx.page("/medicine/add")
	assert.Equal(t, "Invalid time of day", flashText(doc, "danger"))

	resp = fx.postForm("/medicine/add", url.Values{"name": {"Aspirin"}, "doses_remaining": {"-2"}})
	assertRedirect(t, resp, "/medicine/add")

	n, err := fx.store.CountMedicines(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEditAndDeleteMedicine(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	med := fx.addMedicine(tracker.MedicineInput{
		Name: "Vitamin D", Dosage: "1000IU", Barcode: "4006381333931",
		Times: []string{"08:00", "20:00"}, Days: []string{"-1", "4"},
	})

	doc := fx.page(fmt.Sprintf("/medicine/edit/%d", med.ID))
	name, _ := doc.Find("input#name").Attr("value")
	assert.Equal(t, "Vitamin D", name)
	slots := doc.Find("#slots .slot")
	require.Equal(t, 2, slots.Length())
	second, _ := slots.Eq(1).Find(`input[name="time[]"]`).Attr("value")
	assert.Equal(t, "20:00", second)
	day, _ := slots.Eq(1).Find("option[selected]").Attr("value")
	assert.Equal(t, "4", day)
	assert.Equal(t, "Friday", slots.Eq(1).Find("option[selected]").Text())

	resp := fx.postForm(fmt.Sprintf("/medicine/edit/%d", med.ID), url.Values{
		"name": {"Vitamin D3"}, "dosage": {"2000IU"},
		"time[]": {"09:00"}, "day[]": {"-1"},
	})
	assertRedirect(t, resp, "/medicines")
	updated, err := fx.store.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vitamin D3", updated.Name)
	require.Len(t, updated.Schedules, 1)
	assert.Equal(t, "09:00", updated.Schedules[0].TimeOfDay)
	doc = fx.page("/medicines")
	assert.Equal(t, "Medicine updated successfully", flashText(doc, "success"))

	resp = fx.postForm(fmt.Sprintf("/medicine/edit/%d", med.ID), url.Values{"name": {""}})
	assertRedirect(t, resp, fmt.Sprintf("/medicine/edit/%d", med.ID))
	doc = fx.page(fmt.Sprintf("/medicine/edit/%d", med.ID))
	assert.Equal(t, "Medicine name is required", flashText(doc, "danger"))
	assert.Empty(t, flashText(doc, "success"))

	resp = fx.postForm(fmt.Sprintf("/medicine/delete/%d", med.ID), nil)
	assertRedirect(t, resp, "/medicines")
	_, err = fx.store.GetMedicine(ctx, med.ID)
	assert.Error(t, err)
	doc = fx.page("/medicines")
	assert.Equal(t, "Medicine deleted successfully", flashText(doc, "success"))

	resp = fx.get(fmt.Sprintf("/medicine/edit/%d", med.ID))
	assertRedirect(t, resp, "/medicines")
	doc = fx.page("/medicines")
	assert.Equal(t, "Medicine not found", flashText(doc, "danger"))

	resp = fx.postForm("/medicine/take/999", nil)
	assertRedirect(t, resp, "/")
}

func TestSchedulePage(t *testing.T) {
	fx := setup(t)
	today := fx.now
	weekday := (int(today.Weekday()) + 6) % 7
	fx.addMedicine(tracker.MedicineInput{
		Name: "Weekly", Times: []string{"10:00"}, Days: []string{fmt.Sprint(weekday)},
	})

	day := today.Format("2006-01-02")
	doc := fx.page("/schedule?date=" + day)
	assert.Equal(t, 7, doc.Find("#week .nav-link").Length())
	active, _ := doc.Find("#week .nav-link.active").Attr("href")
	assert.Equal(t, "/schedule?date="+day, active)
	assert.Equal(t, 1, doc.Find("#week .nav-link.today").Length())
	prev, _ := doc.Find("#prev-week").Attr("href")
	assert.Equal(t, "/schedule?date="+today.AddDate(0, 0, -7).Format("2006-01-02"), prev)
	next, _ := doc.Find("#next-week").Attr("href")
	assert.Equal(t, "/schedule?date="+today.AddDate(0, 0, 7).Format("2006-01-02"), next)
	assert.Equal(t, "Weekly", doc.Find("#plan .medicine-name").Text())

	doc = fx.page("/schedule?date=" + today.AddDate(0, 0, 1).Format("2006-01-02"))
	assert.Equal(t, 0, doc.Find("#plan .medicine").Length())

	doc = fx.page("/schedule?date=not-a-date")
	assert.Equal(t, "Invalid date, showing today", flashText(doc, "warning"))
}

func TestErrorPages(t *testing.T) {
	fx := setup(t)

	resp := fx.get("/no-such-page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "404", doc.Find("#error h1").Text())

	resp = fx.get("/api/medicines/42")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"Medicine not found"}`, string(body))
}

func TestStaticAndMetrics(t *testing.T) {
	fx := setup(t)

	resp := fx.get("/static/style.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fx.page("/")
	resp = fx.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `medminder_http_requests_total{method="GET",route="/",status="200"} 1`)

	count, err := testutil.GatherAndCount(fx.metrics.Registry(), "medminder_http_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 2)
}
