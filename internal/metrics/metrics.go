package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medminder"

// Metrics holds the application collectors on a private registry
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeSockets   prometheus.Gauge

	dosesTaken        prometheus.Counter
	notificationsSent *prometheus.CounterVec
	notificationsFail *prometheus.CounterVec

	externalCalls    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec

	dispatcherTicks prometheus.Counter
	remindersFired  prometheus.Counter
	syncRuns        *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "active_sockets",
			Help:      "Open web push connections.",
		}),

		dosesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_taken_total",
			Help:      "Doses logged.",
		}),

		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notifications delivered per channel.",
		}, []string{"channel"}),

		notificationsFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failed_total",
			Help:      "Notification deliveries that failed per channel.",
		}, []string{"channel"}),

		externalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "calls_total",
			Help:      "Calls to external services by outcome.",
		}, []string{"service", "outcome"}),

		externalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "External service latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),

		dispatcherTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "ticks_total",
			Help:      "Reminder dispatcher ticks.",
		}),

		remindersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "reminders_fired_total",
			Help:      "Due schedules claimed and announced.",
		}),

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cloud",
			Name:      "sync_runs_total",
			Help:      "Cloud sync runs by operation and status.",
		}, []string{"operation", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since process start.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
		m.requestsTotal,
		m.requestDuration,
		m.activeSockets,
		m.dosesTaken,
		m.notificationsSent,
		m.notificationsFail,
		m.externalCalls,
		m.externalDuration,
		m.dispatcherTicks,
		m.remindersFired,
		m.syncRuns,
	)
	return m
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordDose() {
	m.dosesTaken.Inc()
}

// RecordNotification counts one delivery attempt on a channel
func (m *Metrics) RecordNotification(channel string, err error) {
	if err != nil {
		m.notificationsFail.WithLabelValues(channel).Inc()
		return
	}
	m.notificationsSent.WithLabelValues(channel).Inc()
}

// RecordExternal counts a call to service and observes its latency
func (m *Metrics) RecordExternal(service string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.externalCalls.WithLabelValues(service, outcome).Inc()
	m.externalDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) RecordTick(fired int) {
	m.dispatcherTicks.Inc()
	m.remindersFired.Add(float64(fired))
}

func (m *Metrics) RecordSync(operation, status string) {
	m.syncRuns.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncrementActiveSockets() {
	m.activeSockets.Inc()
}

func (m *Metrics) DecrementActiveSockets() {
	m.activeSockets.Dec()
}

func RecordRequest(method, route string, status int, d time.Duration) {
	Default().RecordRequest(method, route, status, d)
}

func RecordDose() {
	Default().RecordDose()
}

func RecordNotification(channel string, err error) {
	Default().RecordNotification(channel, err)
}

func RecordExternal(service string, err error, d time.Duration) {
	Default().RecordExternal(service, err, d)
}

func RecordTick(fired int) {
	Default().RecordTick(fired)
}

func RecordSync(operation, status string) {
	Default().RecordSync(operation, status)
}

func Handler() http.Handler {
	return Default().Handler()
}
