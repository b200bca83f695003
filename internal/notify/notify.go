// Package notify delivers reminders over the configured channels.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmsas95/medminder/internal/metrics"
	"go.uber.org/zap"
)

// Kind classifies a notification
type Kind string

const (
	KindReminder Kind = "reminder"
	KindExpiry   Kind = "expiry"
	KindTest     Kind = "test"
)

// Notification is a message for every enabled channel
type Notification struct {
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	MedicineID uint      `json:"medicine_id,omitempty"`
	ScheduleID uint      `json:"schedule_id,omitempty"`
	At         time.Time `json:"at"`
}

// Channel is one delivery mechanism
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Report lists the outcome of one fan-out
type Report struct {
	Delivered []string
	Failed    map[string]error
}

// OK reports whether every attempted channel delivered
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Fanout sends a notification to each enabled channel in turn. A failing
// channel is logged and counted; the others still run.
type Fanout struct {
	mu       sync.RWMutex
	channels []Channel
	enabled  map[string]bool
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewFanout creates a fan-out over channels. Every channel starts enabled.
func NewFanout(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger, channels ...Channel) *Fanout {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.Default()
	}
	f := &Fanout{
		timeout: timeout,
		metrics: m,
		logger:  logger,
		enabled: make(map[string]bool),
	}
	for _, ch := range channels {
		f.Add(ch)
	}
	return f
}

// Add registers a channel, enabled
func (f *Fanout) Add(ch Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
	f.enabled[ch.Name()] = true
}

// SetEnabled applies channel toggles. Channels missing from toggles keep
// their current state.
func (f *Fanout) SetEnabled(toggles map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, on := range toggles {
		if _, ok := f.enabled[name]; ok {
			f.enabled[name] = on
		}
	}
}

// SetTimeout changes the per-channel timeout
func (f *Fanout) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.timeout = d
	f.mu.Unlock()
}

// Channels returns the names of the registered channels and their state
func (f *Fanout) Channels() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]bool, len(f.enabled))
	for k, v := range f.enabled {
		out[k] = v
	}
	return out
}

func (f *Fanout) active() ([]Channel, time.Duration) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Channel
	for _, ch := range f.channels {
		if f.enabled[ch.Name()] {
			out = append(out, ch)
		}
	}
	return out, f.timeout
}

// Send delivers n to every enabled channel
func (f *Fanout) Send(ctx context.Context, n Notification) Report {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	channels, timeout := f.active()
	report := Report{Failed: make(map[string]error)}

	for _, ch := range channels {
		err := f.sendOne(ctx, ch, n, timeout)
		f.metrics.RecordNotification(ch.Name(), err)
		if err != nil {
			report.Failed[ch.Name()] = err
			f.logger.Warn("Notification failed",
				zap.String("channel", ch.Name()),
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
			continue
		}
		report.Delivered = append(report.Delivered, ch.Name())
	}

	f.logger.Debug("Notification sent",
		zap.String("title", n.Title),
		zap.Strings("delivered", report.Delivered),
		zap.Int("failed", len(report.Failed)),
	)
	return report
}

func (f *Fanout) sendOne(ctx context.Context, ch Channel, n Notification, timeout time.Duration) (err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()
	return ch.Send(ctx, n)
}
