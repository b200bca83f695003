// Package cron implements a job scheduler for recurring tasks
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gmsas95/medminder/internal/schedule"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

// JobInfo describes a registered job
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Prev time.Time `json:"prev"`
	Next time.Time `json:"next"`
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Runner manages scheduled job execution
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	entries map[string]entry
	mu      sync.RWMutex
}

// NewRunner creates a new cron runner. Jobs never overlap with their own
// previous run and a panicking job is recovered and logged.
func NewRunner(logger *zap.Logger, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	adapter := cronLogger{logger.Sugar()}

	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]entry),
	}
}

// Every schedules fn at a fixed interval, replacing any job with the same name
func (r *Runner) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval < time.Second {
		return fmt.Errorf("job %s: interval %s is too short", name, interval)
	}
	return r.schedule(name, "@every "+interval.String(), fn)
}

// Daily schedules fn once a day at the given "HH:MM"
func (r *Runner) Daily(name, at string, fn JobFunc) error {
	c, err := schedule.ParseClock(at)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return r.schedule(name, fmt.Sprintf("%d %d * * *", c.Minute, c.Hour), fn)
}

func (r *Runner) schedule(name, spec string, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[name]; ok {
		r.cron.Remove(old.id)
		delete(r.entries, name)
	}

	id, err := r.cron.AddFunc(spec, func() { r.execute(name, fn) })
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	r.entries[name] = entry{id: id, spec: spec}
	r.logger.Debug("Job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Remove unschedules a job
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		r.cron.Remove(e.id)
		delete(r.entries, name)
	}
}

// RunNow executes a registered job immediately, outside the schedule
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	r.cron.Entry(e.id).WrappedJob.Run()
	return nil
}

func (r *Runner) execute(name string, fn JobFunc) {
	r.wg.Add(1)
	defer r.wg.Done()

	start := time.Now()
	if err := fn(r.ctx); err != nil {
		r.logger.Error("Job failed",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Job completed",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)),
	)
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("jobs", len(r.entries)))
	return nil
}

// Stop stops the cron runner and waits for running jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.wg.Wait()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Jobs lists the registered jobs by name
func (r *Runner) Jobs() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]JobInfo, 0, len(r.entries))
	for name, e := range r.entries {
		ce := r.cron.Entry(e.id)
		jobs = append(jobs, JobInfo{Name: name, Spec: e.spec, Prev: ce.Prev, Next: ce.Next})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
