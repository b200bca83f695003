package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduleSpecs(t *testing.T) {
	r := NewRunner(zap.NewNop(), time.UTC)
	noop := func(context.Context) error { return nil }

	require.NoError(t, r.Every("reminders", 30*time.Second, noop))
	require.NoError(t, r.Daily("expiry", "09:05", noop))

	jobs := r.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "expiry", jobs[0].Name)
	assert.Equal(t, "5 9 * * *", jobs[0].Spec)
	assert.Equal(t, "reminders", jobs[1].Name)
	assert.Equal(t, "@every 30s", jobs[1].Spec)

	assert.Error(t, r.Every("fast", 10*time.Millisecond, noop))
	assert.Error(t, r.Daily("bad", "25:00", noop))

	// re-registering replaces the job
	require.NoError(t, r.Every("reminders", time.Minute, noop))
	jobs = r.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "@every 1m0s", jobs[1].Spec)

	r.Remove("expiry")
	assert.Len(t, r.Jobs(), 1)
}

func TestRunNow(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)

	var calls atomic.Int32
	require.NoError(t, r.Every("count", time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("logged, not returned")
	}))
	require.NoError(t, r.Every("panics", time.Hour, func(ctx context.Context) error {
		panic("boom")
	}))

	require.NoError(t, r.RunNow("count"))
	assert.Equal(t, int32(1), calls.Load())

	assert.NotPanics(t, func() { _ = r.RunNow("panics") })
	assert.Error(t, r.RunNow("missing"))
}

func TestStartStop(t *testing.T) {
	r := NewRunner(zap.NewNop(), time.UTC)

	done := make(chan struct{})
	require.NoError(t, r.Every("tick", time.Second, func(ctx context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}))

	require.NoError(t, r.Start())
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	r.Stop()
	assert.False(t, r.IsRunning())
	r.Stop()
}
