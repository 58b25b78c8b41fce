package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/metrics"
)

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	a := newFakeAdapter(1)
	reg := metrics.NewRegistry("")
	s := build(t, NewRetry(RetryConfig{Timeout: 50 * time.Millisecond, RetryAttempts: 3}), Deps{Adapter: a, Sink: reg})

	conn, err := s.Acquire(context.Background(), connection.NewRequestContext(nil))
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.Equal(t, 1.0, histogramSum(t, reg, MetricRetryAttempts))
}

func TestRetrySingleAttemptTimesOutAfterTimeout(t *testing.T) {
	a := newFakeAdapter(0)
	s := build(t, NewRetry(RetryConfig{Timeout: 100 * time.Millisecond}), Deps{Adapter: a})

	start := time.Now()
	_, err := s.Acquire(context.Background(), connection.NewRequestContext(nil))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
	assert.True(t, apperrors.IsRecoverable(err))
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.EqualValues(t, 1, a.calls.Load())
}

func TestRetryExhaustsAttempts(t *testing.T) {
	a := newFakeAdapter(0)
	reg := metrics.NewRegistry("")
	s := build(t, NewRetry(RetryConfig{
		Timeout:       20 * time.Millisecond,
		RetryAttempts: 2,
		Interval:      10 * time.Millisecond,
	}), Deps{Adapter: a, Sink: reg})

	start := time.Now()
	_, err := s.Acquire(context.Background(), connection.NewRequestContext(nil))
	elapsed := time.Since(start)

	assert.True(t, apperrors.IsTimeout(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, a.calls.Load())
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Equal(t, 3.0, histogramSum(t, reg, MetricRetryAttempts))
}

func TestRetrySucceedsAfterRelease(t *testing.T) {
	a := newFakeAdapter(1)
	held, err := a.Acquire(context.Background(), nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		a.Release(held)
	}()

	s := build(t, NewRetry(RetryConfig{
		Timeout:       15 * time.Millisecond,
		RetryAttempts: 5,
		Interval:      5 * time.Millisecond,
	}), Deps{Adapter: a})

	conn, err := s.Acquire(context.Background(), connection.NewRequestContext(nil))
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.GreaterOrEqual(t, a.calls.Load(), int32(2))
}

func TestRetryStopsOnFatalError(t *testing.T) {
	a := newFakeAdapter(1)
	a.err = apperrors.Fatal(errBroken)
	s := build(t, NewRetry(RetryConfig{Timeout: 10 * time.Millisecond, RetryAttempts: 5}), Deps{Adapter: a})

	_, err := s.Acquire(context.Background(), connection.NewRequestContext(nil))
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, errBroken)
	assert.EqualValues(t, 1, a.calls.Load())
}

func TestRetryStopsWhenCallerCancels(t *testing.T) {
	a := newFakeAdapter(0)
	s := build(t, NewRetry(RetryConfig{
		Timeout:       10 * time.Millisecond,
		RetryAttempts: 10,
		Interval:      time.Second,
	}), Deps{Adapter: a})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := s.Acquire(ctx, connection.NewRequestContext(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsRecoverable(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryExponentialBackoff(t *testing.T) {
	a := newFakeAdapter(0)
	s := build(t, NewRetry(RetryConfig{
		Timeout:       5 * time.Millisecond,
		RetryAttempts: 3,
		Interval:      10 * time.Millisecond,
		Backoff:       BackoffExponential,
		MaxInterval:   20 * time.Millisecond,
	}), Deps{Adapter: a})

	start := time.Now()
	_, err := s.Acquire(context.Background(), connection.NewRequestContext(nil))
	assert.True(t, apperrors.IsTimeout(err))
	assert.EqualValues(t, 4, a.calls.Load())
	assert.Less(t, time.Since(start), time.Second, "waits are capped by MaxInterval")
}

func TestRetryExponentialWaitsDoubleUpToMaxInterval(t *testing.T) {
	s := build(t, NewRetry(RetryConfig{
		Timeout:       5 * time.Millisecond,
		RetryAttempts: 3,
		Interval:      10 * time.Millisecond,
		Backoff:       BackoffExponential,
		MaxInterval:   20 * time.Millisecond,
	}), Deps{Adapter: newFakeAdapter(0)})

	for i := 0; i < 3; i++ {
		b := s.(*Retry).backOff(context.Background())
		assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
		assert.Equal(t, backoff.Stop, b.NextBackOff(), "attempts are exhausted")
	}
}

func TestRetryFixedWaits(t *testing.T) {
	s := build(t, NewRetry(RetryConfig{
		Timeout:       5 * time.Millisecond,
		RetryAttempts: 2,
		Interval:      15 * time.Millisecond,
	}), Deps{Adapter: newFakeAdapter(0)})

	b := s.(*Retry).backOff(context.Background())
	assert.Equal(t, 15*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 15*time.Millisecond, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryDefaults(t *testing.T) {
	s := build(t, NewRetry(RetryConfig{}), Deps{Adapter: newFakeAdapter(1)})
	cfg := s.(*Retry).Config()
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, BackoffFixed, cfg.Backoff)
}

func TestNewRetryValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  RetryConfig
	}{
		{"negative timeout", RetryConfig{Timeout: -1}},
		{"negative attempts", RetryConfig{RetryAttempts: -1}},
		{"negative interval", RetryConfig{Interval: -time.Second}},
		{"negative max interval", RetryConfig{MaxInterval: -time.Second}},
		{"unknown backoff", RetryConfig{Backoff: "fibonacci"}},
		{"exponential without interval", RetryConfig{Backoff: BackoffExponential}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetry(tt.cfg)(Deps{Adapter: newFakeAdapter(1)})
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}
