package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/metrics"
	"github.com/go-i2p/flexpool/lib/pool"
)

// Retry interval policies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryConfig configures the Retry strategy.
type RetryConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int
	// Interval is the wait before the first retry.
	Interval time.Duration
	// Backoff is BackoffFixed (the default) or BackoffExponential.
	Backoff string
	// MaxInterval caps exponential waits. Zero leaves them uncapped.
	MaxInterval time.Duration
}

func (c RetryConfig) validate() error {
	switch {
	case c.Timeout < 0:
		return configError(KindRetry, "timeout must not be negative")
	case c.RetryAttempts < 0:
		return configError(KindRetry, "retry attempts must not be negative")
	case c.Interval < 0:
		return configError(KindRetry, "retry interval must not be negative")
	case c.MaxInterval < 0:
		return configError(KindRetry, "max retry interval must not be negative")
	case c.Backoff == BackoffExponential && c.Interval == 0:
		return configError(KindRetry, "exponential backoff needs a retry interval")
	}
	switch c.Backoff {
	case "", BackoffFixed, BackoffExponential:
		return nil
	default:
		return configError(KindRetry, "unknown backoff %q", c.Backoff)
	}
}

// Retry waits for the pool, retrying timed out attempts on an interval.
type Retry struct {
	adapter  adapter.PoolAdapter
	cfg      RetryConfig
	attempts metrics.ValueRecorder
}

// NewRetry returns a Factory for Retry.
func NewRetry(cfg RetryConfig) Factory {
	return func(d Deps) (Strategy, error) {
		if d.Adapter == nil {
			return nil, configError(KindRetry, "pool adapter is required")
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = DefaultTimeout
		}
		if cfg.Backoff == "" {
			cfg.Backoff = BackoffFixed
		}
		return &Retry{
			adapter:  d.Adapter,
			cfg:      cfg,
			attempts: d.sink().Histogram(MetricRetryAttempts),
		}, nil
	}
}

// Name implements Strategy.
func (r *Retry) Name() string { return KindRetry }

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig { return r.cfg }

func (r *Retry) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if r.cfg.Backoff == BackoffExponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = r.cfg.Interval
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		if r.cfg.MaxInterval > 0 {
			eb.MaxInterval = r.cfg.MaxInterval
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(r.cfg.Interval)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.RetryAttempts)), ctx)
}

// Acquire implements Strategy. It fails with a timeout once every attempt
// timed out, and stops early on any other error.
func (r *Retry) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	var n int
	conn, err := backoff.RetryNotifyWithData[pool.Connection](func() (pool.Connection, error) {
		n++
		conn, err := acquireOnce(ctx, r.adapter, req, r.cfg.Timeout)
		if err != nil && !apperrors.IsRecoverable(err) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		log.WithField("request", req.ID()).
			WithField("attempt", n).
			WithField("wait", wait).
			Debug("acquire timed out, retrying")
	})
	r.attempts.Update(int64(n))

	if err == nil {
		return conn, nil
	}
	if !apperrors.IsRecoverable(err) {
		return nil, err
	}
	return nil, fmt.Errorf("%s gave up after %d attempts: %w", KindRetry, n, err)
}
