package strategy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/pool"
)

// ThrottleConfig configures the Throttle strategy.
type ThrottleConfig struct {
	// Timeout bounds the single attempt. Zero takes only a connection that
	// is available right away.
	Timeout time.Duration
	// Rate, when positive, limits admitted requests per second. Requests
	// over the rate are rejected before the pool is asked.
	Rate float64
	// Burst is the number of requests admitted at once. Defaults to Rate,
	// and at least 1.
	Burst int
}

func (c ThrottleConfig) validate() error {
	switch {
	case c.Timeout < 0:
		return configError(KindThrottle, "timeout must not be negative")
	case c.Rate < 0:
		return configError(KindThrottle, "rate must not be negative")
	case c.Burst < 0:
		return configError(KindThrottle, "burst must not be negative")
	}
	return nil
}

// Throttle rejects requests the pool cannot serve promptly instead of
// letting them queue.
type Throttle struct {
	adapter adapter.PoolAdapter
	cfg     ThrottleConfig
	limiter *rate.Limiter
}

// NewThrottle returns a Factory for Throttle.
func NewThrottle(cfg ThrottleConfig) Factory {
	return func(d Deps) (Strategy, error) {
		if d.Adapter == nil {
			return nil, configError(KindThrottle, "pool adapter is required")
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		t := &Throttle{adapter: d.Adapter, cfg: cfg}
		if cfg.Rate > 0 {
			if t.cfg.Burst == 0 {
				t.cfg.Burst = max(int(cfg.Rate), 1)
			}
			t.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), t.cfg.Burst)
		}
		return t, nil
	}
}

// Name implements Strategy.
func (t *Throttle) Name() string { return KindThrottle }

// Config returns the effective configuration.
func (t *Throttle) Config() ThrottleConfig { return t.cfg }

// Acquire implements Strategy. Exhaustion is reported as
// errors.ErrCantAcquireConnection, which ends the chain.
func (t *Throttle) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	if t.limiter != nil && !t.limiter.Allow() {
		log.WithField("request", req.ID()).Debug("request over admission rate")
		return nil, fmt.Errorf("%w: %s: admission rate %.1f/s exceeded", apperrors.ErrCantAcquireConnection, KindThrottle, t.cfg.Rate)
	}

	conn, err := acquireOnce(ctx, t.adapter, req, t.cfg.Timeout)
	if err == nil || !apperrors.IsRecoverable(err) {
		return conn, err
	}

	log.WithField("request", req.ID()).Debug("pool exhausted, throttling request")
	return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrCantAcquireConnection, KindThrottle, err)
}
