package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/concurrency"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/metrics"
	"github.com/go-i2p/flexpool/lib/pool"
)

// IncrementPoolConfig configures the IncrementPoolOnTimeout strategy.
type IncrementPoolConfig struct {
	// Timeout bounds each of the two attempts.
	Timeout time.Duration
	// IncrementSize is how much the pool grows per step. Default 1.
	IncrementSize int
	// MaxOverflowSize is how far the pool may grow beyond the adapter's
	// MaxPoolSize.
	MaxOverflowSize int
}

func (c IncrementPoolConfig) validate() error {
	switch {
	case c.Timeout < 0:
		return configError(KindIncrementPoolOnTimeout, "timeout must not be negative")
	case c.IncrementSize < 0:
		return configError(KindIncrementPoolOnTimeout, "increment size must not be negative")
	case c.MaxOverflowSize <= 0:
		return configError(KindIncrementPoolOnTimeout, "max overflow size must be positive")
	}
	return nil
}

// IncrementPoolOnTimeout grows the pool into its overflow allowance when an
// acquisition times out while more callers are waiting than the pool holds.
// It never shrinks the pool.
type IncrementPoolOnTimeout struct {
	adapter  adapter.PoolAdapter
	gauge    concurrency.Reader
	cfg      IncrementPoolConfig
	maxSize  metrics.ValueRecorder
	overflow metrics.ValueRecorder

	// mu serializes growth decisions.
	mu sync.Mutex
}

// NewIncrementPoolOnTimeout returns a Factory for IncrementPoolOnTimeout.
func NewIncrementPoolOnTimeout(cfg IncrementPoolConfig) Factory {
	return func(d Deps) (Strategy, error) {
		if d.Adapter == nil {
			return nil, configError(KindIncrementPoolOnTimeout, "pool adapter is required")
		}
		if d.Gauge == nil {
			return nil, configError(KindIncrementPoolOnTimeout, "concurrency gauge is required")
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = DefaultTimeout
		}
		if cfg.IncrementSize == 0 {
			cfg.IncrementSize = 1
		}
		sink := d.sink()
		return &IncrementPoolOnTimeout{
			adapter:  d.Adapter,
			gauge:    d.Gauge,
			cfg:      cfg,
			maxSize:  sink.Histogram(MetricMaxPoolSize),
			overflow: sink.Histogram(MetricOverflowPoolSize),
		}, nil
	}
}

// Name implements Strategy.
func (s *IncrementPoolOnTimeout) Name() string { return KindIncrementPoolOnTimeout }

// Config returns the effective configuration.
func (s *IncrementPoolOnTimeout) Config() IncrementPoolConfig { return s.cfg }

// Limit returns the largest size the strategy will grow the pool to.
func (s *IncrementPoolOnTimeout) Limit() int {
	return s.adapter.MaxPoolSize() + s.cfg.MaxOverflowSize
}

// Acquire implements Strategy.
func (s *IncrementPoolOnTimeout) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	expected := s.adapter.PoolSize()

	conn, err := acquireOnce(ctx, s.adapter, req, s.cfg.Timeout)
	if err == nil || !apperrors.IsRecoverable(err) {
		return conn, err
	}

	if !s.grow(expected) {
		return nil, fmt.Errorf("%s: pool size %d, limit %d: %w", KindIncrementPoolOnTimeout, s.adapter.PoolSize(), s.Limit(), err)
	}

	log.WithField("request", req.ID()).Debug("retrying acquire after pool growth")
	return acquireOnce(ctx, s.adapter, req, s.cfg.Timeout)
}

// grow makes room for another acquisition. expected is the pool size the
// caller saw before it started waiting; if the pool is already larger,
// another caller grew it and this one just retries. It reports whether a
// retry is worthwhile.
func (s *IncrementPoolOnTimeout) grow(expected int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.adapter.PoolSize()
	if current > expected {
		return true
	}

	limit := s.Limit()
	if current >= limit {
		log.WithField("size", current).Debug("pool already at overflow limit")
		return false
	}
	if waiting := s.gauge.Value(); waiting <= int64(current) {
		log.WithField("size", current).WithField("waiting", waiting).Debug("pool growth would not help")
		return false
	}

	next := min(current+s.cfg.IncrementSize, limit)
	s.adapter.SetPoolSize(next)
	s.maxSize.Update(int64(next))
	s.overflow.Update(int64(max(next-s.adapter.MaxPoolSize(), 0)))

	log.WithField("from", current).
		WithField("to", next).
		WithField("limit", limit).
		Info("grew pool on acquire timeout")
	return true
}
