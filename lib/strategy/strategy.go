// Package strategy implements the connection acquiring strategies that react
// to pool exhaustion.
//
// The set is closed: Retry waits and tries again, IncrementPoolOnTimeout grows
// the pool into its overflow allowance, and Throttle rejects outright. Each is
// built from a Factory once the data source knows its adapter, concurrency
// gauge and metrics sink.
//
// A strategy returns an error matching errors.ErrAcquireTimeout when it gave
// up waiting and a later strategy may still succeed. Anything else, including
// the caller's context error, ends the chain.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/concurrency"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/metrics"
	"github.com/go-i2p/flexpool/lib/pool"
)

// Strategy kinds, as used in configuration.
const (
	KindRetry                  = "retry"
	KindIncrementPoolOnTimeout = "increment_pool_on_timeout"
	KindThrottle               = "throttle"
)

// Metric names recorded by the strategies.
const (
	MetricRetryAttempts    = "retry_attempts"
	MetricMaxPoolSize      = "max_pool_size"
	MetricOverflowPoolSize = "overflow_pool_size"
)

// DefaultTimeout is the per-attempt wait used by Retry and
// IncrementPoolOnTimeout when none is configured.
const DefaultTimeout = time.Second

// Strategy acquires a connection in response to exhaustion.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error)
}

// Deps are the collaborators a strategy is built with.
type Deps struct {
	Adapter adapter.PoolAdapter
	Gauge   concurrency.Reader
	Sink    metrics.Sink
}

func (d Deps) sink() metrics.Sink {
	if d.Sink == nil {
		return metrics.Discard
	}
	return d.Sink
}

// Factory builds a strategy for a data source.
type Factory func(Deps) (Strategy, error)

func configError(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", apperrors.ErrConfiguration, kind, fmt.Sprintf(format, args...))
}

// acquireOnce makes a single adapter call bounded by timeout. A zero timeout
// asks only for a connection that is available right away. Expiry of the
// caller's own context is reported as the context error so the chain stops.
func acquireOnce(ctx context.Context, a adapter.PoolAdapter, req *connection.RequestContext, timeout time.Duration) (pool.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := a.Acquire(attemptCtx, req)
	if err == nil {
		return conn, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.Timeout(err)
	}
	return nil, err
}
