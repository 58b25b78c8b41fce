// Package flexpool hands out pooled connections through an ordered chain of
// acquiring strategies.
//
// A DataSource asks each strategy in turn. A strategy that times out passes
// the request to the next one; any other failure is returned at once. When
// every strategy timed out the caller gets errors.ErrCantAcquireConnection.
// Every call records the overall acquisition time and the number of
// concurrent acquisitions, and every lease records how long the connection
// was held.
package flexpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/concurrency"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/metrics"
	"github.com/go-i2p/flexpool/lib/pool"
	"github.com/go-i2p/flexpool/lib/strategy"
)

// Metric names recorded by a DataSource.
const (
	MetricOverallAcquireTime = "overall_connection_acquire_time"
	MetricConcurrentRequests = "concurrent_connection_requests"
	MetricLeaseTime          = "connection_lease_time"
)

// DefaultName is used when Config.Name is empty.
const DefaultName = "flexpool"

// Config configures a DataSource. The zero value is usable.
type Config struct {
	// Name identifies the data source in logs and events.
	Name string
	// Sink receives metrics. Defaults to metrics.Discard.
	Sink metrics.Sink
	// Gauge counts in-flight acquisitions. A fresh gauge is created when
	// nil; pass one to share it with other components.
	Gauge *concurrency.Gauge
	// AcquireTimeThreshold, when positive, emits
	// EventAcquireTimeThresholdExceeded for slower acquisitions.
	AcquireTimeThreshold time.Duration
	// LeaseTimeThreshold, when positive, emits
	// EventLeaseTimeThresholdExceeded for longer leases.
	LeaseTimeThreshold time.Duration
	// Listener receives events. Optional.
	Listener EventListener
}

// DataSource dispatches acquisitions across a strategy chain. It is safe for
// concurrent use.
type DataSource struct {
	name       string
	cfg        Config
	adapter    adapter.PoolAdapter
	strategies []strategy.Strategy
	gauge      *concurrency.Gauge

	overallTimer metrics.DurationRecorder
	concurrent   metrics.ValueRecorder
	leaseTimer   metrics.DurationRecorder

	closed    atomic.Bool
	acquired  atomic.Uint64
	exhausted atomic.Uint64
	failed    atomic.Uint64
	timeouts  atomic.Uint64
	leased    atomic.Int64
}

// New builds a DataSource over a with the strategies produced by factories,
// tried in the given order. At least one factory is required.
func New(a adapter.PoolAdapter, cfg Config, factories ...strategy.Factory) (*DataSource, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: pool adapter is required", apperrors.ErrConfiguration)
	}
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: at least one strategy is required", apperrors.ErrConfiguration)
	}
	if cfg.AcquireTimeThreshold < 0 || cfg.LeaseTimeThreshold < 0 {
		return nil, fmt.Errorf("%w: thresholds must not be negative", apperrors.ErrConfiguration)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.Discard
	}
	if cfg.Gauge == nil {
		cfg.Gauge = concurrency.NewGauge()
	}

	deps := strategy.Deps{Adapter: a, Gauge: cfg.Gauge, Sink: cfg.Sink}
	strategies := make([]strategy.Strategy, 0, len(factories))
	for i, f := range factories {
		if f == nil {
			return nil, fmt.Errorf("%w: strategy factory %d is nil", apperrors.ErrConfiguration, i)
		}
		s, err := f(deps)
		if err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
		strategies = append(strategies, s)
	}

	ds := &DataSource{
		name:         cfg.Name,
		cfg:          cfg,
		adapter:      a,
		strategies:   strategies,
		gauge:        cfg.Gauge,
		overallTimer: cfg.Sink.Timer(MetricOverallAcquireTime),
		concurrent:   cfg.Sink.Histogram(MetricConcurrentRequests),
		leaseTimer:   cfg.Sink.Timer(MetricLeaseTime),
	}

	log.WithField("name", ds.name).
		WithField("strategies", ds.StrategyNames()).
		WithField("poolSize", a.PoolSize()).
		Info("data source created")
	return ds, nil
}

// GetConnection acquires a connection without credentials.
func (ds *DataSource) GetConnection(ctx context.Context) (*Lease, error) {
	return ds.acquire(ctx, connection.NewRequestContext(nil))
}

// GetConnectionWithCredentials acquires a connection for creds.
func (ds *DataSource) GetConnectionWithCredentials(ctx context.Context, creds connection.Credentials) (*Lease, error) {
	return ds.acquire(ctx, connection.NewRequestContext(&creds))
}

// WithConnection acquires a connection, passes it to fn and releases it
// when fn returns. When fn's error matches errors.ErrBrokenConnection the
// connection is discarded instead. A release failure is joined to fn's
// error.
func (ds *DataSource) WithConnection(ctx context.Context, fn func(pool.Connection) error) (err error) {
	lease, err := ds.GetConnection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		end := lease.Release
		if apperrors.Is(err, apperrors.ErrBrokenConnection) {
			end = lease.Discard
		}
		if rerr := end(); rerr != nil {
			err = apperrors.Join(err, rerr)
		}
	}()
	return fn(lease.Conn())
}

func (ds *DataSource) acquire(ctx context.Context, req *connection.RequestContext) (*Lease, error) {
	ds.concurrent.Update(ds.gauge.Inc())
	start := time.Now()
	defer func() {
		ds.overallTimer.Update(time.Since(start))
		ds.gauge.Dec()
	}()

	if ds.closed.Load() {
		ds.failed.Add(1)
		return nil, fmt.Errorf("%s: %w", ds.name, apperrors.ErrClosed)
	}

	conn, s, err := ds.dispatch(ctx, req)
	elapsed := time.Since(start)
	ds.checkAcquireThreshold(req, elapsed)

	if err == nil {
		ds.acquired.Add(1)
		ds.leased.Add(1)
		log.WithField("request", req.ID()).
			WithField("strategy", s.Name()).
			WithField("elapsed", elapsed).
			Debug("connection acquired")
		return newLease(ds, conn, req, s.Name()), nil
	}

	if s == nil {
		ds.exhausted.Add(1)
		log.WithField("request", req.ID()).
			WithField("elapsed", elapsed).
			WithError(err).
			Debug("every strategy timed out")
		return nil, &apperrors.AcquireError{
			Kind:    apperrors.ErrCantAcquireConnection,
			Elapsed: elapsed,
			Err:     err,
		}
	}

	kind := apperrors.Classify(err)
	if kind == apperrors.ErrCantAcquireConnection {
		ds.exhausted.Add(1)
	} else {
		ds.failed.Add(1)
	}
	log.WithField("request", req.ID()).
		WithField("strategy", s.Name()).
		WithError(err).
		Debug("acquisition failed")
	return nil, &apperrors.AcquireError{
		Kind:     kind,
		Strategy: s.Name(),
		Elapsed:  elapsed,
		Err:      err,
	}
}

// dispatch runs the chain. On success it returns the connection and the
// strategy that produced it. A non-recoverable failure is returned with its
// strategy; exhaustion of the chain is returned with a nil strategy and the
// last timeout.
func (ds *DataSource) dispatch(ctx context.Context, req *connection.RequestContext) (pool.Connection, strategy.Strategy, error) {
	var lastTimeout error
	for _, s := range ds.strategies {
		conn, err := s.Acquire(ctx, req)
		if err == nil {
			return conn, s, nil
		}
		if !apperrors.IsRecoverable(err) {
			return nil, s, err
		}
		lastTimeout = err
		ds.timeouts.Add(1)
		ds.emit(Event{
			Type:      EventAcquireTimeout,
			RequestID: req.ID(),
			Strategy:  s.Name(),
			Elapsed:   req.Age(),
			Err:       err,
		})
	}
	return nil, nil, lastTimeout
}

func (ds *DataSource) checkAcquireThreshold(req *connection.RequestContext, elapsed time.Duration) {
	threshold := ds.cfg.AcquireTimeThreshold
	if threshold <= 0 || elapsed <= threshold {
		return
	}
	log.WithField("request", req.ID()).
		WithField("elapsed", elapsed).
		WithField("threshold", threshold).
		Warn("connection acquire time threshold exceeded")
	ds.emit(Event{
		Type:      EventAcquireTimeThresholdExceeded,
		RequestID: req.ID(),
		Elapsed:   elapsed,
		Threshold: threshold,
	})
}

func (ds *DataSource) emit(ev Event) {
	if ds.cfg.Listener == nil {
		return
	}
	ev.DataSource = ds.name
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ds.cfg.Listener(ev)
}

// Close stops the data source. Later acquisitions fail with
// errors.ErrClosed; outstanding leases can still be released. The adapter
// and its pool are not closed.
func (ds *DataSource) Close() error {
	if !ds.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", ds.name, apperrors.ErrClosed)
	}
	log.WithField("name", ds.name).
		WithField("leased", ds.leased.Load()).
		Info("data source closed")
	return nil
}

// Name returns the data source name.
func (ds *DataSource) Name() string { return ds.name }

// Adapter returns the pool adapter.
func (ds *DataSource) Adapter() adapter.PoolAdapter { return ds.adapter }

// Gauge returns the in-flight acquisition gauge.
func (ds *DataSource) Gauge() *concurrency.Gauge { return ds.gauge }

// StrategyNames returns the chain, in order.
func (ds *DataSource) StrategyNames() []string {
	names := make([]string, len(ds.strategies))
	for i, s := range ds.strategies {
		names[i] = s.Name()
	}
	return names
}

// Stats is a snapshot of a DataSource.
type Stats struct {
	Name        string
	Strategies  []string
	PoolSize    int
	MaxPoolSize int
	// InFlight is the number of acquisitions in progress.
	InFlight int64
	// Leased is the number of connections handed out and not yet released.
	Leased int64
	// Acquired counts successful acquisitions.
	Acquired uint64
	// Exhausted counts acquisitions that ended in ErrCantAcquireConnection.
	Exhausted uint64
	// Failed counts other failed acquisitions.
	Failed uint64
	// StrategyTimeouts counts strategies that timed out and passed the
	// request on.
	StrategyTimeouts uint64
	Closed           bool
}

// Stats returns a snapshot of the data source.
func (ds *DataSource) Stats() Stats {
	return Stats{
		Name:             ds.name,
		Strategies:       ds.StrategyNames(),
		PoolSize:         ds.adapter.PoolSize(),
		MaxPoolSize:      ds.adapter.MaxPoolSize(),
		InFlight:         ds.gauge.Value(),
		Leased:           ds.leased.Load(),
		Acquired:         ds.acquired.Load(),
		Exhausted:        ds.exhausted.Load(),
		Failed:           ds.failed.Load(),
		StrategyTimeouts: ds.timeouts.Load(),
		Closed:           ds.closed.Load(),
	}
}
