package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/adapter/sqladapter"
	"github.com/go-i2p/flexpool/lib/config"
	"github.com/go-i2p/flexpool/lib/flexpool"
	"github.com/go-i2p/flexpool/lib/pool"
	"github.com/go-i2p/flexpool/lib/resilience"
)

// poolStatsInterval is how often pool gauges are refreshed during a run.
const poolStatsInterval = time.Second

type runOptions struct {
	workers     int
	requests    int
	hold        time.Duration
	metricsAddr string
}

func newRunCmd(configPath *string) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive concurrent load through the strategy chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if opts.metricsAddr != "" {
				cfg.Metrics.Listen = opts.metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLoad(ctx, cmd, cfg, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 16, "concurrent callers")
	cmd.Flags().IntVarP(&opts.requests, "requests", "n", 1000, "total acquisitions")
	cmd.Flags().DurationVar(&opts.hold, "hold", 5*time.Millisecond, "how long each caller holds its connection")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides config)")
	return cmd
}

// simConn stands in for an expensive connection when no database is
// configured.
type simConn struct {
	id     int64
	closed atomic.Bool
}

func (c *simConn) Close() error {
	c.closed.Store(true)
	return nil
}

// target is the pool a data source draws from.
type target struct {
	adapter adapter.PoolAdapter
	probe   resilience.Probe
	stats   func() pool.Stats
	close   func() error
}

func openTarget(cfg *config.Config) (*target, error) {
	if cfg.Database.Driver == config.DriverNone {
		var ids atomic.Int64
		p := pool.New(func(ctx context.Context) (pool.Connection, error) {
			return &simConn{id: ids.Add(1)}, nil
		}, cfg.PoolSettings())
		return &target{
			adapter: adapter.NewPoolAdapter(p, adapter.PoolConfig{Credentials: cfg.Credentials()}),
			stats:   p.Stats,
			close:   p.Close,
		}, nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a, err := sqladapter.New(db, sqladapter.Config{
		MaxPoolSize: cfg.Pool.Size,
		Credentials: cfg.Credentials(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &target{
		adapter: a,
		probe:   a.Ping,
		stats:   a.Stats,
		close:   db.Close,
	}, nil
}

func runLoad(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	if opts.workers < 1 || opts.requests < 1 {
		return errors.New("--workers and --requests must be positive")
	}

	tel, err := newTelemetry(cfg.Metrics)
	if err != nil {
		return err
	}
	defer tel.shutdown(context.Background())

	tgt, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer tgt.close()

	a := tgt.adapter
	if cfg.Breaker.Enabled {
		bc, mc := cfg.BreakerSettings()
		breaker := resilience.Instrument(resilience.NewBreaker(cfg.DataSource.Name, bc))
		a = adapter.WithCircuitBreaker(a, breaker)
		if tgt.probe != nil && cfg.Breaker.ProbeIntervalMillis > 0 {
			monitor := resilience.NewMonitor(breaker, tgt.probe, mc)
			monitor.OnChange(
				func(err error) { log.WithError(err).Warn("pool unhealthy") },
				func() { log.Info("pool healthy again") },
			)
			monitor.Start(ctx)
			defer monitor.Stop()
		}
	}

	factories, err := cfg.StrategyFactories()
	if err != nil {
		return err
	}

	events := flexpool.NewEventChannel(256)
	consumed := make(chan struct{})
	go consumeEvents(events, consumed)

	ds, err := flexpool.New(a, flexpool.Config{
		Name:                 cfg.DataSource.Name,
		Sink:                 tel.sink,
		AcquireTimeThreshold: cfg.AcquireTimeThreshold(),
		LeaseTimeThreshold:   cfg.LeaseTimeThreshold(),
		Listener:             events.Listen,
	}, factories...)
	if err != nil {
		events.Close()
		<-consumed
		return err
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(tel.handler), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.Metrics.Listen).Info("serving metrics")
	}

	stopReport := func() {}
	if tgt.stats != nil {
		reportCtx, cancel := context.WithCancel(ctx)
		reported := make(chan struct{})
		go func() {
			defer close(reported)
			pool.ReportMetrics(reportCtx, tgt.stats, poolStatsInterval)
		}()
		stopReport = func() {
			cancel()
			<-reported
		}
	}

	res := drive(ctx, ds, opts)
	stopReport()

	ds.Close()
	events.Close()
	<-consumed

	printSummary(cmd.OutOrStdout(), ds.Stats(), res, events.Dropped())
	if out := tel.summary(); out != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nmetrics:\n%s", out)
	}
	return res.err()
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}

func consumeEvents(events *flexpool.EventChannel, done chan<- struct{}) {
	defer close(done)
	for ev := range events.Events() {
		entry := log.WithField("datasource", ev.DataSource).
			WithField("request", ev.RequestID).
			WithField("elapsed", ev.Elapsed)
		switch ev.Type {
		case flexpool.EventAcquireTimeout:
			entry.WithField("strategy", ev.Strategy).Debug(ev.Type.String())
		default:
			entry.WithField("threshold", ev.Threshold).Warn(ev.Type.String())
		}
	}
}
