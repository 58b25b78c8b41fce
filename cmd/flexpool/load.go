package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/flexpool"
	"github.com/go-i2p/flexpool/lib/pool"
)

// loadResult tallies the outcome of a load run.
type loadResult struct {
	succeeded int64
	exhausted int64
	broken    int64
	fatal     int64
	canceled  int64
	elapsed   time.Duration
	latencies []time.Duration
	lastFatal error
}

// err reports a run in which the pool failed permanently.
func (r *loadResult) err() error {
	if r.fatal > 0 {
		return fmt.Errorf("%d acquisitions failed: %w", r.fatal, r.lastFatal)
	}
	return nil
}

// percentile returns the p-th percentile acquisition latency, 0 < p <= 100.
func (r *loadResult) percentile(p float64) time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), r.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p/100+0.5) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// drive runs opts.requests acquisitions across opts.workers goroutines,
// holding each connection for opts.hold.
func drive(ctx context.Context, ds *flexpool.DataSource, opts runOptions) *loadResult {
	var (
		res       loadResult
		mu        sync.Mutex
		remaining atomic.Int64
		wg        sync.WaitGroup
	)
	remaining.Store(int64(opts.requests))

	start := time.Now()
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for remaining.Add(-1) >= 0 && ctx.Err() == nil {
				began := time.Now()
				err := ds.WithConnection(ctx, func(c pool.Connection) error {
					return hold(ctx, c, opts.hold)
				})
				took := time.Since(began)

				mu.Lock()
				switch {
				case err == nil:
					res.succeeded++
					res.latencies = append(res.latencies, took)
				case apperrors.IsExhausted(err):
					res.exhausted++
				case apperrors.Is(err, apperrors.ErrBrokenConnection):
					res.broken++
				case apperrors.Is(err, context.Canceled):
					res.canceled++
				default:
					res.fatal++
					res.lastFatal = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	return &res
}

// hold simulates work on a leased connection.
func hold(ctx context.Context, c pool.Connection, d time.Duration) error {
	if conn, ok := c.(*sql.Conn); ok {
		if _, err := conn.ExecContext(ctx, "SELECT 1"); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fmt.Errorf("%w: %w", apperrors.ErrBrokenConnection, err)
		}
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printSummary(w io.Writer, stats flexpool.Stats, res *loadResult, dropped uint64) {
	total := res.succeeded + res.exhausted + res.broken + res.fatal + res.canceled
	fmt.Fprintf(w, "data source %s, strategies %v\n", stats.Name, stats.Strategies)
	fmt.Fprintf(w, "pool size %d (max %d)\n", stats.PoolSize, stats.MaxPoolSize)
	fmt.Fprintf(w, "requests %d in %s\n", total, res.elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  succeeded %d\n  exhausted %d\n  broken    %d\n  failed    %d\n  canceled  %d\n",
		res.succeeded, res.exhausted, res.broken, res.fatal, res.canceled)
	fmt.Fprintf(w, "strategy timeouts %d\n", stats.StrategyTimeouts)
	if res.succeeded > 0 {
		fmt.Fprintf(w, "acquire+hold p50 %s p99 %s\n",
			res.percentile(50).Round(time.Microsecond), res.percentile(99).Round(time.Microsecond))
	}
	if dropped > 0 {
		fmt.Fprintf(w, "events dropped %d\n", dropped)
	}
}
