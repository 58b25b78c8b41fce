package pool

import (
	"context"
	"time"

	"github.com/go-i2p/flexpool/lib/metrics"
)

// Pool utilization metrics, registered in the default metrics registry.
var (
	// PoolConnectionsMax is the current pool capacity.
	PoolConnectionsMax = metrics.NewGauge(
		"flexpool_pool_connections_max",
		"Current pool capacity",
	)
	// PoolConnectionsOpen is the current number of open connections.
	PoolConnectionsOpen = metrics.NewGauge(
		"flexpool_pool_connections_open",
		"Current number of open connections",
	)
	// PoolConnectionsIdle is the current number of idle connections.
	PoolConnectionsIdle = metrics.NewGauge(
		"flexpool_pool_connections_idle",
		"Current number of idle connections in the pool",
	)
	// PoolConnectionsInUse is the number of leased connections.
	PoolConnectionsInUse = metrics.NewGauge(
		"flexpool_pool_connections_in_use",
		"Number of connections currently leased",
	)
	// PoolAcquireTimeouts is the number of acquires that gave up waiting.
	PoolAcquireTimeouts = metrics.NewGauge(
		"flexpool_pool_acquire_timeouts",
		"Number of pool acquires that timed out",
	)
)

// UpdateMetrics publishes a Stats snapshot to the pool gauges.
func UpdateMetrics(stats Stats) {
	PoolConnectionsMax.Set(int64(stats.MaxSize))
	PoolConnectionsOpen.Set(int64(stats.NumOpen))
	PoolConnectionsIdle.Set(int64(stats.NumIdle))
	PoolConnectionsInUse.Set(int64(stats.NumInUse))
	PoolAcquireTimeouts.Set(int64(stats.Timeouts))
}

// ReportMetrics publishes stats to the pool gauges every interval until ctx
// is done. It publishes once on entry and once more on return.
func ReportMetrics(ctx context.Context, stats func() Stats, interval time.Duration) {
	UpdateMetrics(stats())
	defer func() { UpdateMetrics(stats()) }()

	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			UpdateMetrics(stats())
		}
	}
}
