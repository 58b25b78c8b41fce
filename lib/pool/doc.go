// Package pool provides a bounded connection pool whose capacity can be
// changed at runtime.
//
// The pool supports:
//   - A maximum number of open connections, adjustable with SetMaxSize
//   - Connection idle timeout
//   - Health checking for idle connections
//   - Context-aware acquisition; the wait is bounded by the context deadline
//     or Config.AcquireTimeout
//   - Leak-safe release: each leased connection is accepted back once
//
// # Basic Usage
//
//	factory := func(ctx context.Context) (pool.Connection, error) {
//	    return dialDatabase(ctx)
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.MaxSize = 10
//
//	p := pool.New(factory, cfg)
//	defer p.Close()
//
//	conn, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(conn)
//
// # Probing Without Waiting
//
// Acquire hands out idle connections and free capacity before it looks at
// the context, so an already expired context turns Acquire into a
// non-blocking probe that fails with ErrTimeout when the pool is exhausted.
//
// # Metrics
//
// UpdateMetrics publishes a Stats snapshot to gauges in the default metrics
// registry:
//   - flexpool_pool_connections_max
//   - flexpool_pool_connections_open
//   - flexpool_pool_connections_idle
//   - flexpool_pool_connections_in_use
//   - flexpool_pool_acquire_timeouts
package pool
