package flexpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/metrics"
	"github.com/go-i2p/flexpool/lib/pool"
	"github.com/go-i2p/flexpool/lib/strategy"
)

type testConn struct{ id int }

func (*testConn) Close() error { return nil }

// countingAdapter hands out connections without limit and counts releases.
type countingAdapter struct {
	mu       sync.Mutex
	size     int
	inUse    int
	released int
}

func (a *countingAdapter) Acquire(context.Context, *connection.RequestContext) (pool.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse++
	return &testConn{id: a.inUse}, nil
}

func (a *countingAdapter) Release(pool.Connection) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse--
	a.released++
	return nil
}

func (a *countingAdapter) PoolSize() int     { return a.size }
func (a *countingAdapter) SetPoolSize(n int) { a.size = n }
func (a *countingAdapter) MaxPoolSize() int  { return a.size }
func (a *countingAdapter) TargetPool() any   { return nil }
func (a *countingAdapter) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse, a.released
}

var _ adapter.PoolAdapter = (*countingAdapter)(nil)

// scripted is a strategy whose outcome is decided by a function.
type scripted struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, req *connection.RequestContext) (pool.Connection, error)
	a     adapter.PoolAdapter
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	s.calls.Add(1)
	if s.fn == nil {
		return s.a.Acquire(ctx, req)
	}
	return s.fn(ctx, req)
}

func (s *scripted) factory() strategy.Factory {
	return func(d strategy.Deps) (strategy.Strategy, error) {
		s.a = d.Adapter
		return s, nil
	}
}

var errTimedOut = apperrors.Timeout(errors.New("pool busy"))

func succeeding(name string) *scripted { return &scripted{name: name} }

func failing(name string, err error) *scripted {
	return &scripted{name: name, fn: func(context.Context, *connection.RequestContext) (pool.Connection, error) {
		return nil, err
	}}
}

func factories(ss ...*scripted) []strategy.Factory {
	fs := make([]strategy.Factory, len(ss))
	for i, s := range ss {
		fs[i] = s.factory()
	}
	return fs
}

type harness struct {
	ds      *DataSource
	adapter *countingAdapter
	reg     *metrics.Registry
}

func newHarness(t *testing.T, cfg Config, ss ...*scripted) *harness {
	t.Helper()
	h := &harness{adapter: &countingAdapter{size: 5}, reg: metrics.NewRegistry("")}
	cfg.Sink = h.reg
	ds, err := New(h.adapter, cfg, factories(ss...)...)
	require.NoError(t, err)
	h.ds = ds
	return h
}

func (h *harness) overallCount(t *testing.T) uint64 {
	t.Helper()
	tm, ok := h.reg.LookupTimer(MetricOverallAcquireTime)
	require.True(t, ok)
	return tm.Count()
}

func (h *harness) concurrentHistogram(t *testing.T) *metrics.Histogram {
	t.Helper()
	hist, ok := h.reg.LookupHistogram(MetricConcurrentRequests)
	require.True(t, ok)
	return hist
}

func (h *harness) leaseCount(t *testing.T) uint64 {
	t.Helper()
	tm, ok := h.reg.LookupTimer(MetricLeaseTime)
	require.True(t, ok)
	return tm.Count()
}
