package adapter

import (
	"context"
	"errors"

	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/pool"
)

// PoolConfig configures NewPoolAdapter.
type PoolConfig struct {
	// Credentials the pool's connections are opened with. Nil means the
	// pool only serves requests without credentials.
	Credentials *connection.Credentials
}

// Pool adapts a *pool.Pool.
type Pool struct {
	pool        *pool.Pool
	maxPoolSize int
	creds       *connection.Credentials
}

// NewPoolAdapter wraps p. The capacity p has now becomes MaxPoolSize.
func NewPoolAdapter(p *pool.Pool, cfg PoolConfig) *Pool {
	a := &Pool{
		pool:        p,
		maxPoolSize: p.MaxSize(),
	}
	if cfg.Credentials != nil {
		c := *cfg.Credentials
		a.creds = &c
	}
	return a
}

// Acquire takes a connection from the pool.
func (a *Pool) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	if err := CheckCredentials(a.creds, req); err != nil {
		return nil, err
	}

	conn, err := a.pool.Acquire(ctx)
	switch {
	case err == nil:
		return conn, nil
	case errors.Is(err, pool.ErrTimeout):
		return nil, apperrors.Timeout(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		log.WithError(err).Debug("pool acquire failed")
		return nil, apperrors.Fatal(err)
	}
}

// Release returns conn to the pool.
func (a *Pool) Release(conn pool.Connection) error {
	return a.pool.Release(conn)
}

// Discard closes conn and frees its slot in the pool.
func (a *Pool) Discard(conn pool.Connection) error {
	return a.pool.Discard(conn)
}

// PoolSize returns the current pool capacity.
func (a *Pool) PoolSize() int {
	return a.pool.MaxSize()
}

// SetPoolSize changes the pool capacity.
func (a *Pool) SetPoolSize(size int) {
	a.pool.SetMaxSize(size)
}

// MaxPoolSize returns the capacity the pool had when it was wrapped.
func (a *Pool) MaxPoolSize() int {
	return a.maxPoolSize
}

// TargetPool returns the underlying *pool.Pool.
func (a *Pool) TargetPool() any {
	return a.pool
}
