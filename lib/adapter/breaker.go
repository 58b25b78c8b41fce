package adapter

import (
	"context"
	"errors"

	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/pool"
	"github.com/go-i2p/flexpool/lib/resilience"
)

type guarded struct {
	PoolAdapter
	breaker *resilience.Breaker
}

// WithCircuitBreaker guards a's Acquire with b. Fatal pool failures count
// against the breaker; timeouts, rejected credentials and cancelled callers
// do not. While the breaker is open Acquire fails fast with a fatal error
// wrapping errors.ErrCircuitOpen.
func WithCircuitBreaker(a PoolAdapter, b *resilience.Breaker) PoolAdapter {
	return &guarded{PoolAdapter: a, breaker: b}
}

func (g *guarded) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	var conn pool.Connection
	err := g.breaker.Guard(ctx, func(ctx context.Context) error {
		var err error
		conn, err = g.PoolAdapter.Acquire(ctx, req)
		return err
	}, countsAgainstPool)

	if errors.Is(err, apperrors.ErrCircuitOpen) {
		log.WithField("circuit", g.breaker.Name()).Debug("acquire rejected by open circuit")
		return nil, apperrors.Fatal(err)
	}
	return conn, err
}

func (g *guarded) Discard(conn pool.Connection) error {
	return Discard(g.PoolAdapter, conn)
}

func countsAgainstPool(err error) bool {
	return apperrors.IsFatal(err) && !errors.Is(err, apperrors.ErrUnsupportedCredentials)
}
