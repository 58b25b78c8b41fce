// Package adapter defines the boundary between the acquisition strategies and
// the pool that actually owns the connections.
//
// A PoolAdapter exposes exactly what the strategies need: a bounded acquire,
// release, and a resizable capacity. The wait bound is carried by the context
// deadline. An adapter reports an expired wait as an error matching
// errors.ErrAcquireTimeout and every other pool failure as one matching
// errors.ErrFatalAcquisition; caller cancellation is returned unchanged.
package adapter

import (
	"context"
	"fmt"

	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/pool"
)

// PoolAdapter is the capability set the strategy chain uses on a target pool.
// Implementations must be safe for concurrent use.
type PoolAdapter interface {
	// Acquire obtains a connection, waiting at most until ctx's deadline.
	// A deadline that has already passed asks for a connection that is
	// available without waiting.
	Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error)
	// Release returns a connection obtained from Acquire.
	Release(conn pool.Connection) error
	// PoolSize returns the current capacity.
	PoolSize() int
	// SetPoolSize changes the capacity.
	SetPoolSize(size int)
	// MaxPoolSize returns the capacity the pool was configured with, before
	// any overflow growth.
	MaxPoolSize() int
	// TargetPool returns the wrapped pool.
	TargetPool() any
}

// Discarder is implemented by adapters that can drop a broken connection
// instead of returning it to the pool.
type Discarder interface {
	// Discard closes a connection obtained from Acquire and frees its slot.
	Discard(conn pool.Connection) error
}

// Discard drops conn through a when a is a Discarder and releases it
// otherwise.
func Discard(a PoolAdapter, conn pool.Connection) error {
	if d, ok := a.(Discarder); ok {
		return d.Discard(conn)
	}
	return a.Release(conn)
}

// CheckCredentials rejects requests whose credentials differ from the ones
// the target pool was opened with. Requests without credentials are always
// served. A pool has a single identity, so a mismatch is fatal.
func CheckCredentials(configured *connection.Credentials, req *connection.RequestContext) error {
	if req == nil {
		return nil
	}
	creds, ok := req.Credentials()
	if !ok {
		return nil
	}
	if configured != nil && *configured == creds {
		return nil
	}
	return apperrors.Fatal(fmt.Errorf("%w for user %q", apperrors.ErrUnsupportedCredentials, creds.Username))
}
