// Package sqladapter adapts a *sql.DB to the strategy chain.
//
// The pool size is the database handle's open connection limit. Acquire
// reserves a *sql.Conn, and Release closes it, which hands the underlying
// driver connection back to the database/sql pool.
package sqladapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/pool"
)

// ProbeWindow is how long Acquire waits when called with a deadline that has
// already passed. database/sql refuses to hand out connections on an expired
// context, so a probe gets this short window instead.
const ProbeWindow = time.Millisecond

// Config configures New.
type Config struct {
	// MaxPoolSize is the open connection limit applied to the handle.
	MaxPoolSize int
	// Credentials the DSN authenticates with, if any.
	Credentials *connection.Credentials
}

// Adapter adapts a *sql.DB.
type Adapter struct {
	db          *sql.DB
	maxPoolSize int
	creds       *connection.Credentials

	mu   sync.Mutex
	size atomic.Int64
}

// New wraps db and sets its open connection limit to cfg.MaxPoolSize.
func New(db *sql.DB, cfg Config) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database handle", apperrors.ErrConfiguration)
	}
	if cfg.MaxPoolSize <= 0 {
		return nil, fmt.Errorf("%w: max pool size must be positive, got %d", apperrors.ErrConfiguration, cfg.MaxPoolSize)
	}

	a := &Adapter{
		db:          db,
		maxPoolSize: cfg.MaxPoolSize,
	}
	if cfg.Credentials != nil {
		c := *cfg.Credentials
		a.creds = &c
	}
	a.SetPoolSize(cfg.MaxPoolSize)
	return a, nil
}

// Acquire reserves a dedicated connection from the handle.
func (a *Adapter) Acquire(ctx context.Context, req *connection.RequestContext) (pool.Connection, error) {
	if err := adapter.CheckCredentials(a.creds, req); err != nil {
		return nil, err
	}

	connCtx := ctx
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), ProbeWindow)
		defer cancel()
	}

	conn, err := a.db.Conn(connCtx)
	switch {
	case err == nil:
		return conn, nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil, apperrors.Timeout(err)
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		log.WithError(err).Debug("database connection failed")
		return nil, apperrors.Fatal(err)
	}
}

// Release closes the reserved connection, returning it to the handle's pool.
func (a *Adapter) Release(conn pool.Connection) error {
	c, ok := conn.(*sql.Conn)
	if !ok {
		return fmt.Errorf("%w: %T", pool.ErrNotLeased, conn)
	}
	if err := c.Close(); err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return pool.ErrNotLeased
		}
		return err
	}
	return nil
}

// Discard closes the reserved connection and has database/sql drop the
// underlying driver connection instead of pooling it.
func (a *Adapter) Discard(conn pool.Connection) error {
	c, ok := conn.(*sql.Conn)
	if !ok {
		return fmt.Errorf("%w: %T", pool.ErrNotLeased, conn)
	}
	err := c.Raw(func(any) error { return driver.ErrBadConn })
	if errors.Is(err, sql.ErrConnDone) {
		return pool.ErrNotLeased
	}
	log.Debug("discarded database connection")
	if err := c.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

// PoolSize returns the current open connection limit.
func (a *Adapter) PoolSize() int {
	return int(a.size.Load())
}

// SetPoolSize changes the open connection limit. Idle connections are
// capped at the same value.
func (a *Adapter) SetPoolSize(size int) {
	if size <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.db.SetMaxOpenConns(size)
	a.db.SetMaxIdleConns(size)
	a.size.Store(int64(size))
}

// MaxPoolSize returns the configured limit, before overflow growth.
func (a *Adapter) MaxPoolSize() int {
	return a.maxPoolSize
}

// TargetPool returns the *sql.DB.
func (a *Adapter) TargetPool() any {
	return a.db
}

// Stats maps the handle's statistics onto pool.Stats. Timeouts are not
// tracked by database/sql and stay zero.
func (a *Adapter) Stats() pool.Stats {
	s := a.db.Stats()
	return pool.Stats{
		MaxSize:  a.PoolSize(),
		NumOpen:  s.OpenConnections,
		NumIdle:  s.Idle,
		NumInUse: s.InUse,
	}
}

// Ping checks the database. It has the shape of a resilience.Probe.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
