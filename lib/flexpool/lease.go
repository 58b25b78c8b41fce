package flexpool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-i2p/flexpool/lib/adapter"
	"github.com/go-i2p/flexpool/lib/connection"
	"github.com/go-i2p/flexpool/lib/pool"
)

// Lease is a connection handed out by a DataSource. The holder must call
// Release (or Close) exactly once it is done; further calls have no effect.
type Lease struct {
	ds         *DataSource
	conn       pool.Connection
	req        *connection.RequestContext
	strategy   string
	acquiredAt time.Time

	once sync.Once
	err  error
}

func newLease(ds *DataSource, conn pool.Connection, req *connection.RequestContext, strategy string) *Lease {
	return &Lease{
		ds:         ds,
		conn:       conn,
		req:        req,
		strategy:   strategy,
		acquiredAt: time.Now(),
	}
}

// Conn returns the leased connection. It must not be used after Release.
func (l *Lease) Conn() pool.Connection { return l.conn }

// Strategy names the strategy that acquired the connection.
func (l *Lease) Strategy() string { return l.strategy }

// RequestID returns the ID of the acquisition request.
func (l *Lease) RequestID() uuid.UUID { return l.req.ID() }

// AcquiredAt returns when the lease started.
func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// Release stops the lease timer and returns the connection to the pool.
// Only the first call to Release or Discard has an effect; later calls
// return its result.
func (l *Lease) Release() error {
	return l.end(false)
}

// Discard stops the lease timer and drops the connection instead of
// returning it, for connections known to be broken. Adapters that cannot
// drop connections release it.
func (l *Lease) Discard() error {
	return l.end(true)
}

func (l *Lease) end(discard bool) error {
	l.once.Do(func() {
		held := time.Since(l.acquiredAt)
		l.ds.leaseTimer.Update(held)
		l.ds.leased.Add(-1)

		if threshold := l.ds.cfg.LeaseTimeThreshold; threshold > 0 && held > threshold {
			log.WithField("request", l.req.ID()).
				WithField("held", held).
				WithField("threshold", threshold).
				Warn("connection lease time threshold exceeded")
			l.ds.emit(Event{
				Type:      EventLeaseTimeThresholdExceeded,
				RequestID: l.req.ID(),
				Elapsed:   held,
				Threshold: threshold,
			})
		}

		if discard {
			l.err = adapter.Discard(l.ds.adapter, l.conn)
		} else {
			l.err = l.ds.adapter.Release(l.conn)
		}
		if l.err != nil {
			log.WithField("request", l.req.ID()).
				WithField("discard", discard).
				WithError(l.err).
				Warn("failed to release connection")
		}
	})
	return l.err
}

// Close is Release, so a Lease can be used as an io.Closer.
func (l *Lease) Close() error { return l.Release() }
