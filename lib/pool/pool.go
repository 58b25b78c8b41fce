package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/flexpool/lib/errors"
)

var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = fmt.Errorf("pool: %w", apperrors.ErrClosed)
	// ErrTimeout is returned when acquiring a connection times out.
	ErrTimeout = fmt.Errorf("pool: %w", apperrors.ErrAcquireTimeout)
	// ErrNotLeased is returned when releasing a connection the pool did not
	// hand out, or one that was already released.
	ErrNotLeased = errors.New("pool: connection is not leased")
)

// Connection represents a poolable connection. Implementations must be
// comparable, typically pointer types.
type Connection interface {
	// Close closes the connection.
	Close() error
}

// Factory creates new connections.
type Factory func(ctx context.Context) (Connection, error)

// HealthChecker checks if a connection is still valid.
type HealthChecker func(conn Connection) bool

// Config configures the connection pool.
type Config struct {
	// MaxSize is the initial maximum number of open connections. It can be
	// changed later with SetMaxSize.
	// Default: 10
	MaxSize int
	// MaxIdleTime is how long an idle connection can stay in the pool.
	// Default: 10 minutes
	MaxIdleTime time.Duration
	// AcquireTimeout bounds Acquire when the context has no deadline.
	// Default: 30 seconds
	AcquireTimeout time.Duration
	// HealthCheckInterval is how often to run health checks on idle
	// connections. Set to 0 to disable periodic health checks.
	// Default: 0
	HealthCheckInterval time.Duration
	// HealthCheck reports whether a connection is still valid.
	// If nil, no health checks are performed.
	HealthCheck HealthChecker
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:        10,
		MaxIdleTime:    10 * time.Minute,
		AcquireTimeout: 30 * time.Second,
	}
}

type idleConn struct {
	conn     Connection
	lastUsed time.Time
}

// Pool is a bounded connection pool.
type Pool struct {
	factory    Factory
	config     Config
	mu         sync.Mutex
	cond       *sync.Cond
	maxSize    int
	idle       []idleConn
	leased     map[Connection]struct{}
	numOpen    int
	closed     bool
	stopHealth chan struct{}
	healthDone chan struct{}

	acquireCount   uint64
	acquireSuccess uint64
	acquireFailed  uint64
	timeouts       uint64
	releaseCount   uint64
	healthFails    uint64
}

// New creates a new connection pool.
func New(factory Factory, cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 10 * time.Minute
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}

	p := &Pool{
		factory:    factory,
		config:     cfg,
		maxSize:    cfg.MaxSize,
		idle:       make([]idleConn, 0, cfg.MaxSize),
		leased:     make(map[Connection]struct{}, cfg.MaxSize),
		stopHealth: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if cfg.HealthCheckInterval > 0 && cfg.HealthCheck != nil {
		go p.healthCheckLoop()
	} else {
		close(p.healthDone)
	}

	log.WithField("maxSize", cfg.MaxSize).WithField("maxIdleTime", cfg.MaxIdleTime).Debug("pool created")
	return p
}

// Acquire gets a connection from the pool. An idle connection or free
// capacity is used even when ctx has already expired, so a caller can probe
// the pool without waiting by passing an expired context. Otherwise Acquire
// waits until a connection is released, capacity grows, or ctx is done.
// Expiry of the wait is reported as ErrTimeout.
func (p *Pool) Acquire(ctx context.Context) (Connection, error) {
	atomic.AddUint64(&p.acquireCount, 1)

	acquireCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			atomic.AddUint64(&p.acquireFailed, 1)
			return nil, ErrPoolClosed
		}

		if conn, ok := p.getIdleLocked(); ok {
			p.leased[conn] = struct{}{}
			atomic.AddUint64(&p.acquireSuccess, 1)
			return conn, nil
		}

		if p.numOpen < p.maxSize {
			p.numOpen++
			p.mu.Unlock()
			dialCtx, cancel := p.factoryContext(acquireCtx)
			conn, err := p.factory(dialCtx)
			cancel()
			p.mu.Lock()

			if err != nil {
				p.numOpen--
				p.cond.Signal()
				atomic.AddUint64(&p.acquireFailed, 1)
				log.WithError(err).Debug("failed to create new connection")
				return nil, err
			}
			p.leased[conn] = struct{}{}
			atomic.AddUint64(&p.acquireSuccess, 1)
			log.WithField("open", p.numOpen).Debug("created new connection")
			return conn, nil
		}

		if err := acquireCtx.Err(); err != nil {
			atomic.AddUint64(&p.acquireFailed, 1)
			if errors.Is(err, context.DeadlineExceeded) {
				atomic.AddUint64(&p.timeouts, 1)
				return nil, ErrTimeout
			}
			return nil, err
		}

		p.waitWithContext(acquireCtx)
	}
}

// factoryContext returns the context a new connection is opened with. When
// the deadline has already passed, as for a probe, the factory gets a fresh
// window of AcquireTimeout that still carries ctx's values.
func (p *Pool) factoryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return context.WithTimeout(context.WithoutCancel(ctx), p.config.AcquireTimeout)
	}
	return ctx, func() {}
}

// getIdleLocked pops a usable idle connection. Caller must hold the lock.
func (p *Pool) getIdleLocked() (Connection, bool) {
	now := time.Now()
	for len(p.idle) > 0 {
		// LIFO keeps recently used connections warm
		ic := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if now.Sub(ic.lastUsed) > p.config.MaxIdleTime {
			log.Debug("closing stale connection")
			p.numOpen--
			go ic.conn.Close()
			continue
		}

		if p.config.HealthCheck != nil && !p.config.HealthCheck(ic.conn) {
			log.Debug("closing unhealthy connection")
			atomic.AddUint64(&p.healthFails, 1)
			p.numOpen--
			go ic.conn.Close()
			continue
		}

		return ic.conn, true
	}
	return nil, false
}

// waitWithContext waits for a condition signal or context cancellation.
// Caller must hold the lock.
func (p *Pool) waitWithContext(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	p.cond.Wait()
	close(done)
}

// Release returns a leased connection to the pool. Releasing a connection
// twice, or one the pool never handed out, returns ErrNotLeased and leaves
// the pool untouched. Connections above the current capacity are closed
// instead of kept idle.
func (p *Pool) Release(conn Connection) error {
	if conn == nil {
		return ErrNotLeased
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.leased[conn]; !ok {
		log.Warn("release of a connection that is not leased")
		return ErrNotLeased
	}
	delete(p.leased, conn)
	atomic.AddUint64(&p.releaseCount, 1)

	if p.closed || p.numOpen > p.maxSize {
		p.numOpen--
		go conn.Close()
		p.cond.Signal()
		return nil
	}

	p.idle = append(p.idle, idleConn{conn: conn, lastUsed: time.Now()})
	p.cond.Signal()
	return nil
}

// Discard removes a leased connection from the pool and closes it. Use this
// when a connection is known to be bad.
func (p *Pool) Discard(conn Connection) error {
	if conn == nil {
		return ErrNotLeased
	}

	p.mu.Lock()
	if _, ok := p.leased[conn]; !ok {
		p.mu.Unlock()
		return ErrNotLeased
	}
	delete(p.leased, conn)
	p.numOpen--
	p.cond.Signal()
	p.mu.Unlock()

	log.Debug("discarding bad connection")
	return conn.Close()
}

// MaxSize returns the current capacity.
func (p *Pool) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize
}

// SetMaxSize changes the capacity. Growing wakes waiting acquirers.
// Shrinking never closes leased connections; surplus connections are closed
// as they are released or found idle.
func (p *Pool) SetMaxSize(size int) {
	if size <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.maxSize
	p.maxSize = size

	for p.numOpen > p.maxSize && len(p.idle) > 0 {
		ic := p.idle[0]
		p.idle = p.idle[1:]
		p.numOpen--
		go ic.conn.Close()
	}

	if size > old {
		p.cond.Broadcast()
	}
	log.WithField("from", old).WithField("to", size).Debug("pool capacity changed")
}

// Close closes the pool and all idle connections. Leased connections are
// closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	p.closed = true
	close(p.stopHealth)

	for _, ic := range p.idle {
		p.numOpen--
		go ic.conn.Close()
	}
	p.idle = nil

	p.cond.Broadcast()
	p.mu.Unlock()

	<-p.healthDone

	log.Debug("pool closed")
	return nil
}

func (p *Pool) healthCheckLoop() {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.runHealthCheck()
		}
	}
}

// runHealthCheck removes stale and unhealthy idle connections.
func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	var toClose []Connection
	healthy := make([]idleConn, 0, len(p.idle))
	now := time.Now()

	for _, ic := range p.idle {
		if now.Sub(ic.lastUsed) > p.config.MaxIdleTime {
			toClose = append(toClose, ic.conn)
			p.numOpen--
			continue
		}
		if !p.config.HealthCheck(ic.conn) {
			atomic.AddUint64(&p.healthFails, 1)
			toClose = append(toClose, ic.conn)
			p.numOpen--
			continue
		}
		healthy = append(healthy, ic)
	}

	p.idle = healthy

	for _, conn := range toClose {
		go conn.Close()
	}
	if len(toClose) > 0 {
		p.cond.Broadcast()
		log.WithField("closed", len(toClose)).Debug("health check removed connections")
	}
}

// Stats holds pool statistics.
type Stats struct {
	// MaxSize is the current capacity.
	MaxSize int
	// NumOpen is the current number of open connections.
	NumOpen int
	// NumIdle is the current number of idle connections.
	NumIdle int
	// NumInUse is the number of leased connections.
	NumInUse int
	// AcquireCount is the total number of acquire attempts.
	AcquireCount uint64
	// AcquireSuccess is the number of successful acquires.
	AcquireSuccess uint64
	// AcquireFailed is the number of failed acquires.
	AcquireFailed uint64
	// Timeouts is the number of acquires that gave up waiting.
	Timeouts uint64
	// ReleaseCount is the number of effective releases.
	ReleaseCount uint64
	// HealthCheckFails is the number of connections that failed health checks.
	HealthCheckFails uint64
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		MaxSize:          p.maxSize,
		NumOpen:          p.numOpen,
		NumIdle:          len(p.idle),
		NumInUse:         len(p.leased),
		AcquireCount:     atomic.LoadUint64(&p.acquireCount),
		AcquireSuccess:   atomic.LoadUint64(&p.acquireSuccess),
		AcquireFailed:    atomic.LoadUint64(&p.acquireFailed),
		Timeouts:         atomic.LoadUint64(&p.timeouts),
		ReleaseCount:     atomic.LoadUint64(&p.releaseCount),
		HealthCheckFails: atomic.LoadUint64(&p.healthFails),
	}
}
