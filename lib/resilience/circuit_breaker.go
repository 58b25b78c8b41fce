// Package resilience protects callers from a backing pool that keeps failing.
//
// A Breaker counts fatal acquisition failures. Once FailureThreshold
// consecutive failures are seen it opens and rejects requests without touching
// the pool, so callers fail fast instead of queueing behind a broken database.
// After Cooldown it lets a limited number of probe requests through:
//
//	Closed -> Open -> HalfOpen -> Closed
//	            ^         |
//	            +---------+ (probe failed)
//
// A Monitor drives the same state machine from a periodic health probe.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/go-i2p/flexpool/lib/errors"
)

// ErrCircuitOpen is returned when a breaker rejects a request.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// CircuitClosed lets every request through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects every request until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen lets a bounded number of probe requests through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that open the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it
	// again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// MaxHalfOpenRequests bounds concurrent probes while half-open.
	MaxHalfOpenRequests int
}

// DefaultConfig returns the defaults used for a database-backed pool.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            10 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	mu     sync.Mutex
	config Config
	name   string

	state            CircuitState
	failures         int
	successes        int
	halfOpenRequests int
	lastFailure      time.Time
	lastStateChange  time.Time
	openedAt         time.Time
	rejected         uint64
	onStateChange    func(from, to CircuitState)
}

// NewBreaker creates a closed breaker. Zero fields in cfg take their
// defaults.
func NewBreaker(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxHalfOpenRequests <= 0 {
		cfg.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}

	return &Breaker{
		config:          cfg,
		name:            name,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// OnStateChange registers fn to be called, on its own goroutine, after every
// transition.
func (b *Breaker) OnStateChange(fn func(from, to CircuitState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports CircuitHalfOpen.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observedState()
}

func (b *Breaker) observedState() CircuitState {
	if b.state == CircuitOpen && time.Since(b.openedAt) >= b.config.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Allow reports whether a request may proceed. Every allowed request must be
// followed by RecordSuccess, RecordFailure or Forget.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.openedAt) >= b.config.Cooldown {
			b.transitionTo(CircuitHalfOpen)
			b.halfOpenRequests = 1
			return true
		}
	case CircuitHalfOpen:
		if b.halfOpenRequests < b.config.MaxHalfOpenRequests {
			b.halfOpenRequests++
			return true
		}
	}
	b.rejected++
	return false
}

// RecordSuccess records a request that reached a healthy pool.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.successes++
		b.releaseProbe()
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a request that hit a broken pool.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transitionTo(CircuitOpen)
	}
}

// Forget returns an allowed request that says nothing about pool health,
// such as a timeout or a cancelled caller.
func (b *Breaker) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitHalfOpen {
		b.releaseProbe()
	}
}

func (b *Breaker) releaseProbe() {
	if b.halfOpenRequests > 0 {
		b.halfOpenRequests--
	}
}

// Guard runs fn if the breaker allows it. Errors for which isFailure returns
// true count against the pool; other errors and caller cancellation are
// neutral. A rejected call returns an error wrapping ErrCircuitOpen.
func (b *Breaker) Guard(ctx context.Context, fn func(context.Context) error, isFailure func(error) bool) error {
	if !b.Allow() {
		CircuitBreakerRejections.Inc()
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil, isFailure != nil && !isFailure(err):
		b.Forget()
	default:
		b.RecordFailure()
	}
	return err
}

// Trip opens the breaker immediately.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(CircuitOpen)
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(CircuitClosed)
	b.failures = 0
	b.successes = 0
	b.halfOpenRequests = 0
	b.openedAt = time.Time{}
}

// transitionTo changes state. Caller must hold the lock.
func (b *Breaker) transitionTo(next CircuitState) {
	if b.state == next {
		return
	}

	prev := b.state
	b.state = next
	b.lastStateChange = time.Now()

	switch next {
	case CircuitClosed:
		b.failures = 0
		b.successes = 0
	case CircuitOpen:
		b.openedAt = b.lastStateChange
		b.successes = 0
	case CircuitHalfOpen:
		b.successes = 0
		b.halfOpenRequests = 0
	}

	entry := log.WithField("circuit", b.name).
		WithField("from", prev.String()).
		WithField("to", next.String())
	if next == CircuitOpen {
		entry.Warn("circuit breaker opened")
	} else {
		entry.Info("circuit breaker state transition")
	}

	if b.onStateChange != nil {
		go b.onStateChange(prev, next)
	}
}

// Stats is a snapshot of a Breaker.
type Stats struct {
	Name            string
	State           CircuitState
	Failures        int
	Successes       int
	Rejected        uint64
	LastFailure     time.Time
	LastStateChange time.Time
	Config          Config
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:            b.name,
		State:           b.observedState(),
		Failures:        b.failures,
		Successes:       b.successes,
		Rejected:        b.rejected,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
		Config:          b.config,
	}
}
