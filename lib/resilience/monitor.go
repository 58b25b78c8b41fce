package resilience

import (
	"context"
	"sync"
	"time"
)

// Probe checks the backing pool, for example with a database ping.
type Probe func(ctx context.Context) error

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// DefaultMonitorConfig returns the default probing cadence.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     15 * time.Second,
		ProbeTimeout: 2 * time.Second,
	}
}

// Monitor probes a pool periodically and feeds the results into a Breaker,
// so the breaker can open before any acquisition fails and close again once
// the pool recovers.
type Monitor struct {
	mu      sync.Mutex
	config  MonitorConfig
	probe   Probe
	breaker *Breaker

	lastCheck   time.Time
	lastHealthy time.Time
	healthy     bool

	onUnhealthy func(error)
	onHealthy   func()

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor driving breaker with probe.
func NewMonitor(breaker *Breaker, probe Probe, cfg MonitorConfig) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	return &Monitor{
		config:  cfg,
		probe:   probe,
		breaker: breaker,
		healthy: true,
	}
}

// OnChange sets callbacks invoked when the probe result flips.
func (m *Monitor) OnChange(onUnhealthy func(error), onHealthy func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnhealthy = onUnhealthy
	m.onHealthy = onHealthy
}

// Start begins probing until ctx is done or Stop is called. Starting a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	log.WithField("circuit", m.breaker.Name()).
		WithField("interval", m.config.Interval).
		Debug("starting pool health monitor")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs the probe once and records the result. It reports whether the
// pool was healthy.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	err := m.probe(probeCtx)
	cancel()

	if err != nil && ctx.Err() != nil {
		// shutting down, not a pool failure
		return m.Healthy()
	}

	m.mu.Lock()
	was := m.healthy
	m.healthy = err == nil
	m.lastCheck = time.Now()
	if err == nil {
		m.lastHealthy = m.lastCheck
	}
	onUnhealthy, onHealthy := m.onUnhealthy, m.onHealthy
	m.mu.Unlock()

	if err == nil {
		m.breaker.RecordSuccess()
		if !was {
			log.WithField("circuit", m.breaker.Name()).Info("pool probe recovered")
			if onHealthy != nil {
				go onHealthy()
			}
		}
		return true
	}

	m.breaker.RecordFailure()
	if was {
		log.WithField("circuit", m.breaker.Name()).WithError(err).Warn("pool probe failed")
		if onUnhealthy != nil {
			go onUnhealthy(err)
		}
	}
	return false
}

// Healthy reports the result of the last probe.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// LastCheck returns when the pool was last probed.
func (m *Monitor) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// LastHealthy returns when a probe last succeeded.
func (m *Monitor) LastHealthy() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealthy
}

// Breaker returns the breaker the monitor drives.
func (m *Monitor) Breaker() *Breaker {
	return m.breaker
}
