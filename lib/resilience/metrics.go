package resilience

import (
	"github.com/go-i2p/flexpool/lib/metrics"
)

// Circuit breaker metrics, registered in the default metrics registry.
var (
	// CircuitBreakerState is the state of the last breaker to transition.
	// 0 = closed, 1 = open, 2 = half-open
	CircuitBreakerState = metrics.NewGauge(
		"flexpool_circuit_breaker_state",
		"Current state of the pool circuit breaker (0=closed, 1=open, 2=half-open)",
	)

	// CircuitBreakerTrips counts transitions into the open state.
	CircuitBreakerTrips = metrics.NewCounter(
		"flexpool_circuit_breaker_trips_total",
		"Total number of times the pool circuit breaker opened",
	)

	// CircuitBreakerRejections counts requests rejected by an open breaker.
	CircuitBreakerRejections = metrics.NewCounter(
		"flexpool_circuit_breaker_rejections_total",
		"Total acquisitions rejected by an open circuit breaker",
	)
)

// RecordTransition updates the breaker gauges for a state change. It has the
// signature expected by Breaker.OnStateChange.
func RecordTransition(_, to CircuitState) {
	CircuitBreakerState.Set(int64(to))
	if to == CircuitOpen {
		CircuitBreakerTrips.Inc()
	}
}

// Instrument makes b report its transitions to the breaker metrics and
// returns it.
func Instrument(b *Breaker) *Breaker {
	b.OnStateChange(RecordTransition)
	return b
}
