package otelsink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/go-i2p/flexpool/lib/metrics"
)

// ObserveRegistry publishes the counters and gauges reg holds now as
// asynchronous instruments on meter, read from reg on every collection.
// Metrics added to reg later are not picked up.
func ObserveRegistry(meter metric.Meter, reg *metrics.Registry) (metric.Registration, error) {
	counters := make(map[string]metric.Float64ObservableCounter)
	gauges := make(map[string]metric.Float64ObservableGauge)
	var instruments []metric.Observable

	for _, s := range reg.Snapshot() {
		switch s.Kind {
		case metrics.KindCounter:
			c, err := meter.Float64ObservableCounter(s.Name, metric.WithDescription(s.Help))
			if err != nil {
				return nil, fmt.Errorf("observing %s: %w", s.Name, err)
			}
			counters[s.Name] = c
			instruments = append(instruments, c)
		default:
			g, err := meter.Float64ObservableGauge(s.Name, metric.WithDescription(s.Help))
			if err != nil {
				return nil, fmt.Errorf("observing %s: %w", s.Name, err)
			}
			gauges[s.Name] = g
			instruments = append(instruments, g)
		}
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, s := range reg.Snapshot() {
			if c, ok := counters[s.Name]; ok {
				o.ObserveFloat64(c, s.Value)
			} else if g, ok := gauges[s.Name]; ok {
				o.ObserveFloat64(g, s.Value)
			}
		}
		return nil
	}, instruments...)
}
