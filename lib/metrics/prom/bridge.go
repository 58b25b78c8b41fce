package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-i2p/flexpool/lib/metrics"
)

// Bridge exposes the counters and gauges of a metrics.Registry through a
// Prometheus registry. It describes nothing up front, so it is registered as
// an unchecked collector and reads the registry on every scrape.
type Bridge struct {
	reg *metrics.Registry
}

// NewBridge returns a collector for reg. A nil reg bridges
// metrics.Default().
func NewBridge(reg *metrics.Registry) *Bridge {
	if reg == nil {
		reg = metrics.Default()
	}
	return &Bridge{reg: reg}
}

// Describe implements prometheus.Collector.
func (b *Bridge) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (b *Bridge) Collect(ch chan<- prometheus.Metric) {
	for _, s := range b.reg.Snapshot() {
		vt := prometheus.GaugeValue
		if s.Kind == metrics.KindCounter {
			vt = prometheus.CounterValue
		}
		m, err := prometheus.NewConstMetric(prometheus.NewDesc(s.Name, s.Help, nil, nil), vt, s.Value)
		if err != nil {
			log.WithError(err).WithField("metric", s.Name).Warn("failed to bridge metric")
			continue
		}
		ch <- m
	}
}
