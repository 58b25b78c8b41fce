// Package prom reports flexpool metrics through the Prometheus client
// library.
package prom

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-i2p/flexpool/lib/metrics"
)

// Sink creates one Prometheus histogram per metric name and registers it on
// first use.
type Sink struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	namespace  string
	histograms map[string]prometheus.Histogram
}

// NewSink returns a Sink registering on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewSink(reg prometheus.Registerer, namespace string) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Sink{
		registerer: reg,
		namespace:  namespace,
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Timer returns a recorder observing durations in seconds.
func (s *Sink) Timer(name string) metrics.DurationRecorder {
	return timer{s.histogram(name+"_seconds", "Duration of "+humanize(name), prometheus.DefBuckets)}
}

// Histogram returns a recorder observing integer samples.
func (s *Sink) Histogram(name string) metrics.ValueRecorder {
	return histogram{s.histogram(name, "Distribution of "+humanize(name), metrics.DefaultCountBuckets)}
}

func (s *Sink) histogram(name, help string, buckets []float64) prometheus.Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histograms[name]; ok {
		return h
	}

	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: s.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	if err := s.registerer.Register(h); err != nil {
		// Another sink with the same namespace got there first; share its
		// collector.
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				h = existing
			}
		} else {
			log.WithError(err).WithField("metric", name).Warn("failed to register histogram")
		}
	}
	s.histograms[name] = h
	return h
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

type timer struct{ h prometheus.Histogram }

func (t timer) Update(d time.Duration) { t.h.Observe(d.Seconds()) }

type histogram struct{ h prometheus.Histogram }

func (h histogram) Update(v int64) { h.h.Observe(float64(v)) }
