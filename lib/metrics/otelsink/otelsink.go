// Package otelsink reports flexpool metrics through an OpenTelemetry meter.
package otelsink

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/go-i2p/flexpool/lib/metrics"
)

// Sink maps timers to float64 histograms in seconds and histograms to int64
// histograms.
type Sink struct {
	meter  metric.Meter
	prefix string

	mu     sync.Mutex
	timers map[string]metric.Float64Histogram
	values map[string]metric.Int64Histogram
}

// NewSink returns a Sink creating instruments on meter. Instrument names are
// prefix + "." + name when prefix is set.
func NewSink(meter metric.Meter, prefix string) *Sink {
	return &Sink{
		meter:  meter,
		prefix: prefix,
		timers: make(map[string]metric.Float64Histogram),
		values: make(map[string]metric.Int64Histogram),
	}
}

func (s *Sink) qualify(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "." + name
}

// Timer returns a recorder for durations.
func (s *Sink) Timer(name string) metrics.DurationRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.timers[name]
	if !ok {
		var err error
		h, err = s.meter.Float64Histogram(s.qualify(name), metric.WithUnit("s"))
		if err != nil {
			log.WithError(err).WithField("metric", name).Warn("failed to create timer instrument")
			return metrics.Discard.Timer(name)
		}
		s.timers[name] = h
	}
	return timer{h}
}

// Histogram returns a recorder for integer samples.
func (s *Sink) Histogram(name string) metrics.ValueRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.values[name]
	if !ok {
		var err error
		h, err = s.meter.Int64Histogram(s.qualify(name))
		if err != nil {
			log.WithError(err).WithField("metric", name).Warn("failed to create histogram instrument")
			return metrics.Discard.Histogram(name)
		}
		s.values[name] = h
	}
	return histogram{h}
}

type timer struct{ h metric.Float64Histogram }

func (t timer) Update(d time.Duration) { t.h.Record(context.Background(), d.Seconds()) }

type histogram struct{ h metric.Int64Histogram }

func (h histogram) Update(v int64) { h.h.Record(context.Background(), v) }
