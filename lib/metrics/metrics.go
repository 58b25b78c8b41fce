// Package metrics provides the metrics collection used by flexpool.
//
// It contains lightweight Counter, Gauge, Histogram and Timer types that
// render in Prometheus exposition format, and the Sink interface through
// which the data source and strategies report named timers and histograms.
// A Registry is itself a Sink.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bucket layouts.
var (
	// DefaultLatencyBuckets are upper bounds, in seconds, for acquisition and
	// lease durations.
	DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	// DefaultCountBuckets are upper bounds for integer distributions such as
	// concurrency levels, retry attempts and pool sizes.
	DefaultCountBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024}
)

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// NewCounter creates a new counter metric in the default registry.
func NewCounter(name, help string) *Counter {
	return defaultRegistry.NewCounter(name, help)
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) metricName() string { return c.name }

func (c *Counter) prometheus() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
	fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
	fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
	return sb.String()
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// NewGauge creates a new gauge metric in the default registry.
func NewGauge(name, help string) *Gauge {
	return defaultRegistry.NewGauge(name, help)
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) metricName() string { return g.name }

func (g *Gauge) prometheus() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
	fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
	return sb.String()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates a new histogram metric in the default registry.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := newHistogram(name, help, buckets)
	defaultRegistry.register(h)
	return h
}

func newHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Update records an integer sample. It makes Histogram a ValueRecorder.
func (h *Histogram) Update(v int64) {
	h.Observe(float64(v))
}

// Count returns the number of recorded samples.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of recorded samples.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *Histogram) metricName() string { return h.name }

func (h *Histogram) prometheus() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)

	for i, b := range h.buckets {
		fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, b, h.counts[i])
	}
	fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(&sb, "%s_sum %g\n", h.name, h.sum)
	fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)

	return sb.String()
}

// Timer is a histogram of durations, exposed in seconds.
type Timer struct {
	*Histogram
}

// NewTimer creates a new timer metric in the default registry.
func NewTimer(name, help string) *Timer {
	return &Timer{Histogram: NewHistogram(name, help, DefaultLatencyBuckets)}
}

// Update records a duration. It makes Timer a DurationRecorder.
func (t *Timer) Update(d time.Duration) {
	t.Observe(d.Seconds())
}

// Total returns the sum of recorded durations.
func (t *Timer) Total() time.Duration {
	return time.Duration(t.Sum() * float64(time.Second))
}

// metric is the interface for all metric types.
type metric interface {
	metricName() string
	prometheus() string
}

// Registry holds registered metrics. A Registry is a Sink: Timer and
// Histogram create metrics on first use, prefixed with the registry
// namespace.
type Registry struct {
	mu        sync.RWMutex
	namespace string
	metrics   map[string]metric
}

// NewRegistry creates an empty registry. Names requested through the Sink
// methods are prefixed with namespace and an underscore when namespace is
// not empty.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		metrics:   make(map[string]metric),
	}
}

// defaultRegistry is the global metric registry.
var defaultRegistry = NewRegistry("")

// Default returns the global registry used by NewCounter, NewGauge,
// NewHistogram and NewTimer.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) register(m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[m.metricName()] = m
}

// NewCounter registers a counter under name, which is used as given.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	r.register(c)
	return c
}

// NewGauge registers a gauge under name, which is used as given.
func (r *Registry) NewGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help}
	r.register(g)
	return g
}

func (r *Registry) qualify(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// Timer returns the timer registered under name, creating it if needed.
func (r *Registry) Timer(name string) DurationRecorder {
	return r.timer(name)
}

func (r *Registry) timer(name string) *Timer {
	full := r.qualify(name) + "_seconds"

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[full]; ok {
		if t, ok := m.(*Timer); ok {
			return t
		}
	}
	t := &Timer{Histogram: newHistogram(full, "Duration of "+strings.ReplaceAll(name, "_", " "), DefaultLatencyBuckets)}
	r.metrics[full] = t
	return t
}

// Histogram returns the histogram registered under name, creating it if
// needed.
func (r *Registry) Histogram(name string) ValueRecorder {
	return r.histogram(name)
}

func (r *Registry) histogram(name string) *Histogram {
	full := r.qualify(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[full]; ok {
		if h, ok := m.(*Histogram); ok {
			return h
		}
	}
	h := newHistogram(full, "Distribution of "+strings.ReplaceAll(name, "_", " "), DefaultCountBuckets)
	r.metrics[full] = h
	return h
}

// LookupTimer returns the timer created for name through the Sink methods.
func (r *Registry) LookupTimer(name string) (*Timer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.metrics[r.qualify(name)+"_seconds"].(*Timer)
	return t, ok
}

// LookupHistogram returns the histogram created for name through the Sink
// methods.
func (r *Registry) LookupHistogram(name string) (*Histogram, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.metrics[r.qualify(name)].(*Histogram)
	return h, ok
}

// Sample kinds.
const (
	KindCounter = "counter"
	KindGauge   = "gauge"
)

// Sample is the current value of a counter or gauge.
type Sample struct {
	Name  string
	Help  string
	Kind  string
	Value float64
}

// Snapshot returns the current counters and gauges sorted by name.
// Histograms and timers are left out.
func (r *Registry) Snapshot() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sample, 0, len(r.metrics))
	for _, m := range r.metrics {
		switch m := m.(type) {
		case *Counter:
			out = append(out, Sample{Name: m.name, Help: m.help, Kind: KindCounter, Value: float64(m.Value())})
		case *Gauge:
			out = append(out, Sample{Name: m.name, Help: m.help, Kind: KindGauge, Value: float64(m.Value())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Sort names for consistent output
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(r.metrics[name].prometheus())
		sb.WriteString("\n")
	}
	return sb.String()
}

// ServeHTTP exposes the registry over HTTP.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(r.Expose()))
}

// Handler returns an http.Handler that exposes the default registry.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defaultRegistry.ServeHTTP(w, r)
	})
}
