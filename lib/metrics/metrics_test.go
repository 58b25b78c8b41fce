package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	// Create a counter outside the default registry for testing
	c := &Counter{name: "test_counter", help: "A test counter"}

	if c.Value() != 0 {
		t.Errorf("initial value = %d, want 0", c.Value())
	}

	c.Inc()
	if c.Value() != 1 {
		t.Errorf("after Inc() = %d, want 1", c.Value())
	}

	c.Add(5)
	if c.Value() != 6 {
		t.Errorf("after Add(5) = %d, want 6", c.Value())
	}
}

func TestCounterPrometheus(t *testing.T) {
	c := &Counter{name: "test_counter", help: "A test counter"}
	c.Add(42)

	output := c.prometheus()

	if !strings.Contains(output, "# HELP test_counter A test counter") {
		t.Error("missing HELP line")
	}
	if !strings.Contains(output, "# TYPE test_counter counter") {
		t.Error("missing TYPE line")
	}
	if !strings.Contains(output, "test_counter 42") {
		t.Errorf("missing value line, got: %s", output)
	}
}

func TestGauge(t *testing.T) {
	g := &Gauge{name: "test_gauge", help: "A test gauge"}

	if g.Value() != 0 {
		t.Errorf("initial value = %d, want 0", g.Value())
	}

	g.Set(10)
	if g.Value() != 10 {
		t.Errorf("after Set(10) = %d, want 10", g.Value())
	}

	g.Inc()
	if g.Value() != 11 {
		t.Errorf("after Inc() = %d, want 11", g.Value())
	}

	g.Dec()
	if g.Value() != 10 {
		t.Errorf("after Dec() = %d, want 10", g.Value())
	}

	g.Add(-5)
	if g.Value() != 5 {
		t.Errorf("after Add(-5) = %d, want 5", g.Value())
	}
}

func TestGaugePrometheus(t *testing.T) {
	g := &Gauge{name: "test_gauge", help: "A test gauge"}
	g.Set(123)

	output := g.prometheus()

	if !strings.Contains(output, "# HELP test_gauge A test gauge") {
		t.Error("missing HELP line")
	}
	if !strings.Contains(output, "# TYPE test_gauge gauge") {
		t.Error("missing TYPE line")
	}
	if !strings.Contains(output, "test_gauge 123") {
		t.Errorf("missing value line, got: %s", output)
	}
}

func TestHistogram(t *testing.T) {
	h := &Histogram{
		name:    "test_histogram",
		help:    "A test histogram",
		buckets: []float64{0.1, 0.5, 1.0, 5.0},
		counts:  make([]uint64, 4),
	}

	h.Observe(0.05) // fits in 0.1 bucket
	h.Observe(0.3)  // fits in 0.5 bucket
	h.Observe(0.8)  // fits in 1.0 bucket
	h.Observe(3.0)  // fits in 5.0 bucket
	h.Observe(10.0) // exceeds all buckets

	output := h.prometheus()

	if !strings.Contains(output, "# HELP test_histogram A test histogram") {
		t.Error("missing HELP line")
	}
	if !strings.Contains(output, "# TYPE test_histogram histogram") {
		t.Error("missing TYPE line")
	}
	if !strings.Contains(output, `test_histogram_bucket{le="0.1"} 1`) {
		t.Errorf("wrong 0.1 bucket count, got: %s", output)
	}
	if !strings.Contains(output, "test_histogram_count 5") {
		t.Errorf("wrong count, got: %s", output)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("")

	c := &Counter{name: "reg_counter", help: "A counter"}
	g := &Gauge{name: "reg_gauge", help: "A gauge"}

	r.register(c)
	r.register(g)

	c.Inc()
	g.Set(42)

	output := r.Expose()

	if !strings.Contains(output, "reg_counter 1") {
		t.Errorf("missing counter in output: %s", output)
	}
	if !strings.Contains(output, "reg_gauge 42") {
		t.Errorf("missing gauge in output: %s", output)
	}
}

func TestRegistrySinkNamespacing(t *testing.T) {
	r := NewRegistry("orders")

	r.Timer("overall_connection_acquire_time").Update(250 * time.Millisecond)
	r.Histogram("concurrent_connection_requests").Update(3)

	output := r.Expose()
	if !strings.Contains(output, "orders_overall_connection_acquire_time_seconds_count 1") {
		t.Errorf("missing namespaced timer in output: %s", output)
	}
	if !strings.Contains(output, "orders_concurrent_connection_requests_sum 3") {
		t.Errorf("missing namespaced histogram in output: %s", output)
	}

	timer, ok := r.LookupTimer("overall_connection_acquire_time")
	if !ok {
		t.Fatal("timer not found")
	}
	if timer.Total() != 250*time.Millisecond {
		t.Errorf("timer total = %v, want 250ms", timer.Total())
	}
	if _, ok := r.LookupHistogram("missing"); ok {
		t.Error("unexpected histogram for unknown name")
	}
}

func TestRegistrySinkReturnsSameRecorder(t *testing.T) {
	r := NewRegistry("")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Timer("lease").Update(time.Millisecond)
			r.Histogram("depth").Update(1)
		}()
	}
	wg.Wait()

	timer, _ := r.LookupTimer("lease")
	if timer.Count() != 50 {
		t.Errorf("timer count = %d, want 50", timer.Count())
	}
	hist, _ := r.LookupHistogram("depth")
	if hist.Count() != 50 {
		t.Errorf("histogram count = %d, want 50", hist.Count())
	}
}

func TestDiscardSink(t *testing.T) {
	// Should not panic
	Discard.Timer("anything").Update(time.Second)
	Discard.Histogram("anything").Update(1)
}

func TestHandler(t *testing.T) {
	// Reset default registry for clean test
	oldRegistry := defaultRegistry
	defaultRegistry = NewRegistry("")
	defer func() { defaultRegistry = oldRegistry }()

	c := NewCounter("handler_test_counter", "Test counter")
	c.Add(100)

	handler := Handler()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/metrics", nil)

	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	contentType := w.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", contentType)
	}

	body := w.Body.String()
	if !strings.Contains(body, "handler_test_counter 100") {
		t.Errorf("missing counter in body: %s", body)
	}
}

func TestNewTimerRegistersInDefault(t *testing.T) {
	oldRegistry := defaultRegistry
	defaultRegistry = NewRegistry("")
	defer func() { defaultRegistry = oldRegistry }()

	timer := NewTimer("default_timer_seconds", "A timer")
	timer.Update(2 * time.Second)

	if !strings.Contains(Default().Expose(), "default_timer_seconds_sum 2") {
		t.Errorf("missing timer in default registry: %s", Default().Expose())
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry("ignored")
	c := r.NewCounter("snap_trips_total", "Trips")
	g := r.NewGauge("snap_open", "Open connections")
	r.Histogram("snap_sizes").Update(3)

	c.Add(2)
	g.Set(7)

	samples := r.Snapshot()
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d: %+v", len(samples), samples)
	}

	want := []Sample{
		{Name: "snap_open", Help: "Open connections", Kind: KindGauge, Value: 7},
		{Name: "snap_trips_total", Help: "Trips", Kind: KindCounter, Value: 2},
	}
	for i, s := range samples {
		if s != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, s, want[i])
		}
	}

	g.Set(1)
	if v := r.Snapshot()[0].Value; v != 1 {
		t.Errorf("Expected snapshot to read the current value, got %v", v)
	}
}
