package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/go-i2p/flexpool/lib/config"
	"github.com/go-i2p/flexpool/lib/metrics"
	"github.com/go-i2p/flexpool/lib/metrics/otelsink"
	"github.com/go-i2p/flexpool/lib/metrics/prom"
)

const meterName = "github.com/go-i2p/flexpool"

// telemetry is the metrics backend selected by configuration.
type telemetry struct {
	sink     metrics.Sink
	handler  http.Handler
	summary  func() string
	shutdown func(context.Context) error
}

func newTelemetry(cfg config.MetricsConfig) (*telemetry, error) {
	switch cfg.Backend {
	case config.BackendRegistry:
		reg := metrics.NewRegistry(cfg.Namespace)
		expose := func() string {
			return reg.Expose() + metrics.Default().Expose()
		}
		return &telemetry{
			sink: reg,
			handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
				w.Write([]byte(expose()))
			}),
			summary:  expose,
			shutdown: func(context.Context) error { return nil },
		}, nil

	case config.BackendPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), prom.NewBridge(metrics.Default()))
		return &telemetry{
			sink:     prom.NewSink(reg, cfg.Namespace),
			handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			summary:  func() string { return gatherSummary(reg) },
			shutdown: func(context.Context) error { return nil },
		}, nil

	case config.BackendOTel:
		reg := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg), otelprom.WithoutScopeInfo())
		if err != nil {
			return nil, fmt.Errorf("creating OpenTelemetry exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		if _, err := otelsink.ObserveRegistry(provider.Meter(meterName), metrics.Default()); err != nil {
			provider.Shutdown(context.Background())
			return nil, fmt.Errorf("observing pool metrics: %w", err)
		}
		return &telemetry{
			sink:     otelsink.NewSink(provider.Meter(meterName), cfg.Namespace),
			handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			summary:  func() string { return gatherSummary(reg) },
			shutdown: provider.Shutdown,
		}, nil

	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}

// gatherSummary renders histogram counts and sums, one line per series.
func gatherSummary(g prometheus.Gatherer) string {
	families, err := g.Gather()
	if err != nil {
		log.WithError(err).Warn("failed to gather metrics")
		return ""
	}
	var sb strings.Builder
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			h := m.GetHistogram()
			if h == nil {
				continue
			}
			fmt.Fprintf(&sb, "%s count=%d sum=%g\n", mf.GetName(), h.GetSampleCount(), h.GetSampleSum())
		}
	}
	return sb.String()
}
