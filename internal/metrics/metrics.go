// Package metrics exposes the gateway's Prometheus surface. Counters are fed
// from the event bus so the routing hot path never touches a histogram
// directly.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routehub/routehub/internal/events"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	FallbacksTotal  *prometheus.CounterVec
	CostUSD         *prometheus.CounterVec
	AdmissionDenied *prometheus.CounterVec
	SourceSyncs     *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	StreamClients   prometheus.Gauge
	ModelsActive    prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_requests_total",
			Help: "Total requests routed through the gateway",
		}, []string{"profile", "model", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routehub_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"profile", "model"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_fallbacks_total",
			Help: "Requests served by a fallback model",
		}, []string{"profile"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"model"}),
		AdmissionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_admission_denied_total",
			Help: "Requests refused before routing",
		}, []string{"reason"}),
		SourceSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_source_syncs_total",
			Help: "Benchmark source sync attempts",
		}, []string{"source", "status"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routehub_breaker_state",
			Help: "Circuit breaker state per model (0 closed, 1 half-open, 2 open)",
		}, []string{"model"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routehub_streaming_clients",
			Help: "Connected streaming clients",
		}),
		ModelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routehub_models_active",
			Help: "Active models in the catalog",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.FallbacksTotal, m.CostUSD,
		m.AdmissionDenied, m.SourceSyncs, m.BreakerState, m.StreamClients, m.ModelsActive)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// RunConsumer feeds the registry from the event bus until the context ends.
func (m *Registry) RunConsumer(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(256)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sub.C:
			m.observe(e)
		}
	}
}

func (m *Registry) observe(e events.Event) {
	switch e.Type {
	case events.EventRouteSuccess, events.EventRouteFallback:
		m.RequestsTotal.WithLabelValues(e.Profile, e.ModelName, "ok").Inc()
		m.RequestLatency.WithLabelValues(e.Profile, e.ModelName).Observe(e.LatencyMS)
		m.CostUSD.WithLabelValues(e.ModelName).Add(e.EstimatedCost)
		if e.Fallback || e.Type == events.EventRouteFallback {
			m.FallbacksTotal.WithLabelValues(e.Profile).Inc()
		}
	case events.EventRouteError:
		m.RequestsTotal.WithLabelValues(e.Profile, e.ModelName, "error").Inc()
	case events.EventBreakerChange:
		m.BreakerState.WithLabelValues(e.ModelName).Set(breakerStateValue(e.NewState))
	case events.EventSourceSynced:
		m.SourceSyncs.WithLabelValues(e.Source, "ok").Inc()
	case events.EventSourceFailed:
		m.SourceSyncs.WithLabelValues(e.Source, "error").Inc()
	}
}
