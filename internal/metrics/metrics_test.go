package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/routehub/routehub/internal/events"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.RequestsTotal == nil || r.RequestLatency == nil || r.CostUSD == nil {
		t.Fatal("expected request metrics to be registered")
	}
	if r.AdmissionDenied == nil || r.BreakerState == nil || r.SourceSyncs == nil {
		t.Fatal("expected gateway metrics to be registered")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	if r.Handler() == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.RequestsTotal.WithLabelValues("balanced", "llama-3-70", "ok").Inc()
	r.CostUSD.WithLabelValues("llama-3-70").Add(0.01)
	r.RequestLatency.WithLabelValues("balanced", "llama-3-70").Observe(150.0)
	r.AdmissionDenied.WithLabelValues("quota").Inc()

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"routehub_requests_total",
		"routehub_request_latency_ms",
		"routehub_cost_usd_total",
		"routehub_admission_denied_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.RequestsTotal.WithLabelValues("balanced", "llama-3-70", "ok").Inc()

	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
}

func TestObserve_RouteEvents(t *testing.T) {
	r := New()

	r.observe(events.Event{Type: events.EventRouteSuccess, Profile: "balanced",
		ModelName: "llama-3-70", LatencyMS: 120, EstimatedCost: 0.02})
	r.observe(events.Event{Type: events.EventRouteFallback, Profile: "balanced",
		ModelName: "mistral-large", LatencyMS: 90})
	r.observe(events.Event{Type: events.EventRouteError, Profile: "cheap",
		ModelName: "llama-3-70"})

	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("balanced", "llama-3-70", "ok")); got != 1 {
		t.Errorf("requests ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("cheap", "llama-3-70", "error")); got != 1 {
		t.Errorf("requests error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.FallbacksTotal.WithLabelValues("balanced")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.CostUSD.WithLabelValues("llama-3-70")); got != 0.02 {
		t.Errorf("cost = %v, want 0.02", got)
	}
}

func TestObserve_OperationalEvents(t *testing.T) {
	r := New()

	r.observe(events.Event{Type: events.EventBreakerChange, ModelName: "flaky", NewState: "open"})
	r.observe(events.Event{Type: events.EventSourceSynced, Source: "arena"})
	r.observe(events.Event{Type: events.EventSourceFailed, Source: "openrouter"})

	if got := testutil.ToFloat64(r.BreakerState.WithLabelValues("flaky")); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
	r.observe(events.Event{Type: events.EventBreakerChange, ModelName: "flaky", NewState: "half-open"})
	if got := testutil.ToFloat64(r.BreakerState.WithLabelValues("flaky")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.SourceSyncs.WithLabelValues("arena", "ok")); got != 1 {
		t.Errorf("source syncs ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.SourceSyncs.WithLabelValues("openrouter", "error")); got != 1 {
		t.Errorf("source syncs error = %v, want 1", got)
	}
}

func TestRunConsumer_FeedsFromBus(t *testing.T) {
	r := New()
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunConsumer(ctx, bus)

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	bus.Publish(events.Event{Type: events.EventRouteSuccess, Profile: "fast", ModelName: "m"})

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(r.RequestsTotal.WithLabelValues("fast", "m", "ok")) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("bus event never reached the registry")
}
