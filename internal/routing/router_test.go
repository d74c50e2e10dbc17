package routing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routehub/routehub/internal/catalog"
	"github.com/routehub/routehub/internal/circuitbreaker"
	"github.com/routehub/routehub/internal/scoring"
	"github.com/routehub/routehub/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *store.SQLiteStore
	breakers *circuitbreaker.Registry
	router   *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	return newFixtureWithBreakers(t, circuitbreaker.NewRegistry(), opts...)
}

func newFixtureWithBreakers(t *testing.T, breakers *circuitbreaker.Registry, opts ...Option) *fixture {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	return &fixture{
		store:    st,
		breakers: breakers,
		router:   New(st, scoring.NewRegistry(), breakers, testLogger(), opts...),
	}
}

func (f *fixture) addModel(t *testing.T, name string, elo, latencyP90, costBlended float64) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.CreateModel(ctx, catalog.Model{Name: name, Provider: "test", Active: true})
	require.NoError(t, err)
	require.NoError(t, f.store.AppendMetrics(ctx, "test", id, []catalog.RawMetric{
		{Kind: catalog.KindElo, Value: elo},
		{Kind: catalog.KindLatencyP90, Value: latencyP90},
		{Kind: catalog.KindCostBlendedPerMillion, Value: costBlended},
	}))
	return id
}

func TestRoute_PicksBestWithFallbacks(t *testing.T) {
	f := newFixture(t)
	f.addModel(t, "strong", 1350, 600, 10)
	f.addModel(t, "middle", 1200, 500, 5)
	f.addModel(t, "weak", 950, 400, 1)

	d, err := f.router.Route(context.Background(), "quality")
	require.NoError(t, err)
	assert.Equal(t, "strong", d.Selected.Name)
	assert.Len(t, d.Fallbacks, 2)
	assert.False(t, d.WasFallback)
	assert.False(t, d.Degraded)
	assert.GreaterOrEqual(t, d.ElapsedMS, 0.0)
}

func TestRoute_UnknownProfile(t *testing.T) {
	f := newFixture(t)
	f.addModel(t, "m", 1200, 500, 5)

	_, err := f.router.Route(context.Background(), "nonsense")
	assert.ErrorIs(t, err, scoring.ErrUnknownProfile)
}

func TestRoute_NoModels(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Route(context.Background(), "balanced")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestRoute_FallbackCountOption(t *testing.T) {
	f := newFixture(t, WithFallbackCount(1))
	f.addModel(t, "a", 1300, 500, 5)
	f.addModel(t, "b", 1200, 500, 5)
	f.addModel(t, "c", 1100, 500, 5)

	d, err := f.router.Route(context.Background(), "balanced")
	require.NoError(t, err)
	assert.Len(t, d.Fallbacks, 1)
}

func TestRoute_OpenBreakerExcludesModel(t *testing.T) {
	f := newFixture(t)
	f.addModel(t, "flaky", 1390, 200, 2)
	f.addModel(t, "steady", 1150, 500, 5)

	ctx := context.Background()
	d, err := f.router.Route(ctx, "balanced")
	require.NoError(t, err)
	require.Equal(t, "flaky", d.Selected.Name)

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		f.router.RecordFailure("flaky")
	}

	d, err = f.router.Route(ctx, "balanced")
	require.NoError(t, err)
	assert.Equal(t, "steady", d.Selected.Name)
	assert.Len(t, d.Fallbacks, 0, "open model must not appear as a fallback")
}

func TestRoute_BreakerRecoversThroughHalfOpen(t *testing.T) {
	breakers := circuitbreaker.NewRegistry(circuitbreaker.WithCooldown(10 * time.Millisecond))
	f := newFixtureWithBreakers(t, breakers)
	f.addModel(t, "flaky", 1390, 200, 2)
	f.addModel(t, "steady", 1150, 500, 5)

	for i := 0; i < 3; i++ {
		f.router.RecordFailure("flaky")
	}
	b := f.breakers.Get("flaky")
	require.Equal(t, circuitbreaker.Open, b.CurrentState())

	// After the cooldown the breaker probes half-open and the model routes
	// again; one success closes it.
	time.Sleep(20 * time.Millisecond)
	d, err := f.router.Route(context.Background(), "balanced")
	require.NoError(t, err)
	assert.Equal(t, "flaky", d.Selected.Name)

	f.router.RecordSuccess("flaky")
	assert.Equal(t, circuitbreaker.Closed, b.CurrentState())
}

func TestRoute_DegradesWhenAllBreakersOpen(t *testing.T) {
	f := newFixture(t)
	f.addModel(t, "a", 1300, 500, 5)
	f.addModel(t, "b", 1100, 500, 5)

	for _, name := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			f.router.RecordFailure(name)
		}
	}

	d, err := f.router.Route(context.Background(), "balanced")
	require.NoError(t, err)
	assert.True(t, d.Degraded)
	assert.Equal(t, "a", d.Selected.Name, "degraded routing still ranks the pool")
}

func TestRouteWithFallback_ExcludesFailedModels(t *testing.T) {
	f := newFixture(t)
	a := f.addModel(t, "a", 1300, 500, 5)
	f.addModel(t, "b", 1100, 500, 5)

	d, err := f.router.RouteWithFallback(context.Background(), "balanced", []int64{a})
	require.NoError(t, err)
	assert.Equal(t, "b", d.Selected.Name)
	assert.True(t, d.WasFallback)
}

func TestRank_IgnoresBreakers(t *testing.T) {
	f := newFixture(t)
	f.addModel(t, "a", 1300, 500, 5)
	for i := 0; i < 3; i++ {
		f.router.RecordFailure("a")
	}

	scores, err := f.router.Rank(context.Background(), "balanced", 0)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "a", scores[0].Name)
}

func TestRebuildIndex(t *testing.T) {
	f := newFixture(t)
	f.addModel(t, "a", 1300, 500, 5)
	f.addModel(t, "b", 1100, 500, 5)

	ctx := context.Background()
	require.NoError(t, f.router.RebuildIndex(ctx))

	rows, err := f.store.RoutingIndex(ctx, "balanced", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ModelName)
	assert.Greater(t, rows[0].Score, rows[1].Score)
}
