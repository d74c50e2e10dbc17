package adapters

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routehub/routehub/internal/offline"
	"github.com/routehub/routehub/internal/resolve"
	"github.com/routehub/routehub/internal/store"
	"github.com/routehub/routehub/internal/urlcheck"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pipelineFixture struct {
	store    *store.SQLiteStore
	cache    *offline.SourceCache
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, ts *httptest.Server) *pipelineFixture {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	base, err := offline.New(t.TempDir(), testLogger())
	require.NoError(t, err)
	cache := offline.NewSourceCache(base, time.Hour)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	fetcher := NewFetcher(urlcheck.New([]string{u.Hostname()}),
		WithHTTPClient(ts.Client()), WithBackoff(time.Millisecond), WithMaxRetries(1))
	ingestor := store.NewIngestor(st, resolve.NewResolver(), testLogger())

	return &pipelineFixture{
		store:    st,
		cache:    cache,
		pipeline: NewPipeline(fetcher, cache, ingestor, testLogger()),
	}
}

const arenaBody = `{"models":[{"model":"gpt-4o","elo":1280,"ci_low":1270,"ci_high":1290}]}`

func TestPipelineSync_IngestsAndCaches(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(arenaBody))
	}))
	defer ts.Close()
	f := newPipelineFixture(t, ts)
	ctx := context.Background()

	report, err := f.pipeline.Sync(ctx, NewArenaSource(ts.URL, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.ModelsSeen)
	assert.Equal(t, 1, report.NewModels)
	assert.Equal(t, 2, report.MetricsRecorded)

	// The payload was cached for offline fallback.
	payload, ok, err := f.cache.Retrieve("arena")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, arenaBody, string(payload))

	// Bookkeeping records a successful sync.
	sources, err := f.store.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "ok", sources[0].Status)
}

func TestPipelineSync_FallsBackToCachedPayload(t *testing.T) {
	var fail atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(arenaBody))
	}))
	defer ts.Close()
	f := newPipelineFixture(t, ts)
	ctx := context.Background()
	src := NewArenaSource(ts.URL, time.Hour)

	_, err := f.pipeline.Sync(ctx, src)
	require.NoError(t, err)

	// With the source down, the cached payload still feeds ingestion.
	fail.Store(true)
	report, err := f.pipeline.Sync(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MetricsRecorded)
	assert.Zero(t, report.NewModels, "second run resolves through the alias")
}

func TestPipelineSync_FailureWithoutCache(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()
	f := newPipelineFixture(t, ts)
	ctx := context.Background()

	_, err := f.pipeline.Sync(ctx, NewArenaSource(ts.URL, time.Hour))
	require.Error(t, err)

	sources, err := f.store.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "error", sources[0].Status)
	assert.NotEmpty(t, sources[0].Error)
	assert.True(t, sources[0].LastSuccess.IsZero())
}

func TestPipelineSync_InvalidPayloadRecorded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer ts.Close()
	f := newPipelineFixture(t, ts)

	// A 200 with an empty ranking fails validation; with no cached payload
	// the sync errors out.
	_, err := f.pipeline.Sync(context.Background(), NewArenaSource(ts.URL, time.Hour))
	require.Error(t, err)

	sources, _ := f.store.ListSources(context.Background())
	require.Len(t, sources, 1)
	assert.Equal(t, "error", sources[0].Status)
}

func TestPipelineSync_InvalidPayloadKeepsCache(t *testing.T) {
	var broken atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			_, _ = w.Write([]byte(`<html>maintenance page</html>`))
			return
		}
		_, _ = w.Write([]byte(arenaBody))
	}))
	defer ts.Close()
	f := newPipelineFixture(t, ts)
	ctx := context.Background()
	src := NewArenaSource(ts.URL, time.Hour)

	_, err := f.pipeline.Sync(ctx, src)
	require.NoError(t, err)

	// An invalid 200 body must not displace the good cached payload.
	broken.Store(true)
	report, err := f.pipeline.Sync(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MetricsRecorded)

	payload, ok, err := f.cache.Retrieve("arena")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, arenaBody, string(payload))
}
