package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routehub/routehub/internal/catalog"
	"github.com/routehub/routehub/internal/urlcheck"
)

func metricsByKind(metrics []catalog.RawMetric, model string) map[string]float64 {
	out := map[string]float64{}
	for _, m := range metrics {
		if m.SourceModel == model {
			out[m.Kind] = m.Value
		}
	}
	return out
}

func TestOpenRouterParse(t *testing.T) {
	src := NewOpenRouterSource("", 0)
	payload := []byte(`{"data":[
		{"id":"openai/gpt-4o","context_length":128000,
		 "pricing":{"prompt":"0.0000025","completion":"0.00001"}},
		{"id":"free/model","context_length":8192,
		 "pricing":{"prompt":"0","completion":"0"}},
		{"id":"broken/pricing","pricing":{"prompt":"n/a","completion":"1"}}
	]}`)

	metrics, err := src.Parse(payload)
	require.NoError(t, err)

	got := metricsByKind(metrics, "openai/gpt-4o")
	assert.InDelta(t, 2.5, got[catalog.KindCostPromptPerMillion], 1e-9)
	assert.InDelta(t, 10.0, got[catalog.KindCostCompletionPerMillion], 1e-9)
	assert.InDelta(t, 0.7*2.5+0.3*10.0, got[catalog.KindCostBlendedPerMillion], 1e-9)
	assert.Equal(t, 128000.0, got[catalog.KindContextLength])

	free := metricsByKind(metrics, "free/model")
	assert.Zero(t, free[catalog.KindCostBlendedPerMillion])

	// Unparseable pricing still yields the context metric, nothing else.
	broken := metricsByKind(metrics, "broken/pricing")
	assert.Empty(t, broken)
}

func TestOpenRouterParse_Empty(t *testing.T) {
	src := NewOpenRouterSource("", 0)
	_, err := src.Parse([]byte(`{"data":[]}`))
	assert.Error(t, err)
	_, err = src.Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestArenaParse(t *testing.T) {
	src := NewArenaSource("https://arena.example/rankings", 0)
	payload := []byte(`{"models":[
		{"model":"gpt-4o","elo":1280,"ci_low":1270,"ci_high":1290,"votes":90000},
		{"model":"noelo","elo":0}
	]}`)

	metrics, err := src.Parse(payload)
	require.NoError(t, err)

	got := metricsByKind(metrics, "gpt-4o")
	assert.Equal(t, 1280.0, got[catalog.KindElo])
	assert.InDelta(t, 20.0/1280.0, got[catalog.KindEloUncertainty], 1e-9)

	assert.Empty(t, metricsByKind(metrics, "noelo"))
}

func TestLeaderboardParse(t *testing.T) {
	src := NewLeaderboardSource("https://boards.example/table.json", 0)
	payload := []byte(`{"rows":[
		{"model":"full","scores":{"mmlu":80,"gsm8k":70,"humaneval":60,"bogus":140}},
		{"model":"sparse","scores":{"mmlu":75,"gsm8k":65}}
	]}`)

	metrics, err := src.Parse(payload)
	require.NoError(t, err)

	full := metricsByKind(metrics, "full")
	assert.Equal(t, 80.0, full["benchmark_mmlu"])
	assert.NotContains(t, full, "benchmark_bogus", "out-of-range scores are dropped")
	assert.InDelta(t, 70.0, full[catalog.KindBenchmarkAverage], 1e-9)

	// Two valid scores is below the averaging threshold.
	sparse := metricsByKind(metrics, "sparse")
	assert.NotContains(t, sparse, catalog.KindBenchmarkAverage)
	assert.Equal(t, 75.0, sparse["benchmark_mmlu"])
}

func TestLocalParse(t *testing.T) {
	src := NewLocalSource("", 0)
	payload := []byte(`{"models":[
		{"name":"llama3:70b","details":{"parameter_size":"70B"}},
		{"name":"tiny","details":{"parameter_size":"unknown"}}
	]}`)

	metrics, err := src.Parse(payload)
	require.NoError(t, err)

	got := metricsByKind(metrics, "llama3:70b")
	assert.Zero(t, got[catalog.KindCostBlendedPerMillion])
	assert.InDelta(t, 40+70*0.36, got[catalog.KindBenchmarkAverage], 1e-9)

	// No parseable size means no quality estimate, but cost still lands.
	tiny := metricsByKind(metrics, "tiny")
	assert.Contains(t, tiny, catalog.KindCostBlendedPerMillion)
	assert.NotContains(t, tiny, catalog.KindBenchmarkAverage)

	for _, m := range metrics {
		assert.Equal(t, true, m.Metadata["is_local"])
	}
}

func TestValidate(t *testing.T) {
	openrouter := NewOpenRouterSource("", 0)
	arena := NewArenaSource("https://arena.example/rankings", 0)
	leaderboard := NewLeaderboardSource("https://boards.example/table.json", 0)
	local := NewLocalSource("", 0)

	assert.True(t, openrouter.Validate([]byte(`{"data":[{"id":"m"}]}`)))
	assert.True(t, arena.Validate([]byte(arenaBody)))
	assert.True(t, leaderboard.Validate([]byte(`{"rows":[{"model":"m"}]}`)))
	assert.True(t, local.Validate([]byte(`{"models":[]}`)), "an empty local listing is valid")

	// Error pages and empty listings must not pass as fresh payloads.
	for _, src := range []Source{openrouter, arena, leaderboard, local} {
		assert.False(t, src.Validate([]byte(`<html>502</html>`)), src.Name())
	}
	assert.False(t, openrouter.Validate([]byte(`{"data":[]}`)))
	assert.False(t, arena.Validate([]byte(`{"models":[]}`)))
	assert.False(t, leaderboard.Validate([]byte(`{"rows":[]}`)))
}

func TestQualityFromParams_Cap(t *testing.T) {
	q, ok := qualityFromParams("400B")
	require.True(t, ok)
	assert.Equal(t, 75.0, q)
}

// --- Fetcher ---

func testFetcher(t *testing.T, ts *httptest.Server, opts ...FetcherOption) *Fetcher {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	checker := urlcheck.New([]string{u.Hostname()})
	opts = append([]FetcherOption{WithHTTPClient(ts.Client()), WithBackoff(time.Millisecond)}, opts...)
	return NewFetcher(checker, opts...)
}

func TestFetch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	body, err := testFetcher(t, ts).Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer ts.Close()

	body, err := testFetcher(t, ts).Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 3, calls)
}

func TestFetch_HonorsRetryAfterOn429(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer ts.Close()

	body, err := testFetcher(t, ts).Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 2, calls)
}

func TestFetch_ClientErrorDoesNotRetry(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := testFetcher(t, ts).Fetch(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestFetch_BlockedURL(t *testing.T) {
	f := NewFetcher(urlcheck.New(nil))
	_, err := f.Fetch(context.Background(), "http://169.254.169.254/latest/meta-data/")
	assert.ErrorIs(t, err, urlcheck.ErrPrivateAddress)
}

func TestStatusError_ParseRetryAfter(t *testing.T) {
	var se StatusError
	se.ParseRetryAfter("7")
	assert.Equal(t, 7*time.Second, se.RetryAfter)

	se = StatusError{}
	se.ParseRetryAfter(time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat))
	assert.Greater(t, se.RetryAfter, 5*time.Second)

	se = StatusError{}
	se.ParseRetryAfter("garbage")
	assert.Zero(t, se.RetryAfter)
}
