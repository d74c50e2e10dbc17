package offline

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCache(t *testing.T, opts ...CacheOption) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), testLogger(), opts...)
	require.NoError(t, err)
	return c
}

func TestSetGet_RoundTrip(t *testing.T) {
	c := newCache(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.Set("k", payload{Name: "x", Count: 3}, time.Hour))

	var got payload
	ok, err := c.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "x", Count: 3}, got)
}

func TestGet_AbsentKey(t *testing.T) {
	c := newCache(t)
	ok, err := c.Get("missing", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_ExpiredIsAbsent(t *testing.T) {
	c := newCache(t)
	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	require.NoError(t, c.Set("k", "v", time.Minute))

	// Inside the TTL it is present.
	ok, err := c.Exists("k")
	require.NoError(t, err)
	assert.True(t, ok)

	// Past the TTL it reads as absent and the entry is removed.
	now = now.Add(2 * time.Minute)
	ok, err = c.Exists("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetStale_BypassesTTL(t *testing.T) {
	c := newCache(t)
	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	require.NoError(t, c.Set("k", "v", time.Minute))
	now = now.Add(time.Hour)

	var got string
	ok, err := c.GetStale("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestNoTTL_NeverExpires(t *testing.T) {
	c := newCache(t)
	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	require.NoError(t, c.Set("k", 42, NoTTL))
	now = now.Add(1000 * time.Hour)

	var got int
	ok, err := c.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestSurvivesMemoryLoss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Set("k", "persisted", time.Hour))

	// A fresh cache over the same directory reads from disk.
	c2, err := New(dir, testLogger())
	require.NoError(t, err)

	var got string
	ok, err := c2.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", got)
}

func TestClear_GlobPattern(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Set("source:a", 1, NoTTL))
	require.NoError(t, c.Set("source:b", 2, NoTTL))
	require.NoError(t, c.Set("other", 3, NoTTL))

	removed, err := c.Clear("source:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ok, _ := c.Exists("other")
	assert.True(t, ok)
}

func TestClear_EmptyPatternClearsAll(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Set("a", 1, NoTTL))
	require.NoError(t, c.Set("b", 2, NoTTL))

	removed, err := c.Clear("")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestGetMany_SetMany(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetMany(map[string]any{"a": 1, "b": 2}, time.Hour))

	got, err := c.GetMany([]string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.JSONEq(t, "1", string(got["a"]))
	assert.JSONEq(t, "2", string(got["b"]))
}

func TestIncrement(t *testing.T) {
	c := newCache(t)

	v, err := c.Increment("counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = c.Increment("counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)
}

func TestGetOrCompute(t *testing.T) {
	c := newCache(t)
	calls := 0
	factory := func() (any, error) {
		calls++
		return "computed", nil
	}

	var got string
	require.NoError(t, c.GetOrCompute("k", time.Hour, &got, factory))
	assert.Equal(t, "computed", got)

	got = ""
	require.NoError(t, c.GetOrCompute("k", time.Hour, &got, factory))
	assert.Equal(t, "computed", got)
	assert.Equal(t, 1, calls, "factory runs only on miss")
}

func TestMaxSize_EvictsOldestFirst(t *testing.T) {
	c := newCache(t, WithMaxSize(2))
	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	require.NoError(t, c.Set("old", 1, NoTTL))
	now = now.Add(time.Second)
	require.NoError(t, c.Set("mid", 2, NoTTL))
	now = now.Add(time.Second)
	require.NoError(t, c.Set("new", 3, NoTTL))

	ok, _ := c.Exists("old")
	assert.False(t, ok, "oldest entry is evicted")
	ok, _ = c.Exists("mid")
	assert.True(t, ok)
	ok, _ = c.Exists("new")
	assert.True(t, ok)
}

func TestSourceCache_StaleFallback(t *testing.T) {
	c := newCache(t)
	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	sc := NewSourceCache(c, time.Hour)
	require.NoError(t, sc.Store("openrouter", []byte(`{"models":[]}`)))

	payload, ok, err := sc.Retrieve("openrouter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"models":[]}`, string(payload))

	// Once past max age, only the stale path returns it.
	now = now.Add(2 * time.Hour)
	_, ok, err = sc.Retrieve("openrouter")
	require.NoError(t, err)
	assert.False(t, ok)

	payload, ok, err = sc.RetrieveStale("openrouter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"models":[]}`, string(payload))
}
