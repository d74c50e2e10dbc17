package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_AdmitsUpToLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	w := NewSlidingWindow(NewMemoryWindowStore(), 5, time.Minute)
	w.nowFunc = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		d, err := w.Consume(ctx, "k", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "admission %d", i)
	}

	d, err := w.Consume(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestSlidingWindow_ResumesAfterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	w := NewSlidingWindow(NewMemoryWindowStore(), 2, time.Minute)
	w.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := w.Consume(ctx, "k", 1)
		require.NoError(t, err)
	}
	d, err := w.Consume(ctx, "k", 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Window slides past the first admissions.
	now = now.Add(time.Minute + time.Second)
	d, err = w.Consume(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_CheckDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	w := NewSlidingWindow(NewMemoryWindowStore(), 1, time.Minute)

	for i := 0; i < 3; i++ {
		d, err := w.Check(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestSlidingWindow_KeysIndependent(t *testing.T) {
	ctx := context.Background()
	w := NewSlidingWindow(NewMemoryWindowStore(), 1, time.Minute)

	d, err := w.Consume(ctx, "a", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = w.Consume(ctx, "a", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = w.Consume(ctx, "b", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_ResetRestoresFullRemaining(t *testing.T) {
	ctx := context.Background()
	w := NewSlidingWindow(NewMemoryWindowStore(), 3, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := w.Consume(ctx, "k", 1)
		require.NoError(t, err)
	}
	require.NoError(t, w.Reset(ctx, "k"))

	d, err := w.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestTokenBucket_ConsumeAndRefill(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	b := NewTokenBucket(10, 1) // 10 tokens, 1/sec
	b.nowFunc = func() time.Time { return now }

	d, err := b.Consume(ctx, "k", 10)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = b.Consume(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(50*time.Millisecond))

	// Refill credits elapsed time lazily.
	now = now.Add(5 * time.Second)
	d, err = b.Consume(ctx, "k", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucket_CapacityCap(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	b := NewTokenBucket(5, 100)
	b.nowFunc = func() time.Time { return now }

	_, err := b.Consume(ctx, "k", 5)
	require.NoError(t, err)

	// A long idle period must not overfill beyond capacity.
	now = now.Add(time.Hour)
	d, err := b.Check(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, d.Remaining)
}

func newTestManager(cfg Config) (*Manager, *time.Time) {
	now := time.Now()
	m := NewManager(cfg, NewMemoryWindowStore(), nil)
	for _, w := range m.windows {
		w.nowFunc = func() time.Time { return now }
	}
	return m, &now
}

func TestManager_TwoPhaseAdmission(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 2
	m, _ := newTestManager(cfg)

	for i := 0; i < 2; i++ {
		res, err := m.Admit(ctx, "id")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	}

	res, err := m.Admit(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, StatusExceeded, res.Status)
	assert.False(t, res.Allowed())
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// The denied attempt must not have consumed from the larger windows.
	assert.Equal(t, cfg.RequestsPerHour-2, res.Windows["hour"].Remaining)
}

func TestManager_WarningNearLimit(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 10
	cfg.RequestsPerHour = 1000
	cfg.RequestsPerDay = 10000
	cfg.WarningThreshold = 0.8
	m, _ := newTestManager(cfg)

	var res Result
	var err error
	for i := 0; i < 9; i++ {
		res, err = m.Admit(ctx, "id")
		require.NoError(t, err)
	}
	// 9 of 10 used: remaining 1 < 2 (20% of limit).
	assert.Equal(t, StatusWarning, res.Status)
}

func TestManager_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false
	m, _ := newTestManager(cfg)

	res, err := m.Admit(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, res.Status)
	assert.True(t, res.Allowed())
}

func TestManager_ResetThenFullRemaining(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 5
	m, _ := newTestManager(cfg)

	for i := 0; i < 5; i++ {
		_, err := m.Admit(ctx, "id")
		require.NoError(t, err)
	}
	require.NoError(t, m.Reset(ctx, "id"))

	res, err := m.StatusFor(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 5, res.Windows["minute"].Remaining)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(t.TempDir()+"/missing.json", testLogger())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_RoundTrip(t *testing.T) {
	path := t.TempDir() + "/nested/quota.json"
	want := Config{RequestsPerMinute: 7, RequestsPerHour: 70, RequestsPerDay: 700, WarningThreshold: 0.5, Enabled: true}
	require.NoError(t, SaveConfig(path, want))
	assert.Equal(t, want, LoadConfig(path, testLogger()))
}
