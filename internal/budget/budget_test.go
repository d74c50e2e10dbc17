package budget

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpend struct {
	daily, weekly, monthly float64
}

func (f fakeSpend) SpendSince(_ context.Context, window time.Duration) (float64, error) {
	switch window {
	case 24 * time.Hour:
		return f.daily, nil
	case 168 * time.Hour:
		return f.weekly, nil
	default:
		return f.monthly, nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, cfg Config, spend fakeSpend) *Manager {
	t.Helper()
	m := NewManager(t.TempDir()+"/budget.json", spend, testLogger())
	require.NoError(t, m.UpdateConfig(cfg))
	return m
}

func TestSpendSummary_OK(t *testing.T) {
	m := newManager(t, DefaultConfig(), fakeSpend{daily: 1, weekly: 5, monthly: 20})

	s, err := m.SpendSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, s.Status)
	assert.Equal(t, 9.0, s.DailyRemaining)
	assert.InDelta(t, 10.0, s.DailyPercent, 1e-9)
}

func TestSpendSummary_Warning(t *testing.T) {
	m := newManager(t, DefaultConfig(), fakeSpend{daily: 8.5, weekly: 10, monthly: 20})

	s, err := m.SpendSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, s.Status)
	assert.Contains(t, s.Message, "daily")
}

func TestSpendSummary_Exceeded(t *testing.T) {
	m := newManager(t, DefaultConfig(), fakeSpend{daily: 11, weekly: 55, monthly: 20})

	s, err := m.SpendSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusExceeded, s.Status)
	assert.Contains(t, s.Message, "daily")
	assert.Contains(t, s.Message, "weekly")
	assert.Zero(t, s.DailyRemaining)
}

func TestCheckAllowed_AdvisoryAlwaysAllows(t *testing.T) {
	m := newManager(t, DefaultConfig(), fakeSpend{daily: 1000, weekly: 1000, monthly: 1000})

	ok, reason, err := m.CheckAllowed(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, reason, "advisory")
}

func TestCheckAllowed_HardLimitDenies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardLimit = true
	m := newManager(t, cfg, fakeSpend{daily: 11})

	ok, reason, err := m.CheckAllowed(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "daily")
}

func TestCheckAllowed_ProjectedCrossingDenied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardLimit = true
	m := newManager(t, cfg, fakeSpend{daily: 9.5})

	ok, _, err := m.CheckAllowed(context.Background(), 1.0)
	require.NoError(t, err)
	assert.False(t, ok, "9.5 + 1.0 crosses the daily limit of 10")

	ok, _, err = m.CheckAllowed(context.Background(), 0.25)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestZeroLimitDisablesWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardLimit = true
	cfg.DailyLimit = 0
	m := newManager(t, cfg, fakeSpend{daily: 1e6, weekly: 1, monthly: 1})

	ok, _, err := m.CheckAllowed(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := m.SpendSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, s.Status)
	assert.Zero(t, s.DailyPercent)
}

func TestConfigPersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/nested/budget.json"

	m := NewManager(path, fakeSpend{}, testLogger())
	cfg := Config{DailyLimit: 3, WeeklyLimit: 15, MonthlyLimit: 60, AlertThreshold: 0.5, HardLimit: true}
	require.NoError(t, m.UpdateConfig(cfg))

	reloaded := NewManager(path, fakeSpend{}, testLogger())
	assert.Equal(t, cfg, reloaded.Config())
}

func TestCorruptConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/budget.json"
	require.NoError(t, writeFile(path, "{not json"))

	m := NewManager(path, fakeSpend{}, testLogger())
	assert.Equal(t, DefaultConfig(), m.Config())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
