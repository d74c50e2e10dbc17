// Package budget tracks estimated spend against daily, weekly, and monthly
// limits. Spend figures come from the analytics event store; enforcement is
// advisory unless the hard-limit flag is set.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status classifies the current standing against the configured limits.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Config holds the budget limits in USD. A limit of 0 disables that window.
type Config struct {
	DailyLimit     float64 `json:"daily_limit"`
	WeeklyLimit    float64 `json:"weekly_limit"`
	MonthlyLimit   float64 `json:"monthly_limit"`
	AlertThreshold float64 `json:"alert_threshold"`
	HardLimit      bool    `json:"hard_limit"`
}

// DefaultConfig returns the stock budget limits.
func DefaultConfig() Config {
	return Config{
		DailyLimit:     10,
		WeeklyLimit:    50,
		MonthlyLimit:   100,
		AlertThreshold: 0.8,
	}
}

// SpendSource reports total estimated spend over a trailing window.
type SpendSource interface {
	SpendSince(ctx context.Context, window time.Duration) (float64, error)
}

// Summary is the current spend position across all windows.
type Summary struct {
	DailySpend       float64 `json:"daily_spend"`
	WeeklySpend      float64 `json:"weekly_spend"`
	MonthlySpend     float64 `json:"monthly_spend"`
	DailyRemaining   float64 `json:"daily_remaining"`
	WeeklyRemaining  float64 `json:"weekly_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	DailyPercent     float64 `json:"daily_percent"`
	WeeklyPercent    float64 `json:"weekly_percent"`
	MonthlyPercent   float64 `json:"monthly_percent"`
	Status           Status  `json:"status"`
	Message          string  `json:"status_message"`
}

// Manager evaluates spend against the configured limits.
type Manager struct {
	mu         sync.RWMutex
	cfg        Config
	configPath string
	source     SpendSource
	logger     *slog.Logger
}

// NewManager loads the budget config from configPath (defaults on absence or
// corruption) and reads spend from source.
func NewManager(configPath string, source SpendSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{configPath: configPath, source: source, logger: logger}
	m.cfg = m.loadConfig()
	return m
}

func (m *Manager) loadConfig() Config {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("budget config unreadable, using defaults", "path", m.configPath, "error", err)
		}
		return DefaultConfig()
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		m.logger.Warn("budget config corrupt, using defaults", "path", m.configPath, "error", err)
		return DefaultConfig()
	}
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		cfg.AlertThreshold = 0.8
	}
	return cfg
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig swaps in a new configuration and persists it, creating the
// config directory on first write.
func (m *Manager) UpdateConfig(cfg Config) error {
	if cfg.DailyLimit < 0 || cfg.WeeklyLimit < 0 || cfg.MonthlyLimit < 0 {
		return fmt.Errorf("budget: limits must be non-negative")
	}
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		cfg.AlertThreshold = 0.8
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("budget: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("budget: write config: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

type window struct {
	name   string
	span   time.Duration
	limit  float64
	spend  float64
	pct    float64
	remain float64
}

func (m *Manager) windows(ctx context.Context) ([3]window, error) {
	cfg := m.Config()
	out := [3]window{
		{name: "daily", span: 24 * time.Hour, limit: cfg.DailyLimit},
		{name: "weekly", span: 168 * time.Hour, limit: cfg.WeeklyLimit},
		{name: "monthly", span: 720 * time.Hour, limit: cfg.MonthlyLimit},
	}
	for i := range out {
		spend, err := m.source.SpendSince(ctx, out[i].span)
		if err != nil {
			return out, fmt.Errorf("budget: read %s spend: %w", out[i].name, err)
		}
		out[i].spend = spend
		out[i].remain = out[i].limit - spend
		if out[i].remain < 0 {
			out[i].remain = 0
		}
		if out[i].limit > 0 {
			out[i].pct = spend / out[i].limit * 100
		}
	}
	return out, nil
}

// SpendSummary reports spend, remaining budget, and status for each window.
func (m *Manager) SpendSummary(ctx context.Context) (Summary, error) {
	ws, err := m.windows(ctx)
	if err != nil {
		return Summary{}, err
	}
	cfg := m.Config()

	s := Summary{
		DailySpend: ws[0].spend, WeeklySpend: ws[1].spend, MonthlySpend: ws[2].spend,
		DailyRemaining: ws[0].remain, WeeklyRemaining: ws[1].remain, MonthlyRemaining: ws[2].remain,
		DailyPercent: ws[0].pct, WeeklyPercent: ws[1].pct, MonthlyPercent: ws[2].pct,
		Status: StatusOK, Message: "budget healthy",
	}

	var exceeded, warnings []string
	for _, w := range ws {
		if w.limit <= 0 {
			continue
		}
		switch {
		case w.spend >= w.limit:
			exceeded = append(exceeded, w.name)
		case w.pct >= cfg.AlertThreshold*100:
			warnings = append(warnings, fmt.Sprintf("%s (%.0f%%)", w.name, w.pct))
		}
	}
	switch {
	case len(exceeded) > 0:
		s.Status = StatusExceeded
		s.Message = "budget exceeded: " + strings.Join(exceeded, ", ")
	case len(warnings) > 0:
		s.Status = StatusWarning
		s.Message = "approaching limit: " + strings.Join(warnings, ", ")
	}
	return s, nil
}

// CheckAllowed decides whether a request with the given estimated cost may
// proceed. Advisory mode always allows; hard mode denies when any enabled
// window is exceeded or would be crossed by this request.
func (m *Manager) CheckAllowed(ctx context.Context, estimatedCost float64) (bool, string, error) {
	if !m.Config().HardLimit {
		return true, "budget enforcement is advisory", nil
	}

	ws, err := m.windows(ctx)
	if err != nil {
		return false, "", err
	}
	for _, w := range ws {
		if w.limit <= 0 {
			continue
		}
		if w.spend >= w.limit {
			return false, fmt.Sprintf("%s budget exceeded", w.name), nil
		}
		if w.spend+estimatedCost > w.limit {
			return false, fmt.Sprintf("request would exceed %s budget limit", w.name), nil
		}
	}
	return true, "within budget", nil
}
