package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Status summarizes an identity's standing across all quota windows.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
	StatusDisabled Status = "disabled"
)

// Config holds the per-identity quota limits. A limit of 0 disables that
// window.
type Config struct {
	RequestsPerMinute int     `json:"requests_per_minute"`
	RequestsPerHour   int     `json:"requests_per_hour"`
	RequestsPerDay    int     `json:"requests_per_day"`
	WarningThreshold  float64 `json:"warning_threshold"`
	Enabled           bool    `json:"enabled"`
}

// DefaultConfig returns the stock quota limits.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		WarningThreshold:  0.8,
		Enabled:           true,
	}
}

// LoadConfig reads a quota config from a JSON file. A missing or unparsable
// file yields the defaults.
func LoadConfig(path string, logger *slog.Logger) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("quota config unreadable, using defaults", "path", path, "error", err)
		}
		return DefaultConfig()
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("quota config corrupt, using defaults", "path", path, "error", err)
		return DefaultConfig()
	}
	if cfg.WarningThreshold <= 0 || cfg.WarningThreshold > 1 {
		cfg.WarningThreshold = 0.8
	}
	return cfg
}

// SaveConfig persists the config as JSON, creating the directory if needed.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("quota: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Result is the manager's verdict for one admission attempt.
type Result struct {
	Status     Status              `json:"status"`
	Message    string              `json:"message,omitempty"`
	Windows    map[string]Decision `json:"windows,omitempty"`
	RetryAfter time.Duration       `json:"retry_after,omitempty"`
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	return r.Status != StatusExceeded
}

// Manager composes minute, hour, and day sliding windows under one config.
type Manager struct {
	cfg     Config
	windows map[string]*SlidingWindow
	logger  *slog.Logger
}

// NewManager builds a Manager over the given window store. Disabled windows
// (limit 0) are omitted.
func NewManager(cfg Config, store WindowStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{cfg: cfg, windows: make(map[string]*SlidingWindow), logger: logger}
	add := func(name string, limit int, window time.Duration) {
		if limit > 0 {
			m.windows[name] = NewSlidingWindow(prefixedStore{store, name + ":"}, limit, window)
		}
	}
	add("minute", cfg.RequestsPerMinute, time.Minute)
	add("hour", cfg.RequestsPerHour, time.Hour)
	add("day", cfg.RequestsPerDay, 24*time.Hour)
	return m
}

// Config returns the manager's current configuration.
func (m *Manager) Config() Config { return m.cfg }

// prefixedStore namespaces one window's keys within a shared store.
type prefixedStore struct {
	WindowStore
	prefix string
}

func (p prefixedStore) Prune(ctx context.Context, key string, cutoff time.Time) (int, error) {
	return p.WindowStore.Prune(ctx, p.prefix+key, cutoff)
}

func (p prefixedStore) Oldest(ctx context.Context, key string) (time.Time, bool, error) {
	return p.WindowStore.Oldest(ctx, p.prefix+key)
}

func (p prefixedStore) Append(ctx context.Context, key string, ts time.Time, n int) error {
	return p.WindowStore.Append(ctx, p.prefix+key, ts, n)
}

func (p prefixedStore) Clear(ctx context.Context, key string) error {
	return p.WindowStore.Clear(ctx, p.prefix+key)
}

// Admit runs the two-phase admission: every window is checked first, and the
// request consumes from all windows only when all of them pass.
func (m *Manager) Admit(ctx context.Context, key string) (Result, error) {
	if !m.cfg.Enabled || len(m.windows) == 0 {
		return Result{Status: StatusDisabled}, nil
	}

	res := Result{Status: StatusOK, Windows: make(map[string]Decision, len(m.windows))}

	for name, w := range m.windows {
		d, err := w.Check(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("quota: check %s window: %w", name, err)
		}
		res.Windows[name] = d
		if !d.Allowed {
			res.Status = StatusExceeded
			if d.RetryAfter > res.RetryAfter {
				res.RetryAfter = d.RetryAfter
			}
		}
	}
	if res.Status == StatusExceeded {
		res.Message = "rate limit exceeded"
		return res, nil
	}

	for name, w := range m.windows {
		d, err := w.Consume(ctx, key, 1)
		if err != nil {
			return Result{}, fmt.Errorf("quota: consume %s window: %w", name, err)
		}
		res.Windows[name] = d
	}

	for name, d := range res.Windows {
		if float64(d.Remaining) < float64(d.Limit)*(1-m.cfg.WarningThreshold) {
			res.Status = StatusWarning
			res.Message = fmt.Sprintf("approaching %s limit", name)
			break
		}
	}
	return res, nil
}

// StatusFor reports the identity's current standing without consuming.
func (m *Manager) StatusFor(ctx context.Context, key string) (Result, error) {
	if !m.cfg.Enabled || len(m.windows) == 0 {
		return Result{Status: StatusDisabled}, nil
	}

	res := Result{Status: StatusOK, Windows: make(map[string]Decision, len(m.windows))}
	for name, w := range m.windows {
		d, err := w.Check(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("quota: check %s window: %w", name, err)
		}
		res.Windows[name] = d
		switch {
		case !d.Allowed:
			res.Status = StatusExceeded
			if d.RetryAfter > res.RetryAfter {
				res.RetryAfter = d.RetryAfter
			}
		case res.Status == StatusOK &&
			float64(d.Remaining) < float64(d.Limit)*(1-m.cfg.WarningThreshold):
			res.Status = StatusWarning
			res.Message = fmt.Sprintf("approaching %s limit", name)
		}
	}
	if res.Status == StatusExceeded {
		res.Message = "rate limit exceeded"
	}
	return res, nil
}

// Reset clears all windows for the key.
func (m *Manager) Reset(ctx context.Context, key string) error {
	for name, w := range m.windows {
		if err := w.Reset(ctx, key); err != nil {
			return fmt.Errorf("quota: reset %s window: %w", name, err)
		}
	}
	return nil
}
