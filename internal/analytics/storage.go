// Package analytics records routing decisions in SQLite and serves the usage
// summaries, time series, and spend figures the admin surface and the budget
// manager read.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is one routing decision outcome.
type Event struct {
	ID               int64     `json:"id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id"`
	ModelID          int64     `json:"model_id"`
	ModelName        string    `json:"model_name"`
	Profile          string    `json:"profile"`
	Success          bool      `json:"success"`
	Fallback         bool      `json:"fallback"`
	LatencyMS        int64     `json:"latency_ms"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	EstimatedCost    float64   `json:"estimated_cost"`
	ErrorClass       string    `json:"error_class,omitempty"`
	ClientID         string    `json:"client_id,omitempty"`
}

// Storage persists routing events. It shares the database handle with the
// metric store so one file holds both.
type Storage struct {
	db *sql.DB
}

// NewStorage wraps an open database handle.
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Migrate creates the routing_events table and its indexes.
func (s *Storage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS routing_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			model_id INTEGER NOT NULL,
			model_name TEXT NOT NULL,
			profile TEXT NOT NULL,
			success INTEGER NOT NULL,
			fallback INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost REAL NOT NULL DEFAULT 0,
			error_class TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON routing_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_model ON routing_events(model_name, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_profile ON routing_events(profile, timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("analytics migrate: %w", err)
		}
	}
	return nil
}

// InsertEvents writes a batch in one transaction.
func (s *Storage) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO routing_events
			(timestamp, request_id, model_id, model_name, profile, success, fallback,
			 latency_ms, prompt_tokens, completion_tokens, estimated_cost, error_class, client_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			ts.UTC().Format(time.RFC3339), e.RequestID, e.ModelID, e.ModelName, e.Profile,
			boolToInt(e.Success), boolToInt(e.Fallback),
			e.LatencyMS, e.PromptTokens, e.CompletionTokens, e.EstimatedCost,
			e.ErrorClass, e.ClientID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Summary aggregates routing activity over a trailing window.
type Summary struct {
	WindowHours      float64 `json:"window_hours"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessCount     int64   `json:"success_count"`
	FallbackCount    int64   `json:"fallback_count"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Summarize reports totals for events newer than the window.
func (s *Storage) Summarize(ctx context.Context, window time.Duration) (Summary, error) {
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339)
	sum := Summary{WindowHours: window.Hours()}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(fallback), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(estimated_cost), 0)
		FROM routing_events WHERE timestamp >= ?`, cutoff).
		Scan(&sum.TotalRequests, &sum.SuccessCount, &sum.FallbackCount,
			&sum.AvgLatencyMS, &sum.PromptTokens, &sum.CompletionTokens, &sum.EstimatedCost)
	if err != nil {
		return sum, err
	}
	if sum.TotalRequests > 0 {
		sum.SuccessRate = float64(sum.SuccessCount) / float64(sum.TotalRequests)
	}
	return sum, nil
}

// TimeseriesPoint is one non-empty bucket of routing activity.
type TimeseriesPoint struct {
	Bucket        time.Time `json:"bucket"`
	Requests      int64     `json:"requests"`
	SuccessCount  int64     `json:"success_count"`
	AvgLatencyMS  float64   `json:"avg_latency_ms"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// Timeseries buckets events newer than the window into bucketMinutes-wide
// slots, floored to the bucket boundary. Empty buckets are omitted.
func (s *Storage) Timeseries(ctx context.Context, window time.Duration, bucketMinutes int) ([]TimeseriesPoint, error) {
	if bucketMinutes <= 0 {
		bucketMinutes = 60
	}
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, success, latency_ms, estimated_cost
		FROM routing_events WHERE timestamp >= ? ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	bucket := time.Duration(bucketMinutes) * time.Minute
	var points []TimeseriesPoint
	var latencySum int64
	for rows.Next() {
		var ts string
		var success int
		var latency int64
		var cost float64
		if err := rows.Scan(&ts, &success, &latency, &cost); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		slot := t.Truncate(bucket)
		if len(points) == 0 || !points[len(points)-1].Bucket.Equal(slot) {
			points = append(points, TimeseriesPoint{Bucket: slot})
			latencySum = 0
		}
		p := &points[len(points)-1]
		p.Requests++
		p.SuccessCount += int64(success)
		p.EstimatedCost += cost
		latencySum += latency
		p.AvgLatencyMS = float64(latencySum) / float64(p.Requests)
	}
	return points, rows.Err()
}

// ModelUsage is the per-model rollup over a window.
type ModelUsage struct {
	ModelName     string  `json:"model_name"`
	Requests      int64   `json:"requests"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// ModelBreakdown rolls events up per model, highest request count first.
func (s *Storage) ModelBreakdown(ctx context.Context, window time.Duration) ([]ModelUsage, error) {
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, COUNT(*),
		       COALESCE(AVG(success), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(estimated_cost), 0)
		FROM routing_events WHERE timestamp >= ?
		GROUP BY model_name
		ORDER BY COUNT(*) DESC, model_name ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var usage []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.ModelName, &u.Requests, &u.SuccessRate, &u.AvgLatencyMS, &u.EstimatedCost); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// SpendSince reports total estimated spend over a trailing window. This is
// the budget manager's SpendSource.
func (s *Storage) SpendSince(ctx context.Context, window time.Duration) (float64, error) {
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339)
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM routing_events WHERE timestamp >= ?`,
		cutoff).Scan(&total)
	return total, err
}

// PruneOldEvents deletes events older than the retention window.
func (s *Storage) PruneOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM routing_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
