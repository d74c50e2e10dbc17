// Package catalog defines the canonical model catalog types shared by the
// ingestion pipeline, the metric store, and the scorer. Rows are owned by the
// store; everything else holds numeric ids and resolves on demand.
package catalog

import "time"

// Metric kinds the routing core understands. Sources may emit additional
// benchmark_* kinds; anything else is ignored at ingest.
const (
	KindElo              = "elo_rating"
	KindEloUncertainty   = "elo_uncertainty"
	KindBenchmarkAverage = "benchmark_average"
	KindBenchmarkPrefix  = "benchmark_"

	KindLatencyP50 = "latency_p50"
	KindLatencyP90 = "latency_p90"
	KindTTFTP90    = "ttft_p90"

	KindCostPromptPerMillion     = "cost_prompt_per_million"
	KindCostCompletionPerMillion = "cost_completion_per_million"
	KindCostBlendedPerMillion    = "cost_blended_per_million"

	KindContextLength = "context_length"
)

// Model is a canonical catalog entry. Name is unique and immutable; models
// are marked inactive rather than deleted.
type Model struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Provider      string    `json:"provider"`
	ContextLength int64     `json:"context_length,omitempty"`
	Active        bool      `json:"active"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Alias maps a source-specific model name onto a canonical model.
type Alias struct {
	Alias       string  `json:"alias"`
	CanonicalID int64   `json:"canonical_id"`
	Confidence  float64 `json:"confidence"`
	Reviewed    bool    `json:"reviewed"`
	Source      string  `json:"source,omitempty"`
}

// RawMetric is a single measurement as emitted by a benchmark source.
// Immutable once recorded.
type RawMetric struct {
	SourceModel string         `json:"source_model"`
	Kind        string         `json:"kind"`
	Value       float64        `json:"value"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// MetricsView is the per-model read projection the scorer consumes: the most
// recent non-null value per metric kind.
type MetricsView struct {
	ModelID int64              `json:"model_id"`
	Name    string             `json:"name"`
	Values  map[string]float64 `json:"values"`
}

// Value returns the representative value for a metric kind.
func (v MetricsView) Value(kind string) (float64, bool) {
	val, ok := v.Values[kind]
	return val, ok
}

// SourceStatus is the ingest bookkeeping row for one benchmark source.
type SourceStatus struct {
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	LastSync        time.Time `json:"last_sync,omitempty"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	IntervalMinutes int       `json:"interval_minutes"`
}
