// Package store persists the canonical model catalog, raw benchmark metrics,
// name aliases, source-sync bookkeeping, and the precomputed routing index.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/routehub/routehub/internal/catalog"
)

// ErrNotFound is returned when a model or alias does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned on unique-constraint conflicts (model name, alias).
var ErrDuplicate = errors.New("store: duplicate")

// RoutingIndexRow is one precomputed (model, profile) score.
type RoutingIndexRow struct {
	ModelID      int64   `json:"model_id"`
	ModelName    string  `json:"model_name,omitempty"`
	Profile      string  `json:"profile"`
	Score        float64 `json:"score"`
	QualityScore float64 `json:"quality_score"`
	LatencyScore float64 `json:"latency_score"`
	CostScore    float64 `json:"cost_score"`
}

// Store is the persistence contract the routing core depends on.
type Store interface {
	// Catalog
	ListModels(ctx context.Context, activeOnly bool) ([]catalog.Model, error)
	GetModel(ctx context.Context, id int64) (*catalog.Model, error)
	GetModelByName(ctx context.Context, name string) (*catalog.Model, error)
	CreateModel(ctx context.Context, m catalog.Model) (int64, error)
	SetModelActive(ctx context.Context, id int64, active bool) error
	CatalogNames(ctx context.Context, activeOnly bool) (map[int64]string, error)

	// Aliases
	GetAlias(ctx context.Context, alias string) (*catalog.Alias, error)
	UpsertAlias(ctx context.Context, a catalog.Alias) error
	ListAliasesNeedingReview(ctx context.Context) ([]catalog.Alias, error)
	ReviewAlias(ctx context.Context, alias string, approve bool) error

	// Metrics
	AppendMetrics(ctx context.Context, source string, modelID int64, metrics []catalog.RawMetric) error
	MetricsView(ctx context.Context, modelID int64) (catalog.MetricsView, error)
	AllMetricsViews(ctx context.Context, activeOnly bool) ([]catalog.MetricsView, error)
	PruneMetrics(ctx context.Context, retention time.Duration) (int64, error)
	MarkInactiveModels(ctx context.Context, inactivity time.Duration) (int64, error)

	// Source bookkeeping
	RecordSourceSync(ctx context.Context, s catalog.SourceStatus) error
	ListSources(ctx context.Context) ([]catalog.SourceStatus, error)

	// Routing index
	SaveRoutingIndex(ctx context.Context, profile string, rows []RoutingIndexRow) error
	RoutingIndex(ctx context.Context, profile string, limit int) ([]RoutingIndexRow, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
