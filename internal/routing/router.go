// Package routing selects a model for a request: candidates come from the
// metric store, circuit breakers gate out failing models, and the profile
// scorer ranks what remains. The top choice ships with a fallback chain so a
// caller can retry without a second routing pass.
package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/routehub/routehub/internal/catalog"
	"github.com/routehub/routehub/internal/circuitbreaker"
	"github.com/routehub/routehub/internal/scoring"
	"github.com/routehub/routehub/internal/store"
)

// ErrNoCandidates is returned when no model can serve the request.
var ErrNoCandidates = errors.New("routing: no candidate models")

// defaultFallbackCount is how many alternates ride along with the selection.
const defaultFallbackCount = 2

// Decision is the outcome of one routing pass.
type Decision struct {
	Profile     string          `json:"profile"`
	Selected    scoring.Score   `json:"selected"`
	Fallbacks   []scoring.Score `json:"fallbacks"`
	WasFallback bool            `json:"was_fallback"`
	Degraded    bool            `json:"degraded"`
	ElapsedMS   float64         `json:"elapsed_ms"`
}

// Router ranks candidates for a routing profile.
type Router struct {
	store         store.Store
	scorer        *scoring.Scorer
	profiles      *scoring.Registry
	breakers      *circuitbreaker.Registry
	fallbackCount int
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithFallbackCount sets how many fallback models accompany a selection.
func WithFallbackCount(n int) Option {
	return func(r *Router) {
		if n >= 0 {
			r.fallbackCount = n
		}
	}
}

// New builds a Router over the given store, profile registry, and breaker
// registry.
func New(st store.Store, profiles *scoring.Registry, breakers *circuitbreaker.Registry, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		store:         st,
		scorer:        scoring.NewScorer(),
		profiles:      profiles,
		breakers:      breakers,
		fallbackCount: defaultFallbackCount,
		logger:        logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route picks the best available model for the profile.
func (r *Router) Route(ctx context.Context, profileName string) (Decision, error) {
	return r.route(ctx, profileName, nil)
}

// RouteWithFallback re-routes after upstream failures, excluding the models
// that already failed this request.
func (r *Router) RouteWithFallback(ctx context.Context, profileName string, failedIDs []int64) (Decision, error) {
	return r.route(ctx, profileName, failedIDs)
}

func (r *Router) route(ctx context.Context, profileName string, failedIDs []int64) (Decision, error) {
	start := time.Now()

	p, err := r.profiles.Get(profileName)
	if err != nil {
		return Decision{}, err
	}
	views, err := r.store.AllMetricsViews(ctx, true)
	if err != nil {
		return Decision{}, err
	}

	failed := make(map[int64]bool, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = true
	}

	var pool, available []catalog.MetricsView
	for _, v := range views {
		if failed[v.ModelID] {
			continue
		}
		pool = append(pool, v)
		if r.breakers.Get(v.Name).Available() {
			available = append(available, v)
		}
	}

	degraded := false
	candidates := available
	if len(candidates) == 0 && len(pool) > 0 {
		// Every breaker is open. Routing with no answer is worse than
		// routing to a struggling model, so fall back to the full pool.
		r.logger.Warn("all circuit breakers open, degrading to full candidate list",
			"profile", profileName, "models", len(pool))
		degraded = true
		candidates = pool
	}

	ranked := r.scorer.RankModels(candidates, p, 1+r.fallbackCount, false)
	if len(ranked) == 0 {
		return Decision{}, ErrNoCandidates
	}

	return Decision{
		Profile:     profileName,
		Selected:    ranked[0],
		Fallbacks:   ranked[1:],
		WasFallback: len(failedIDs) > 0,
		Degraded:    degraded,
		ElapsedMS:   float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// RecordSuccess reports a successful upstream call for a model.
func (r *Router) RecordSuccess(modelName string) {
	r.breakers.Get(modelName).RecordSuccess()
}

// RecordFailure reports a failed upstream call for a model.
func (r *Router) RecordFailure(modelName string) {
	r.breakers.Get(modelName).RecordFailure()
}

// Rank scores every active model under a profile without breaker filtering.
// Used by the rankings surface and the index rebuild job.
func (r *Router) Rank(ctx context.Context, profileName string, limit int) ([]scoring.Score, error) {
	p, err := r.profiles.Get(profileName)
	if err != nil {
		return nil, err
	}
	views, err := r.store.AllMetricsViews(ctx, true)
	if err != nil {
		return nil, err
	}
	return r.scorer.RankModels(views, p, limit, false), nil
}

// RebuildIndex recomputes and persists the routing index for every
// registered profile.
func (r *Router) RebuildIndex(ctx context.Context) error {
	for _, p := range r.profiles.List() {
		scores, err := r.Rank(ctx, p.Name, 0)
		if err != nil {
			return err
		}
		rows := make([]store.RoutingIndexRow, len(scores))
		for i, s := range scores {
			rows[i] = store.RoutingIndexRow{
				ModelID:      s.ModelID,
				Profile:      p.Name,
				Score:        s.Composite,
				QualityScore: s.QualityScore,
				LatencyScore: s.LatencyScore,
				CostScore:    s.CostScore,
			}
		}
		if err := r.store.SaveRoutingIndex(ctx, p.Name, rows); err != nil {
			return err
		}
	}
	return nil
}
