package scoring

import (
	"sort"

	"github.com/routehub/routehub/internal/catalog"
	"github.com/routehub/routehub/internal/norm"
)

// demotionFactor is applied to the composite score of a model that fails any
// of the profile's hard constraints. The model stays rankable as a last
// resort instead of being excluded outright.
const demotionFactor = 0.1

// Score is the scorer's output for one model under one profile.
type Score struct {
	ModelID          int64   `json:"model_id"`
	Name             string  `json:"name"`
	Composite        float64 `json:"composite"`
	QualityScore     float64 `json:"quality_score"`
	LatencyScore     float64 `json:"latency_score"`
	CostScore        float64 `json:"cost_score"`
	ContextScore     float64 `json:"context_score"`
	MeetsConstraints bool    `json:"meets_constraints"`
}

// Scorer computes composite scores from metric views.
type Scorer struct {
	elo       norm.MinMax
	benchmark norm.MinMax
	latency   norm.Latency
	cost      norm.Cost
	context   norm.Context
}

// NewScorer creates a Scorer with the default normalizer curves.
func NewScorer() *Scorer {
	return &Scorer{
		elo:       norm.NewEloNormalizer(),
		benchmark: norm.NewBenchmarkNormalizer(),
		latency:   norm.NewLatencyNormalizer(),
		cost:      norm.NewCostNormalizer(),
		context:   norm.NewContextNormalizer(),
	}
}

// ScoreModel computes the composite score for one model under a profile.
func (s *Scorer) ScoreModel(m catalog.MetricsView, p Profile) Score {
	q := s.qualityScore(m)
	l := s.latencyScore(m)
	c := s.costScore(m)
	x := s.contextScore(m)

	composite := p.Quality*q + p.Latency*l + p.Cost*c + p.Context*x
	meets := s.meetsConstraints(m, p.Constraints, q)
	if !meets {
		composite *= demotionFactor
	}

	return Score{
		ModelID:          m.ModelID,
		Name:             m.Name,
		Composite:        composite,
		QualityScore:     q,
		LatencyScore:     l,
		CostScore:        c,
		ContextScore:     x,
		MeetsConstraints: meets,
	}
}

// RankModels scores every model under the profile and returns them sorted by
// composite descending, ties broken by canonical id ascending. A limit of 0
// means no limit. When onlyMeeting is set, constraint violators are dropped
// from the result.
func (s *Scorer) RankModels(models []catalog.MetricsView, p Profile, limit int, onlyMeeting bool) []Score {
	scores := make([]Score, 0, len(models))
	for _, m := range models {
		sc := s.ScoreModel(m, p)
		if onlyMeeting && !sc.MeetsConstraints {
			continue
		}
		scores = append(scores, sc)
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Composite != scores[j].Composite {
			return scores[i].Composite > scores[j].Composite
		}
		return scores[i].ModelID < scores[j].ModelID
	})

	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

// qualityScore prefers the arena rating; leaderboard average is the fallback.
func (s *Scorer) qualityScore(m catalog.MetricsView) float64 {
	if v, ok := m.Value(catalog.KindElo); ok {
		return s.elo.Normalize(v)
	}
	if v, ok := m.Value(catalog.KindBenchmarkAverage); ok {
		return s.benchmark.Normalize(v)
	}
	return 0.5
}

func (s *Scorer) latencyScore(m catalog.MetricsView) float64 {
	if v, ok := m.Value(catalog.KindLatencyP90); ok {
		return s.latency.Normalize(v)
	}
	if v, ok := m.Value(catalog.KindTTFTP90); ok {
		return s.latency.Normalize(v)
	}
	return 0.5
}

func (s *Scorer) costScore(m catalog.MetricsView) float64 {
	if v, ok := m.Value(catalog.KindCostBlendedPerMillion); ok {
		return s.cost.Normalize(v)
	}
	prompt, pok := m.Value(catalog.KindCostPromptPerMillion)
	completion, cok := m.Value(catalog.KindCostCompletionPerMillion)
	if pok && cok {
		return s.cost.Normalize(0.3*prompt + 0.7*completion)
	}
	return 0.5
}

func (s *Scorer) contextScore(m catalog.MetricsView) float64 {
	if v, ok := m.Value(catalog.KindContextLength); ok {
		return s.context.Normalize(v)
	}
	return 1.0
}

// meetsConstraints checks the profile's hard limits against raw metric
// values. The quality constraint compares against the normalized quality
// sub-score, which is the scale min_quality is expressed in.
func (s *Scorer) meetsConstraints(m catalog.MetricsView, c Constraints, quality float64) bool {
	if c.MinQuality > 0 && quality < c.MinQuality {
		return false
	}
	if c.MaxLatencyMS > 0 {
		if v, ok := m.Value(catalog.KindLatencyP90); ok && v > c.MaxLatencyMS {
			return false
		}
	}
	if c.MaxCostPerMillion > 0 {
		if v, ok := rawCost(m); ok && v > c.MaxCostPerMillion {
			return false
		}
	}
	if c.MinContextLength > 0 {
		v, ok := m.Value(catalog.KindContextLength)
		if !ok || v < c.MinContextLength {
			return false
		}
	}
	return true
}

func rawCost(m catalog.MetricsView) (float64, bool) {
	if v, ok := m.Value(catalog.KindCostBlendedPerMillion); ok {
		return v, true
	}
	prompt, pok := m.Value(catalog.KindCostPromptPerMillion)
	completion, cok := m.Value(catalog.KindCostCompletionPerMillion)
	if pok && cok {
		return 0.3*prompt + 0.7*completion, true
	}
	return 0, false
}
