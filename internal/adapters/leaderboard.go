package adapters

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/catalog"
)

// averageMinBenchmarks is how many individual benchmarks a model needs
// before an average is meaningful.
const averageMinBenchmarks = 3

// LeaderboardSource reads static benchmark tables (scores on a 0 to 100
// scale, keyed by benchmark name).
type LeaderboardSource struct {
	url      string
	interval time.Duration
}

// NewLeaderboardSource creates the source for the given table endpoint.
func NewLeaderboardSource(url string, interval time.Duration) *LeaderboardSource {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &LeaderboardSource{url: url, interval: interval}
}

func (s *LeaderboardSource) Name() string                { return "leaderboard" }
func (s *LeaderboardSource) URL() string                 { return s.url }
func (s *LeaderboardSource) SyncInterval() time.Duration { return s.interval }

// Validate accepts payloads that decode to a non-empty table.
func (s *LeaderboardSource) Validate(payload []byte) bool {
	var doc leaderboardPayload
	return json.Unmarshal(payload, &doc) == nil && len(doc.Rows) > 0
}

type leaderboardRow struct {
	Model  string             `json:"model"`
	Scores map[string]float64 `json:"scores"`
}

type leaderboardPayload struct {
	Rows []leaderboardRow `json:"rows"`
}

// Parse emits one benchmark_<name> metric per score, skipping values outside
// the 0 to 100 scale, and a benchmark_average once a model has enough
// individual scores.
func (s *LeaderboardSource) Parse(payload []byte) ([]catalog.RawMetric, error) {
	var doc leaderboardPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("leaderboard: parse payload: %w", err)
	}
	if len(doc.Rows) == 0 {
		return nil, fmt.Errorf("leaderboard: payload contains no rows")
	}

	now := time.Now()
	var metrics []catalog.RawMetric
	for _, row := range doc.Rows {
		if row.Model == "" {
			continue
		}
		names := make([]string, 0, len(row.Scores))
		for name := range row.Scores {
			names = append(names, name)
		}
		sort.Strings(names)

		var sum float64
		var counted int
		for _, name := range names {
			score := row.Scores[name]
			if score < 0 || score > 100 {
				continue
			}
			metrics = append(metrics, catalog.RawMetric{
				SourceModel: row.Model,
				Kind:        catalog.KindBenchmarkPrefix + name,
				Value:       score,
				Timestamp:   now,
			})
			sum += score
			counted++
		}
		if counted >= averageMinBenchmarks {
			metrics = append(metrics, catalog.RawMetric{
				SourceModel: row.Model,
				Kind:        catalog.KindBenchmarkAverage,
				Value:       sum / float64(counted),
				Timestamp:   now,
			})
		}
	}
	return metrics, nil
}
