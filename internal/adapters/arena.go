package adapters

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/catalog"
)

// ArenaSource reads crowdsourced ELO rankings with confidence intervals.
type ArenaSource struct {
	url      string
	interval time.Duration
}

// NewArenaSource creates the source for the given rankings endpoint.
func NewArenaSource(url string, interval time.Duration) *ArenaSource {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &ArenaSource{url: url, interval: interval}
}

func (s *ArenaSource) Name() string                { return "arena" }
func (s *ArenaSource) URL() string                 { return s.url }
func (s *ArenaSource) SyncInterval() time.Duration { return s.interval }

// Validate accepts payloads that decode to a non-empty ranking.
func (s *ArenaSource) Validate(payload []byte) bool {
	var doc arenaPayload
	return json.Unmarshal(payload, &doc) == nil && len(doc.Models) > 0
}

type arenaEntry struct {
	Model  string  `json:"model"`
	Elo    float64 `json:"elo"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
	Votes  int64   `json:"votes"`
}

type arenaPayload struct {
	Models []arenaEntry `json:"models"`
}

// Parse emits an ELO rating per model plus a relative uncertainty derived
// from the confidence interval width.
func (s *ArenaSource) Parse(payload []byte) ([]catalog.RawMetric, error) {
	var doc arenaPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("arena: parse payload: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("arena: payload contains no models")
	}

	now := time.Now()
	var metrics []catalog.RawMetric
	for _, e := range doc.Models {
		if e.Model == "" || e.Elo <= 0 {
			continue
		}
		meta := map[string]any{}
		if e.Votes > 0 {
			meta["votes"] = e.Votes
		}
		metrics = append(metrics, catalog.RawMetric{
			SourceModel: e.Model, Kind: catalog.KindElo, Value: e.Elo,
			Metadata: meta, Timestamp: now,
		})
		if e.CIHigh > e.CILow {
			metrics = append(metrics, catalog.RawMetric{
				SourceModel: e.Model, Kind: catalog.KindEloUncertainty,
				Value: (e.CIHigh - e.CILow) / e.Elo, Timestamp: now,
			})
		}
	}
	return metrics, nil
}
