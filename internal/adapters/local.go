package adapters

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/catalog"
)

const defaultOllamaURL = "http://127.0.0.1:11434/api/tags"

// LocalSource reads the model listing of a local Ollama instance. Local
// models cost nothing; quality is estimated from parameter count since no
// benchmark covers them.
type LocalSource struct {
	url      string
	interval time.Duration
}

// NewLocalSource creates the source; an empty url targets the default Ollama
// port on loopback. The fetcher's allowlist must include the host since
// loopback is otherwise blocked.
func NewLocalSource(url string, interval time.Duration) *LocalSource {
	if url == "" {
		url = defaultOllamaURL
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &LocalSource{url: url, interval: interval}
}

func (s *LocalSource) Name() string                { return "local" }
func (s *LocalSource) URL() string                 { return s.url }
func (s *LocalSource) SyncInterval() time.Duration { return s.interval }

// Validate accepts anything that decodes as an Ollama tag listing. An empty
// listing is fine here: a local instance with no models pulled yet is not an
// error.
func (s *LocalSource) Validate(payload []byte) bool {
	var doc ollamaPayload
	return json.Unmarshal(payload, &doc) == nil
}

type ollamaModel struct {
	Name    string `json:"name"`
	Details struct {
		ParameterSize string `json:"parameter_size"` // e.g. "8.0B", "70B"
	} `json:"details"`
}

type ollamaPayload struct {
	Models []ollamaModel `json:"models"`
}

var paramSize = regexp.MustCompile(`^([\d.]+)\s*[bB]$`)

// Parse emits zero-cost metrics and a parameter-count quality estimate for
// every local model.
func (s *LocalSource) Parse(payload []byte) ([]catalog.RawMetric, error) {
	var doc ollamaPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("local: parse payload: %w", err)
	}

	now := time.Now()
	var metrics []catalog.RawMetric
	for _, m := range doc.Models {
		if m.Name == "" {
			continue
		}
		meta := map[string]any{"is_local": true}
		metrics = append(metrics,
			catalog.RawMetric{SourceModel: m.Name, Kind: catalog.KindCostBlendedPerMillion, Value: 0, Metadata: meta, Timestamp: now},
		)
		if q, ok := qualityFromParams(m.Details.ParameterSize); ok {
			metrics = append(metrics, catalog.RawMetric{
				SourceModel: m.Name, Kind: catalog.KindBenchmarkAverage,
				Value: q, Metadata: meta, Timestamp: now,
			})
		}
	}
	return metrics, nil
}

// qualityFromParams maps a parameter count to a rough benchmark-scale score.
// The curve is deliberately conservative: a 7B model lands in the low 40s, a
// 70B in the mid 60s, capped at 75.
func qualityFromParams(size string) (float64, bool) {
	m := paramSize.FindStringSubmatch(size)
	if m == nil {
		return 0, false
	}
	billions, err := strconv.ParseFloat(m[1], 64)
	if err != nil || billions <= 0 {
		return 0, false
	}
	q := 40 + billions*0.36
	if q > 75 {
		q = 75
	}
	return q, true
}
