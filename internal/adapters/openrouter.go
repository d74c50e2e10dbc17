package adapters

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/catalog"
)

const openRouterURL = "https://openrouter.ai/api/v1/models"

// promptCostWeight blends per-token prices into one figure; prompts dominate
// typical traffic so they carry most of the weight.
const promptCostWeight = 0.7

// OpenRouterSource reads OpenRouter's public model listing for pricing and
// context metrics.
type OpenRouterSource struct {
	url      string
	interval time.Duration
}

// NewOpenRouterSource creates the source; an empty url uses the public
// endpoint.
func NewOpenRouterSource(url string, interval time.Duration) *OpenRouterSource {
	if url == "" {
		url = openRouterURL
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &OpenRouterSource{url: url, interval: interval}
}

func (s *OpenRouterSource) Name() string                { return "openrouter" }
func (s *OpenRouterSource) URL() string                 { return s.url }
func (s *OpenRouterSource) SyncInterval() time.Duration { return s.interval }

// Validate accepts payloads that decode to a non-empty model listing.
func (s *OpenRouterSource) Validate(payload []byte) bool {
	var doc openRouterPayload
	return json.Unmarshal(payload, &doc) == nil && len(doc.Data) > 0
}

type openRouterModel struct {
	ID            string `json:"id"`
	ContextLength int64  `json:"context_length"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

type openRouterPayload struct {
	Data []openRouterModel `json:"data"`
}

// Parse extracts per-million token costs and context length for every model
// in the listing. Prices arrive as per-token decimal strings.
func (s *OpenRouterSource) Parse(payload []byte) ([]catalog.RawMetric, error) {
	var doc openRouterPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("openrouter: parse payload: %w", err)
	}
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("openrouter: payload contains no models")
	}

	now := time.Now()
	var metrics []catalog.RawMetric
	for _, m := range doc.Data {
		if m.ID == "" {
			continue
		}
		prompt, perr := strconv.ParseFloat(m.Pricing.Prompt, 64)
		completion, cerr := strconv.ParseFloat(m.Pricing.Completion, 64)
		if perr == nil && cerr == nil && prompt >= 0 && completion >= 0 {
			promptPerM := prompt * 1e6
			completionPerM := completion * 1e6
			blended := promptCostWeight*promptPerM + (1-promptCostWeight)*completionPerM
			metrics = append(metrics,
				catalog.RawMetric{SourceModel: m.ID, Kind: catalog.KindCostPromptPerMillion, Value: promptPerM, Timestamp: now},
				catalog.RawMetric{SourceModel: m.ID, Kind: catalog.KindCostCompletionPerMillion, Value: completionPerM, Timestamp: now},
				catalog.RawMetric{SourceModel: m.ID, Kind: catalog.KindCostBlendedPerMillion, Value: blended, Timestamp: now},
			)
		}
		if m.ContextLength > 0 {
			metrics = append(metrics, catalog.RawMetric{
				SourceModel: m.ID, Kind: catalog.KindContextLength,
				Value: float64(m.ContextLength), Timestamp: now,
			})
		}
	}
	return metrics, nil
}
