package temporal

// RefreshInput selects which benchmark sources a refresh run covers. An
// empty list covers every registered source.
type RefreshInput struct {
	Sources []string `json:"sources,omitempty"`
}

// SourceResult is the outcome of one source sync within a refresh run.
type SourceResult struct {
	Source          string `json:"source"`
	ModelsSeen      int    `json:"models_seen"`
	MetricsRecorded int    `json:"metrics_recorded"`
	NewModels       int    `json:"new_models"`
	NeedsReview     int    `json:"needs_review"`
	Error           string `json:"error,omitempty"`
}

// RefreshOutput is the result of a BenchmarkRefreshWorkflow run.
type RefreshOutput struct {
	Results      []SourceResult `json:"results"`
	IndexRebuilt bool           `json:"index_rebuilt"`
}
