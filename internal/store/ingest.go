package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/routehub/routehub/internal/catalog"
	"github.com/routehub/routehub/internal/resolve"
)

// IngestReport summarizes one source run.
type IngestReport struct {
	Source          string `json:"source"`
	ModelsSeen      int    `json:"models_seen"`
	MetricsRecorded int    `json:"metrics_recorded"`
	Linked          int    `json:"linked"`
	NewModels       int    `json:"new_models"`
	NeedsReview     int    `json:"needs_review"`
	Skipped         int    `json:"skipped"`
}

// Ingestor applies a batch of source metrics to the catalog: names are
// resolved against the canonical models, aliases recorded, metric rows
// appended, and source bookkeeping updated.
type Ingestor struct {
	store    Store
	resolver *resolve.Resolver
	logger   *slog.Logger

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewIngestor wires a resolver onto a store.
func NewIngestor(st Store, r *resolve.Resolver, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: st, resolver: r, logger: logger, nowFunc: time.Now}
}

// IngestSourceRun records every metric from one source fetch. Each distinct
// source model name is resolved once; the sync outcome is written to the
// benchmark_sources bookkeeping row regardless of partial failures.
func (in *Ingestor) IngestSourceRun(ctx context.Context, source, sourceURL string, metrics []catalog.RawMetric, intervalMinutes int) (IngestReport, error) {
	report := IngestReport{Source: source}

	byModel := make(map[string][]catalog.RawMetric)
	var order []string
	for _, m := range metrics {
		if m.SourceModel == "" {
			report.Skipped++
			continue
		}
		if _, seen := byModel[m.SourceModel]; !seen {
			order = append(order, m.SourceModel)
		}
		byModel[m.SourceModel] = append(byModel[m.SourceModel], m)
	}
	sort.Strings(order)
	report.ModelsSeen = len(order)

	names, err := in.store.CatalogNames(ctx, false)
	if err != nil {
		return report, in.finishSync(ctx, source, sourceURL, intervalMinutes, report, err)
	}

	var runErr error
	for _, sourceModel := range order {
		modelID, outcome, err := in.resolveModel(ctx, source, sourceModel, names)
		if err != nil {
			in.logger.Warn("skipping source model", "source", source, "model", sourceModel, "error", err)
			report.Skipped += len(byModel[sourceModel])
			runErr = err
			continue
		}
		switch outcome {
		case outcomeLinked:
			report.Linked++
		case outcomeNew:
			report.NewModels++
		case outcomeReview:
			report.NeedsReview++
		}

		batch := byModel[sourceModel]
		if err := in.store.AppendMetrics(ctx, source, modelID, batch); err != nil {
			runErr = err
			continue
		}
		report.MetricsRecorded += len(batch)
	}

	return report, in.finishSync(ctx, source, sourceURL, intervalMinutes, report, runErr)
}

type resolveOutcome int

const (
	outcomeAlias resolveOutcome = iota
	outcomeLinked
	outcomeNew
	outcomeReview
)

// resolveModel maps a source model name to a canonical id, creating aliases
// and catalog rows as the resolution confidence dictates. names is mutated
// when a new canonical model is created so later resolutions in the same run
// can match it.
func (in *Ingestor) resolveModel(ctx context.Context, source, sourceModel string, names map[int64]string) (int64, resolveOutcome, error) {
	if a, err := in.store.GetAlias(ctx, sourceModel); err != nil {
		return 0, 0, err
	} else if a != nil {
		return a.CanonicalID, outcomeAlias, nil
	}

	d := in.resolver.Resolve(sourceModel, names)
	switch d.Confidence {
	case resolve.Exact, resolve.High:
		err := in.store.UpsertAlias(ctx, catalog.Alias{
			Alias: sourceModel, CanonicalID: d.CanonicalID,
			Confidence: d.Score, Reviewed: true, Source: source,
		})
		return d.CanonicalID, outcomeLinked, err

	case resolve.Medium:
		// Linked but flagged for human review.
		err := in.store.UpsertAlias(ctx, catalog.Alias{
			Alias: sourceModel, CanonicalID: d.CanonicalID,
			Confidence: d.Score, Reviewed: false, Source: source,
		})
		return d.CanonicalID, outcomeReview, err

	default:
		id, err := in.store.CreateModel(ctx, catalog.Model{
			Name:     d.Normalized,
			Provider: source,
			Active:   true,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("create model for %q: %w", sourceModel, err)
		}
		names[id] = d.Normalized
		if sourceModel != d.Normalized {
			if err := in.store.UpsertAlias(ctx, catalog.Alias{
				Alias: sourceModel, CanonicalID: id,
				Confidence: 1, Reviewed: true, Source: source,
			}); err != nil {
				return 0, 0, err
			}
		}
		return id, outcomeNew, nil
	}
}

// RecordSourceFailure marks a sync attempt that never produced metrics, for
// example a fetch or parse failure with no cached payload to fall back on.
func (in *Ingestor) RecordSourceFailure(ctx context.Context, source, sourceURL string, intervalMinutes int, cause error) error {
	return in.finishSync(ctx, source, sourceURL, intervalMinutes, IngestReport{Source: source}, cause)
}

func (in *Ingestor) finishSync(ctx context.Context, source, sourceURL string, intervalMinutes int, report IngestReport, runErr error) error {
	status := catalog.SourceStatus{
		Name:            source,
		URL:             sourceURL,
		LastSync:        in.nowFunc(),
		Status:          "ok",
		IntervalMinutes: intervalMinutes,
	}
	if runErr != nil {
		status.Status = "error"
		status.Error = runErr.Error()
	} else {
		status.LastSuccess = status.LastSync
	}
	if err := in.store.RecordSourceSync(ctx, status); err != nil {
		in.logger.Error("recording source sync failed", "source", source, "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		in.logger.Info("source ingested", "source", source,
			"models", report.ModelsSeen, "metrics", report.MetricsRecorded,
			"new_models", report.NewModels, "needs_review", report.NeedsReview)
	}
	return runErr
}
