package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"

	"github.com/routehub/routehub/internal/adapters"
	"github.com/routehub/routehub/internal/events"
	"github.com/routehub/routehub/internal/routing"
)

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Pipeline *adapters.Pipeline
	Sources  []adapters.Source
	Router   *routing.Router
	Bus      *events.Bus
	Logger   *slog.Logger
}

// SourceNames returns the names of all registered benchmark sources. Listing
// runs as an activity so the workflow stays deterministic when the adapter
// set changes between runs.
func (a *Activities) SourceNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(a.Sources))
	for _, src := range a.Sources {
		names = append(names, src.Name())
	}
	return names, nil
}

// SyncSource fetches and ingests one benchmark source. A failed sync is
// reported in the result rather than as an activity error: the pipeline has
// already recorded the failure and retried the fetch, so the refresh run
// should continue with the remaining sources.
func (a *Activities) SyncSource(ctx context.Context, name string) (SourceResult, error) {
	var src adapters.Source
	for _, s := range a.Sources {
		if s.Name() == name {
			src = s
			break
		}
	}
	if src == nil {
		return SourceResult{}, fmt.Errorf("unknown source %q", name)
	}

	activity.RecordHeartbeat(ctx, "syncing "+name)
	report, err := a.Pipeline.Sync(ctx, src)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("refresh: source sync failed", "source", name, "error", err)
		}
		if a.Bus != nil {
			a.Bus.Publish(events.Event{
				Type:     events.EventSourceFailed,
				Source:   name,
				ErrorMsg: err.Error(),
			})
		}
		return SourceResult{Source: name, Error: err.Error()}, nil
	}
	if a.Bus != nil {
		a.Bus.Publish(events.Event{
			Type:            events.EventSourceSynced,
			Source:          name,
			MetricsRecorded: report.MetricsRecorded,
		})
	}
	return SourceResult{
		Source:          name,
		ModelsSeen:      report.ModelsSeen,
		MetricsRecorded: report.MetricsRecorded,
		NewModels:       report.NewModels,
		NeedsReview:     report.NeedsReview,
	}, nil
}

// RebuildRoutingIndex recomputes the persisted per-profile rankings after a
// refresh run lands new metrics.
func (a *Activities) RebuildRoutingIndex(ctx context.Context) error {
	return a.Router.RebuildIndex(ctx)
}
