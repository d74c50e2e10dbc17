package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	listTimeout    = 10 * time.Second
	syncTimeout    = 5 * time.Minute
	rebuildTimeout = time.Minute
)

// BenchmarkRefreshWorkflow syncs benchmark sources one at a time and rebuilds
// the routing index once any sync lands new metrics. Individual source
// failures land in the result list; the workflow itself only fails when the
// source list cannot be resolved.
func BenchmarkRefreshWorkflow(ctx workflow.Context, input RefreshInput) (RefreshOutput, error) {
	names := input.Sources
	if len(names) == 0 {
		listCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: listTimeout,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		if err := workflow.ExecuteActivity(listCtx, (*Activities).SourceNames).Get(ctx, &names); err != nil {
			return RefreshOutput{}, err
		}
	}

	syncCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: syncTimeout,
		HeartbeatTimeout:    30 * time.Second,
		// The fetch layer retries transient upstream failures itself.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	out := RefreshOutput{Results: make([]SourceResult, 0, len(names))}
	anyIngested := false
	for _, name := range names {
		var res SourceResult
		if err := workflow.ExecuteActivity(syncCtx, (*Activities).SyncSource, name).Get(ctx, &res); err != nil {
			res = SourceResult{Source: name, Error: err.Error()}
		}
		if res.Error == "" && res.MetricsRecorded > 0 {
			anyIngested = true
		}
		out.Results = append(out.Results, res)
	}

	if anyIngested {
		rebuildCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: rebuildTimeout,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		if err := workflow.ExecuteActivity(rebuildCtx, (*Activities).RebuildRoutingIndex).Get(ctx, nil); err == nil {
			out.IndexRebuilt = true
		}
	}

	return out, nil
}
