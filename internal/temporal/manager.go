// Package temporal runs benchmark refreshes as durable workflows when a
// Temporal server is configured. The in-process scheduler remains the
// default; this path exists for deployments that want refresh history,
// retries, and manual triggers visible in Temporal.
package temporal

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Config holds Temporal connection settings.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Manager owns the Temporal client and worker lifecycle.
type Manager struct {
	client client.Client
	worker worker.Worker
	cfg    Config
}

// New creates a Temporal client and worker, registering the refresh workflow
// and its activities.
func New(cfg Config, acts *Activities) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(BenchmarkRefreshWorkflow)
	w.RegisterActivity(acts.SourceNames)
	w.RegisterActivity(acts.SyncSource)
	w.RegisterActivity(acts.RebuildRoutingIndex)

	return &Manager{
		client: c,
		worker: w,
		cfg:    cfg,
	}, nil
}

// Start begins the worker polling for tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// TriggerRefresh starts a refresh workflow and returns its workflow ID
// without waiting for completion. The fixed workflow ID means a trigger
// while a refresh is already running fails instead of piling up duplicates.
func (m *Manager) TriggerRefresh(ctx context.Context, input RefreshInput) (string, error) {
	run, err := m.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    "benchmark-refresh",
		TaskQueue:             m.cfg.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, BenchmarkRefreshWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("start refresh workflow: %w", err)
	}
	return run.GetID(), nil
}

// Client returns the Temporal client for starting workflows.
func (m *Manager) Client() client.Client {
	return m.client
}

// TaskQueue returns the configured task queue name.
func (m *Manager) TaskQueue() string {
	return m.cfg.TaskQueue
}

// Stop gracefully stops the worker and closes the client.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}
