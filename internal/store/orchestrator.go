package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/torrentino"
)

// OrchestratorAPI is the REST surface the orchestrator store needs.
type OrchestratorAPI interface {
	OrchestratorStatus(ctx context.Context) (torrentino.OrchestratorStatus, error)
	StartOrchestrator(ctx context.Context) error
	StopOrchestrator(ctx context.Context) error
}

// Orchestrator caches the acquisition loop's status. The counters are only
// available over REST, so the session polls it.
type Orchestrator struct {
	*Value[torrentino.OrchestratorStatus]
	api OrchestratorAPI
}

// NewOrchestrator builds an orchestrator store backed by api.
func NewOrchestrator(api OrchestratorAPI, report func(error), log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Value: NewValue("orchestrator", api.OrchestratorStatus, nil, report, log),
		api:   api,
	}
}

// Start starts the acquisition loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.Mutate(ctx, MutationStart, o.api.StartOrchestrator)
}

// Stop stops the acquisition loop.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.Mutate(ctx, MutationStop, o.api.StopOrchestrator)
}

// Apply merges a push message into the cache.
func (o *Orchestrator) Apply(msg push.Message) {
	if m, ok := msg.(push.OrchestratorStatus); ok {
		o.Patch(func(s torrentino.OrchestratorStatus) torrentino.OrchestratorStatus {
			s.Running = m.Running
			return s
		})
	}
}
