package engine

import (
	"context"

	"github.com/scenepipe/scenepipe/pkg/envs"
)

// ProcessRunner launches a resolved invocation and waits for it to exit.
type ProcessRunner interface {
	// Run starts the child process and blocks until it exits. It returns the exit code,
	// and a non-nil error only when the process could not be started or waited on.
	Run(ctx context.Context, inv envs.Invocation) (int, error)
}

// EnvironmentResolver turns a stage request into an executable invocation.
type EnvironmentResolver interface {
	// Resolve builds the invocation for a request.
	Resolve(req envs.Request) (envs.Invocation, error)
}

// StateManager persists runs and stage results.
type StateManager interface {
	// SaveRun inserts or updates a run.
	SaveRun(ctx context.Context, run *Run) error

	// SaveStageResult inserts or updates the result of one stage of a run.
	SaveStageResult(ctx context.Context, runID string, result *StageResult) error
}

// EventPublisher receives execution events.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error
}

// EventPublishers fans an event out to several publishers.
type EventPublishers []EventPublisher

// Publish publishes to every publisher and returns the first error.
func (p EventPublishers) Publish(ctx context.Context, event *Event) error {
	var first error
	for _, pub := range p {
		if err := pub.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
