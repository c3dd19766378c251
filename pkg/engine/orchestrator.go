package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scenepipe/scenepipe/pkg/fsutil"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// Orchestrator executes pipelines one stage at a time.
type Orchestrator struct {
	// resolver builds the invocation for each external stage
	resolver EnvironmentResolver

	// runner launches external tools
	runner ProcessRunner

	// stateManager persists runs and stage results, optional
	stateManager StateManager

	// eventPublisher receives execution events, optional
	eventPublisher EventPublisher

	// now is the clock
	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStateManager persists runs and stage results through sm.
func WithStateManager(sm StateManager) Option {
	return func(o *Orchestrator) { o.stateManager = sm }
}

// WithEventPublisher publishes execution events to pub.
func WithEventPublisher(pub EventPublisher) Option {
	return func(o *Orchestrator) { o.eventPublisher = pub }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(resolver EnvironmentResolver, runner ProcessRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: resolver,
		runner:   runner,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every stage of the pipeline in order. It stops at the first failing
// stage and returns the run together with the classified error of that stage.
// Cancellation of ctx is honoured between stages; a running tool is never killed.
func (o *Orchestrator) Run(ctx context.Context, p *Pipeline) (*Run, error) {
	if p == nil {
		return nil, NewConfigurationError("pipeline is nil", nil)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.New().String(),
		Pipeline:  p.Name,
		Scene:     p.Scene.Root,
		Status:    RunStatusRunning,
		Results:   make([]StageResult, len(p.Stages)),
		StartedAt: o.now(),
	}
	for i := range p.Stages {
		run.Results[i] = StageResult{StageID: p.Stages[i].ID, Status: StageStatusPending}
	}

	logger := zerolog.Ctx(ctx).With().Str("run_id", run.ID).Str("pipeline", p.Name).Str("scene", p.Scene.Name).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Int("stages", len(p.Stages)).Msg("Run started")

	o.saveRun(ctx, run)
	o.publish(ctx, &Event{
		Type:     EventTypeRunStarted,
		RunID:    run.ID,
		Pipeline: run.Pipeline,
		Message:  fmt.Sprintf("Run of %s started on %s", p.Name, p.Scene.Root),
	})

	var runErr error
	for i := range p.Stages {
		stage := &p.Stages[i]
		if err := ctx.Err(); err != nil {
			runErr = NewInterruptedError("run interrupted", err).WithStage(stage.ID)
			break
		}
		if err := o.executeStage(ctx, run, i, stage); err != nil {
			runErr = err
			break
		}
	}

	o.finishRun(ctx, run, runErr)

	if runErr != nil {
		logger.Error().Err(runErr).Str("outcome", string(run.Outcome)).Int("exit_code", run.ExitCode).
			Dur("duration", run.Duration).Msg("Run aborted")
	} else {
		logger.Info().Dur("duration", run.Duration).Msg("Run completed")
	}
	return run, runErr
}

// executeStage drives one stage through pending -> running -> succeeded|failed.
func (o *Orchestrator) executeStage(ctx context.Context, run *Run, idx int, stage *Stage) error {
	ctx = zerolog.Ctx(ctx).With().Str("stage", stage.ID).Logger().WithContext(ctx)

	result := &run.Results[idx]
	if err := advance(result, StageStatusRunning); err != nil {
		return err
	}
	result.StartedAt = o.now()
	o.saveStageResult(ctx, run.ID, result)
	o.publish(ctx, &Event{
		Type:     EventTypeStageStarted,
		RunID:    run.ID,
		Pipeline: run.Pipeline,
		StageID:  stage.ID,
		Runtime:  stage.Runtime,
		Message:  fmt.Sprintf("Stage %s started", stage.ID),
	})

	err := o.runStage(ctx, stage, result)

	result.CompletedAt = o.now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Outcome = OutcomeOf(err)

	event := &Event{
		RunID:    run.ID,
		Pipeline: run.Pipeline,
		StageID:  stage.ID,
		Runtime:  stage.Runtime,
		Outcome:  result.Outcome,
		Duration: result.Duration,
	}
	if err != nil {
		result.Status = StageStatusFailed
		result.Error = err.Error()
		event.Type = EventTypeStageFailed
		event.Message = fmt.Sprintf("Stage %s failed: %v", stage.ID, err)
	} else {
		result.Status = StageStatusSucceeded
		event.Type = EventTypeStageCompleted
		event.Message = fmt.Sprintf("Stage %s completed", stage.ID)
	}

	o.saveStageResult(ctx, run.ID, result)
	o.publish(ctx, event)
	return err
}

// advance moves result to next, rejecting out-of-order transitions such as
// restarting a stage that already finished.
func advance(result *StageResult, next StageStatus) error {
	if !result.Status.CanTransitionTo(next) {
		return NewInternalError(fmt.Sprintf("stage cannot move from %s to %s", result.Status, next), nil).
			WithStage(result.StageID)
	}
	result.Status = next
	return nil
}

// runStage prepares the file system and launches the stage.
func (o *Orchestrator) runStage(ctx context.Context, stage *Stage, result *StageResult) error {
	if err := layout.RequireExisting(stage.Inputs...); err != nil {
		e := NewConfigurationError("required input missing", err).WithStage(stage.ID).WithCode(ErrCodeNotFound)
		var missing *layout.MissingArtifactError
		if errors.As(err, &missing) {
			e.WithPath(missing.Path)
		}
		return e
	}

	for _, dir := range stage.EnsureDirs {
		if err := fsutil.EnsureDir(dir); err != nil {
			return stageError(stage, err).WithPath(dir)
		}
	}
	for _, dir := range stage.Resets {
		if err := fsutil.EnsureEmptyDir(dir); err != nil {
			return stageError(stage, err).WithPath(dir)
		}
	}

	if stage.IsAction() {
		if err := stage.Action(ctx); err != nil {
			return stageError(stage, err)
		}
		return nil
	}

	inv, err := o.resolver.Resolve(stage.Request())
	if err != nil {
		return NewConfigurationError("failed to resolve environment", err).WithStage(stage.ID)
	}
	result.Command = inv.Redacted().String()

	zerolog.Ctx(ctx).Info().
		Str("runtime", inv.Runtime).
		Str("dir", inv.Dir).
		Interface("overrides", inv.OverrideValues()).
		Msgf("Running %s", result.Command)

	code, err := o.runner.Run(ctx, inv)
	result.ExitCode = code
	if err != nil {
		e := NewExternalError("failed to start tool", code).WithStage(stage.ID).WithCode(ErrCodeToolNotFound)
		e.Err = err
		return e
	}
	if code != 0 {
		return NewExternalError(fmt.Sprintf("tool exited with status %d", code), code).WithStage(stage.ID)
	}
	return nil
}

// finishRun sets the terminal status of the run and persists it.
func (o *Orchestrator) finishRun(ctx context.Context, run *Run, runErr error) {
	completedAt := o.now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)
	run.Outcome = OutcomeOf(runErr)
	run.ExitCode = ExitCode(runErr)

	event := &Event{
		RunID:    run.ID,
		Pipeline: run.Pipeline,
		Outcome:  run.Outcome,
		Duration: run.Duration,
	}
	if runErr != nil {
		run.Status = RunStatusAborted
		run.Error = runErr.Error()
		event.Type = EventTypeRunAborted
		event.Message = fmt.Sprintf("Run aborted: %v", runErr)
		if e := Classify(runErr); e.Stage != "" {
			event.StageID = e.Stage
		}
	} else {
		run.Status = RunStatusSucceeded
		event.Type = EventTypeRunCompleted
		event.Message = "Run completed successfully"
	}

	o.saveRun(ctx, run)
	o.publish(ctx, event)
}

// stageError classifies err and attaches the stage ID if it has none.
func stageError(stage *Stage, err error) *EngineError {
	e := Classify(err)
	if e.Stage == "" {
		e.Stage = stage.ID
	}
	return e
}

// saveRun persists the run. Persistence failures are logged and never abort the run.
func (o *Orchestrator) saveRun(ctx context.Context, run *Run) {
	if o.stateManager == nil {
		return
	}
	if err := o.stateManager.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to save run")
	}
}

func (o *Orchestrator) saveStageResult(ctx context.Context, runID string, result *StageResult) {
	if o.stateManager == nil {
		return
	}
	if err := o.stateManager.SaveStageResult(context.WithoutCancel(ctx), runID, result); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to save stage result")
	}
}

// publish stamps and publishes an event synchronously so ordering is preserved.
func (o *Orchestrator) publish(ctx context.Context, event *Event) {
	if o.eventPublisher == nil {
		return
	}
	event.ID = uuid.New().String()
	event.Timestamp = o.now()
	event.Level = event.Type.Severity()
	if err := o.eventPublisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to publish event")
	}
}
