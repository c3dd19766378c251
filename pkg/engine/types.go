package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// ActionFunc is an in-process stage step.
type ActionFunc func(ctx context.Context) error

// Stage is one step of a pipeline. A stage runs either an external Command inside its
// Runtime, or an in-process Action. Stages are immutable once built.
type Stage struct {
	// ID is the unique identifier for this stage within its pipeline.
	ID string `json:"id"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`

	// Runtime is the runtime environment key; empty runs on the host.
	Runtime string `json:"runtime,omitempty"`

	// Command is the tool argument vector, before launcher wrapping.
	Command []string `json:"command,omitempty"`

	// Action is the in-process step, used instead of Command.
	Action ActionFunc `json:"-"`

	// Dir is the working directory of the tool.
	Dir string `json:"dir,omitempty"`

	// Inputs must exist when the stage starts.
	Inputs []string `json:"inputs,omitempty"`

	// Outputs are the artifacts this stage produces.
	Outputs []string `json:"outputs,omitempty"`

	// Aliases are the symbolic links this stage creates.
	Aliases []string `json:"aliases,omitempty"`

	// EnsureDirs are created before the stage starts.
	EnsureDirs []string `json:"ensure_dirs,omitempty"`

	// Resets are emptied before the stage starts.
	Resets []string `json:"resets,omitempty"`

	// Profiles select environment override groups.
	Profiles []envs.Profile `json:"profiles,omitempty"`

	// Env holds literal environment overrides.
	Env map[string]string `json:"env,omitempty"`
}

// IsAction returns true if the stage runs in-process.
func (s *Stage) IsAction() bool {
	return s.Action != nil
}

// Request returns the environment request for an external stage.
func (s *Stage) Request() envs.Request {
	return envs.Request{
		Runtime:  s.Runtime,
		Argv:     s.Command,
		Dir:      s.Dir,
		Profiles: s.Profiles,
		Env:      s.Env,
	}
}

// Pipeline is an ordered list of stages over one scene.
type Pipeline struct {
	// Name is the pipeline name (e.g. "stage1").
	Name string `json:"name"`

	// Scene is the scene the pipeline operates on.
	Scene layout.Scene `json:"scene"`

	// Stages run in order.
	Stages []Stage `json:"stages"`
}

// Validate checks the structural rules of a pipeline: unique stage IDs, exactly one
// of Command or Action per stage and no two stages producing the same path.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return NewConfigurationError("pipeline name is required", nil)
	}
	if p.Scene.Root == "" {
		return NewConfigurationError("pipeline scene is required", nil)
	}
	if len(p.Stages) == 0 {
		return NewConfigurationError(fmt.Sprintf("pipeline %s has no stages", p.Name), nil)
	}

	ids := make(map[string]struct{}, len(p.Stages))
	produced := make(map[string]string)
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.ID == "" {
			return NewConfigurationError(fmt.Sprintf("stage %d has no id", i), nil)
		}
		if _, dup := ids[s.ID]; dup {
			return NewConfigurationError("duplicate stage id", nil).WithStage(s.ID)
		}
		ids[s.ID] = struct{}{}

		hasCommand := len(s.Command) > 0
		if hasCommand == s.IsAction() {
			return NewConfigurationError("stage must have exactly one of command or action", nil).
				WithStage(s.ID)
		}

		for _, path := range append(append([]string(nil), s.Outputs...), s.Aliases...) {
			clean := filepath.Clean(path)
			if owner, taken := produced[clean]; taken {
				return NewConfigurationError(
					fmt.Sprintf("path already produced by stage %s", owner), nil).
					WithStage(s.ID).WithPath(clean)
			}
			produced[clean] = s.ID
		}
	}
	return nil
}

// StageResult is the outcome of one stage in a run.
type StageResult struct {
	// StageID is the stage this result belongs to.
	StageID string `json:"stage_id"`

	// Status is the final stage status.
	Status StageStatus `json:"status"`

	// Outcome is the tagged outcome; empty while pending.
	Outcome Outcome `json:"outcome,omitempty"`

	// ExitCode is the tool exit code, if a tool ran.
	ExitCode int `json:"exit_code"`

	// Command is the redacted command line that ran.
	Command string `json:"command,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// StartedAt is when the stage started.
	StartedAt time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the stage finished.
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Duration is how long the stage took.
	Duration time.Duration `json:"duration"`
}

// Run is one execution of a pipeline.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Pipeline is the pipeline name.
	Pipeline string `json:"pipeline"`

	// Scene is the scene root.
	Scene string `json:"scene"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// Outcome is the tagged result once the run is terminal.
	Outcome Outcome `json:"outcome,omitempty"`

	// ExitCode is the process exit code the run maps to.
	ExitCode int `json:"exit_code"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// Results holds one entry per stage, in pipeline order.
	Results []StageResult `json:"results"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// Event represents an execution event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Pipeline is the pipeline name.
	Pipeline string `json:"pipeline"`

	// StageID is the stage, if applicable.
	StageID string `json:"stage_id,omitempty"`

	// Runtime is the stage runtime key, if applicable.
	Runtime string `json:"runtime,omitempty"`

	// Outcome is set on completion events.
	Outcome Outcome `json:"outcome,omitempty"`

	// Duration is set on completion events.
	Duration time.Duration `json:"duration,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the log level (info, error).
	Level string `json:"level"`
}
