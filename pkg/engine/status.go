package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a pipeline run.
type RunStatus string

const (
	// RunStatusPending indicates the run is built but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every stage succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusAborted indicates a stage failed or the run was interrupted.
	RunStatusAborted RunStatus = "aborted"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusAborted
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StageStatus represents the status of a single stage within a run.
type StageStatus string

const (
	// StageStatusPending indicates the stage has not started.
	StageStatusPending StageStatus = "pending"

	// StageStatusRunning indicates the stage is executing.
	StageStatusRunning StageStatus = "running"

	// StageStatusSucceeded indicates the stage finished with exit status 0.
	StageStatusSucceeded StageStatus = "succeeded"

	// StageStatusFailed indicates the stage failed.
	StageStatusFailed StageStatus = "failed"
)

// IsTerminal returns true if the stage status represents a final state.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusSucceeded || s == StageStatusFailed
}

// CanTransitionTo reports whether pending -> running -> {succeeded, failed} allows next.
func (s StageStatus) CanTransitionTo(next StageStatus) bool {
	switch s {
	case StageStatusPending:
		return next == StageStatusRunning
	case StageStatusRunning:
		return next == StageStatusSucceeded || next == StageStatusFailed
	default:
		return false
	}
}

// Validate checks if the stage status is valid.
func (s StageStatus) Validate() error {
	switch s {
	case StageStatusPending, StageStatusRunning, StageStatusSucceeded, StageStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid stage status: %s", s)
	}
}

// Outcome is the tagged result of a stage or run.
type Outcome string

const (
	// OutcomeSuccess indicates the stage or run completed successfully.
	OutcomeSuccess Outcome = "success"

	// OutcomeExternalFailure indicates a tool exited non-zero.
	OutcomeExternalFailure Outcome = "external_failure"

	// OutcomeConfigurationError indicates bad input or setup.
	OutcomeConfigurationError Outcome = "configuration_error"

	// OutcomeFilesystemConflict indicates an on-disk conflict.
	OutcomeFilesystemConflict Outcome = "filesystem_conflict"

	// OutcomeInterrupted indicates operator interruption.
	OutcomeInterrupted Outcome = "interrupted"

	// OutcomeInternalError indicates a failure of the orchestrator itself.
	OutcomeInternalError Outcome = "internal_error"
)

// OutcomeOf maps an error to its outcome tag.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	switch Classify(err).Class {
	case ErrorClassExternal:
		return OutcomeExternalFailure
	case ErrorClassConfiguration:
		return OutcomeConfigurationError
	case ErrorClassConflict:
		return OutcomeFilesystemConflict
	case ErrorClassInterrupted:
		return OutcomeInterrupted
	default:
		return OutcomeInternalError
	}
}

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSuccess, OutcomeExternalFailure, OutcomeConfigurationError,
		OutcomeFilesystemConflict, OutcomeInterrupted, OutcomeInternalError:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}

// EventType represents the type of execution event.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates every stage of a run succeeded.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunAborted indicates a run stopped early.
	EventTypeRunAborted EventType = "run_aborted"

	// EventTypeStageStarted indicates a stage has started.
	EventTypeStageStarted EventType = "stage_started"

	// EventTypeStageCompleted indicates a stage has succeeded.
	EventTypeStageCompleted EventType = "stage_completed"

	// EventTypeStageFailed indicates a stage has failed.
	EventTypeStageFailed EventType = "stage_failed"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunAborted, EventTypeStageFailed:
		return "error"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StageStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StageStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StageStatus(str)
	return s.Validate()
}
