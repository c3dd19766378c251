package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/fsutil"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"missing artifact", &layout.MissingArtifactError{Path: "/x"}, ErrorClassConfiguration},
		{"link conflict", &fsutil.LinkConflictError{Source: "a", Destination: "b"}, ErrorClassConflict},
		{"wrapped not exist", fmt.Errorf("open: %w", fs.ErrNotExist), ErrorClassConfiguration},
		{"unknown runtime", fmt.Errorf("%w: splat", envs.ErrUnknownRuntime), ErrorClassConfiguration},
		{"missing setting", envs.ErrMissingSetting, ErrorClassConfiguration},
		{"cancelled", context.Canceled, ErrorClassInterrupted},
		{"already classified", NewExternalError("boom", 4), ErrorClassExternal},
		{"wrapped classified", fmt.Errorf("ctx: %w", NewConflictError("c", nil)), ErrorClassConflict},
		{"other", errors.New("disk on fire"), ErrorClassInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Class != tt.class {
				t.Errorf("Classify() class = %s, want %s", got.Class, tt.class)
			}
			if !errors.Is(got, tt.err) && got.Err != nil && !errors.Is(got.Err, tt.err) {
				t.Errorf("classified error lost the original: %v", got)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"external", NewExternalError("sdf-train exited", 2), 2},
		{"external wrapped", fmt.Errorf("stage: %w", NewExternalError("x", 137)), 137},
		{"external without code", NewExternalError("x", 0), 1},
		{"configuration", NewConfigurationError("bad", nil), 1},
		{"conflict", NewConflictError("exists", nil), 1},
		{"missing artifact", &layout.MissingArtifactError{Path: "/x"}, 1},
		{"interrupted", NewInterruptedError("stop", context.Canceled), 130},
		{"internal", errors.New("x"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEngineErrorMessage(t *testing.T) {
	err := NewConfigurationError("required input missing", fs.ErrNotExist).
		WithStage("sdf-train").
		WithPath("/data/kitchen/transforms.json")

	want := "[configuration] required input missing (stage=sdf-train) (path=/data/kitchen/transforms.json): file does not exist"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeValidation}) {
		t.Error("expected errors.Is to match class and code")
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeSuccess},
		{NewExternalError("x", 1), OutcomeExternalFailure},
		{NewConfigurationError("x", nil), OutcomeConfigurationError},
		{&fsutil.LinkConflictError{}, OutcomeFilesystemConflict},
		{context.Canceled, OutcomeInterrupted},
		{errors.New("x"), OutcomeInternalError},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
		if err := tt.want.Validate(); err != nil {
			t.Errorf("Validate(%s) error = %v", tt.want, err)
		}
	}
}

func TestStageStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to StageStatus
		want     bool
	}{
		{StageStatusPending, StageStatusRunning, true},
		{StageStatusPending, StageStatusSucceeded, false},
		{StageStatusRunning, StageStatusSucceeded, true},
		{StageStatusRunning, StageStatusFailed, true},
		{StageStatusSucceeded, StageStatusRunning, false},
		{StageStatusFailed, StageStatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StageResult{StageID: "a", Status: StageStatusFailed})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back StageResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Status != StageStatusFailed {
		t.Errorf("status = %s, want failed", back.Status)
	}

	var status RunStatus
	if err := json.Unmarshal([]byte(`"exploded"`), &status); err == nil {
		t.Error("expected error for invalid run status")
	}
	if !RunStatusAborted.IsTerminal() || RunStatusRunning.IsTerminal() {
		t.Error("unexpected IsTerminal result")
	}
}
