package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/fsutil"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// Mock resolver for testing
type mockResolver struct {
	failRuntime string
}

func (m *mockResolver) Resolve(req envs.Request) (envs.Invocation, error) {
	if req.Runtime != "" && req.Runtime == m.failRuntime {
		return envs.Invocation{}, envs.ErrUnknownRuntime
	}
	return envs.Invocation{Runtime: req.Runtime, Argv: req.Argv, Dir: req.Dir}, nil
}

// Mock runner for testing
type mockRunner struct {
	mu       sync.Mutex
	codes    map[string]int
	startErr map[string]error
	ran      []string
	onRun    func(name string)
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		codes:    make(map[string]int),
		startErr: make(map[string]error),
	}
}

func (m *mockRunner) Run(ctx context.Context, inv envs.Invocation) (int, error) {
	name := inv.Argv[0]
	m.mu.Lock()
	m.ran = append(m.ran, name)
	code := m.codes[name]
	err := m.startErr[name]
	hook := m.onRun
	m.mu.Unlock()

	if hook != nil {
		hook(name)
	}
	if err != nil {
		return ExitCodeNotStarted, err
	}
	return code, nil
}

func (m *mockRunner) getRan() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.ran...)
}

// Mock state manager for testing
type mockStateManager struct {
	mu      sync.Mutex
	runs    []Run
	results []StageResult
	fail    bool
}

func (m *mockStateManager) SaveRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database is locked")
	}
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockStateManager) SaveStageResult(ctx context.Context, runID string, result *StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database is locked")
	}
	m.results = append(m.results, *result)
	return nil
}

// Mock event publisher for testing
type mockEventPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockEventPublisher) Publish(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventPublisher) types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func testScene(t *testing.T) layout.Scene {
	t.Helper()
	s, err := layout.NewScene(filepath.Join(t.TempDir(), "kitchen"))
	if err != nil {
		t.Fatalf("NewScene() error = %v", err)
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	return s
}

func commandStage(id string) Stage {
	return Stage{ID: id, Runtime: "sdf", Command: []string{id, "--flag"}}
}

func TestOrchestratorRunsStagesInOrder(t *testing.T) {
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{}, runner)

	p := &Pipeline{
		Name:   "stage1",
		Scene:  testScene(t),
		Stages: []Stage{commandStage("a"), commandStage("b"), commandStage("c")},
	}

	run, err := o.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := strings.Join(runner.getRan(), ","); got != "a,b,c" {
		t.Errorf("ran = %s, want a,b,c", got)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("run status = %s, want succeeded", run.Status)
	}
	if run.Outcome != OutcomeSuccess || run.ExitCode != 0 {
		t.Errorf("outcome = %s exit = %d, want success/0", run.Outcome, run.ExitCode)
	}
	if run.ID == "" {
		t.Error("expected run ID")
	}
	for _, r := range run.Results {
		if r.Status != StageStatusSucceeded {
			t.Errorf("stage %s status = %s, want succeeded", r.StageID, r.Status)
		}
		if r.Command == "" {
			t.Errorf("stage %s has no recorded command", r.StageID)
		}
	}
}

func TestOrchestratorStopsAtFirstFailure(t *testing.T) {
	runner := newMockRunner()
	runner.codes["b"] = 3
	o := NewOrchestrator(&mockResolver{}, runner)

	p := &Pipeline{
		Name:   "stage2",
		Scene:  testScene(t),
		Stages: []Stage{commandStage("a"), commandStage("b"), commandStage("c")},
	}

	run, err := o.Run(context.Background(), p)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsExternal(err) {
		t.Errorf("expected external error, got %v", err)
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}

	if got := strings.Join(runner.getRan(), ","); got != "a,b" {
		t.Errorf("ran = %s, want a,b", got)
	}
	if run.Status != RunStatusAborted {
		t.Errorf("run status = %s, want aborted", run.Status)
	}
	if run.ExitCode != 3 || run.Outcome != OutcomeExternalFailure {
		t.Errorf("run exit = %d outcome = %s", run.ExitCode, run.Outcome)
	}

	want := []StageStatus{StageStatusSucceeded, StageStatusFailed, StageStatusPending}
	for i, r := range run.Results {
		if r.Status != want[i] {
			t.Errorf("stage %s status = %s, want %s", r.StageID, r.Status, want[i])
		}
	}
	if run.Results[1].ExitCode != 3 {
		t.Errorf("stage b exit code = %d, want 3", run.Results[1].ExitCode)
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Stage != "b" {
		t.Errorf("expected error for stage b, got %v", err)
	}
}

func TestOrchestratorMissingInput(t *testing.T) {
	scene := testScene(t)
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{}, runner)

	missing := scene.TransformsJSON("")
	sdf := commandStage("sdf-train")
	sdf.Inputs = []string{scene.Root, missing}

	p := &Pipeline{Name: "stage1", Scene: scene, Stages: []Stage{sdf, commandStage("next")}}

	run, err := o.Run(context.Background(), p)
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, want 1", ExitCode(err))
	}
	if len(runner.getRan()) != 0 {
		t.Errorf("runner should not be called, ran %v", runner.getRan())
	}
	if run.Results[0].Outcome != OutcomeConfigurationError {
		t.Errorf("outcome = %s, want configuration_error", run.Results[0].Outcome)
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Path != missing {
		t.Errorf("expected error naming %s, got %v", missing, err)
	}
}

func TestOrchestratorPreparesDirectories(t *testing.T) {
	scene := testScene(t)
	reset := filepath.Join(scene.Root, "perception", "handles")
	if err := os.MkdirAll(filepath.Join(reset, "stale"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(reset, "old.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	ensure := filepath.Join(scene.Root, "texture_mesh")

	runner := newMockRunner()
	runner.onRun = func(string) {
		entries, err := os.ReadDir(reset)
		if err != nil || len(entries) != 0 {
			t.Errorf("reset dir not empty at launch: %v %v", entries, err)
		}
		if _, err := os.Stat(ensure); err != nil {
			t.Errorf("ensure dir missing at launch: %v", err)
		}
	}

	stage := commandStage("gsam-handles")
	stage.Resets = []string{reset}
	stage.EnsureDirs = []string{ensure}

	o := NewOrchestrator(&mockResolver{}, runner)
	p := &Pipeline{Name: "stage2", Scene: scene, Stages: []Stage{stage}}

	// Re-running is safe
	for i := 0; i < 2; i++ {
		if _, err := o.Run(context.Background(), p); err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
	}
}

func TestOrchestratorResetTargetIsFile(t *testing.T) {
	scene := testScene(t)
	reset := filepath.Join(scene.Root, "perception", "handles")
	if err := os.MkdirAll(filepath.Dir(reset), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(reset, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	stage := commandStage("gsam-handles")
	stage.Resets = []string{reset}
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{}, runner)
	p := &Pipeline{Name: "stage2", Scene: scene, Stages: []Stage{stage}}

	run, err := o.Run(context.Background(), p)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if run.Outcome != OutcomeFilesystemConflict {
		t.Errorf("outcome = %s, want filesystem_conflict", run.Outcome)
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, want 1", ExitCode(err))
	}
	if len(runner.getRan()) != 0 {
		t.Errorf("tool must not run, ran %v", runner.getRan())
	}
}

func TestOrchestratorActionConflict(t *testing.T) {
	scene := testScene(t)
	alias := scene.DepthAlias()
	if err := os.WriteFile(alias, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	link := Stage{
		ID:      "link-mono-priors",
		Aliases: []string{alias},
		Action: func(ctx context.Context) error {
			return fsutil.CreateLink(scene.MarigoldDepth(), alias)
		},
	}
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{}, runner)
	p := &Pipeline{Name: "stage1", Scene: scene, Stages: []Stage{link, commandStage("sdf-train")}}

	run, err := o.Run(context.Background(), p)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, want 1", ExitCode(err))
	}
	if run.Outcome != OutcomeFilesystemConflict {
		t.Errorf("outcome = %s, want filesystem_conflict", run.Outcome)
	}
	if len(runner.getRan()) != 0 {
		t.Errorf("later stages must not run, ran %v", runner.getRan())
	}
}

func TestOrchestratorInterruptedBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newMockRunner()
	runner.onRun = func(name string) {
		if name == "a" {
			cancel()
		}
	}
	o := NewOrchestrator(&mockResolver{}, runner)
	p := &Pipeline{
		Name:   "stage4",
		Scene:  testScene(t),
		Stages: []Stage{commandStage("a"), commandStage("b")},
	}

	run, err := o.Run(ctx, p)
	if !IsInterrupted(err) {
		t.Fatalf("expected interrupted, got %v", err)
	}
	if ExitCode(err) != 130 {
		t.Errorf("ExitCode() = %d, want 130", ExitCode(err))
	}
	// The stage in flight completes; the next one never starts
	if run.Results[0].Status != StageStatusSucceeded {
		t.Errorf("stage a status = %s, want succeeded", run.Results[0].Status)
	}
	if run.Results[1].Status != StageStatusPending {
		t.Errorf("stage b status = %s, want pending", run.Results[1].Status)
	}
	if run.Outcome != OutcomeInterrupted {
		t.Errorf("outcome = %s, want interrupted", run.Outcome)
	}
}

func TestOrchestratorResolveFailure(t *testing.T) {
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{failRuntime: "sdf"}, runner)
	p := &Pipeline{Name: "stage1", Scene: testScene(t), Stages: []Stage{commandStage("a")}}

	_, err := o.Run(context.Background(), p)
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, envs.ErrUnknownRuntime) {
		t.Errorf("expected wrapped ErrUnknownRuntime, got %v", err)
	}
	if len(runner.getRan()) != 0 {
		t.Error("runner should not be called")
	}
}

func TestOrchestratorStartFailure(t *testing.T) {
	runner := newMockRunner()
	runner.startErr["a"] = errors.New("executable file not found in $PATH")
	o := NewOrchestrator(&mockResolver{}, runner)
	p := &Pipeline{Name: "stage3", Scene: testScene(t), Stages: []Stage{commandStage("a")}}

	run, err := o.Run(context.Background(), p)
	if !IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if ExitCode(err) != ExitCodeNotStarted {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), ExitCodeNotStarted)
	}
	if run.Results[0].ExitCode != ExitCodeNotStarted {
		t.Errorf("stage exit code = %d", run.Results[0].ExitCode)
	}
}

func TestOrchestratorStateAndEvents(t *testing.T) {
	runner := newMockRunner()
	runner.codes["b"] = 2
	sm := &mockStateManager{}
	pub := &mockEventPublisher{}
	o := NewOrchestrator(&mockResolver{}, runner, WithStateManager(sm), WithEventPublisher(pub))

	p := &Pipeline{
		Name:   "stage1",
		Scene:  testScene(t),
		Stages: []Stage{commandStage("a"), commandStage("b"), commandStage("c")},
	}
	run, _ := o.Run(context.Background(), p)

	want := []EventType{
		EventTypeRunStarted,
		EventTypeStageStarted, EventTypeStageCompleted,
		EventTypeStageStarted, EventTypeStageFailed,
		EventTypeRunAborted,
	}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	last := pub.events[len(pub.events)-1]
	if last.StageID != "b" || last.Level != "error" || last.RunID != run.ID {
		t.Errorf("unexpected abort event %+v", last)
	}

	if len(sm.runs) != 2 {
		t.Fatalf("saved runs = %d, want 2", len(sm.runs))
	}
	if sm.runs[0].Status != RunStatusRunning || sm.runs[1].Status != RunStatusAborted {
		t.Errorf("saved run statuses = %s, %s", sm.runs[0].Status, sm.runs[1].Status)
	}
	if len(sm.results) != 4 {
		t.Errorf("saved stage results = %d, want 4", len(sm.results))
	}
}

func TestOrchestratorStateFailureDoesNotAbort(t *testing.T) {
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{}, runner, WithStateManager(&mockStateManager{fail: true}))
	p := &Pipeline{Name: "stage1", Scene: testScene(t), Stages: []Stage{commandStage("a"), commandStage("b")}}

	run, err := o.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", run.Status)
	}
}

func TestOrchestratorRejectsFinishedStage(t *testing.T) {
	called := false
	stage := Stage{ID: "a", Action: func(ctx context.Context) error {
		called = true
		return nil
	}}
	run := &Run{ID: "run-1", Results: []StageResult{{StageID: "a", Status: StageStatusSucceeded}}}

	o := NewOrchestrator(&mockResolver{}, newMockRunner())
	err := o.executeStage(context.Background(), run, 0, &stage)
	if err == nil || Classify(err).Class != ErrorClassInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if called {
		t.Error("finished stage must not run again")
	}
	if run.Results[0].Status != StageStatusSucceeded {
		t.Errorf("status = %s, want succeeded", run.Results[0].Status)
	}
}

func TestOrchestratorContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	stage := Stage{ID: "write-transforms", Action: func(ctx context.Context) error {
		zerolog.Ctx(ctx).Info().Msg("inside action")
		return nil
	}}
	p := &Pipeline{Name: "transforms", Scene: testScene(t), Stages: []Stage{stage}}

	run, err := NewOrchestrator(&mockResolver{}, newMockRunner()).Run(ctx, p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		if entry["run_id"] != run.ID {
			t.Errorf("log line %q lacks run_id %s", line, run.ID)
		}
		if entry["message"] == "inside action" {
			found = true
			if entry["stage"] != "write-transforms" {
				t.Errorf("stage = %v, want write-transforms", entry["stage"])
			}
		}
	}
	if !found {
		t.Error("action did not log through the run logger")
	}
}

func TestPipelineValidate(t *testing.T) {
	scene := layout.Scene{Root: "/data/kitchen", Name: "kitchen"}
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		stages  []Stage
		wantErr bool
	}{
		{"valid", []Stage{commandStage("a"), {ID: "b", Action: noop}}, false},
		{"empty", nil, true},
		{"missing id", []Stage{{Command: []string{"x"}}}, true},
		{"duplicate id", []Stage{commandStage("a"), commandStage("a")}, true},
		{"neither command nor action", []Stage{{ID: "a"}}, true},
		{"both command and action", []Stage{{ID: "a", Command: []string{"x"}, Action: noop}}, true},
		{"duplicate output", []Stage{
			{ID: "a", Command: []string{"x"}, Outputs: []string{"/data/kitchen/depth"}},
			{ID: "b", Command: []string{"y"}, Outputs: []string{"/data/kitchen/./depth/"}},
		}, true},
		{"alias collides with output", []Stage{
			{ID: "a", Command: []string{"x"}, Outputs: []string{"/data/kitchen/depth"}},
			{ID: "b", Action: noop, Aliases: []string{"/data/kitchen/depth"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{Name: "p", Scene: scene, Stages: tt.stages}
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestOrchestratorRejectsInvalidPipeline(t *testing.T) {
	runner := newMockRunner()
	o := NewOrchestrator(&mockResolver{}, runner)

	run, err := o.Run(context.Background(), &Pipeline{Name: "p", Scene: testScene(t)})
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if run != nil {
		t.Error("expected no run for an invalid pipeline")
	}
}
