package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestStore creates a migrated store in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRun(id string, started time.Time) *engine.Run {
	return &engine.Run{
		ID:        id,
		Pipeline:  "stage1",
		Scene:     "/data/kitchen",
		Status:    engine.RunStatusRunning,
		StartedAt: started,
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrating twice is a no-op")
	require.NoError(t, store.Close())
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestHealthCheckUninitialized(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.Error(t, store.HealthCheck(context.Background()))
	assert.Error(t, store.Migrate(context.Background()))
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "stage_results", "schema_migrations"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestSaveRunUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", t0)
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusRunning, got.Status)
	assert.Equal(t, t0, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Results)

	completed := t0.Add(90 * time.Second)
	run.Status = engine.RunStatusAborted
	run.Outcome = engine.OutcomeExternalFailure
	run.ExitCode = 3
	run.Error = "tool exited with status 3"
	run.CompletedAt = &completed
	run.Duration = 90 * time.Second
	require.NoError(t, store.SaveRun(ctx, run))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusAborted, got.Status)
	assert.Equal(t, engine.OutcomeExternalFailure, got.Outcome)
	assert.Equal(t, 3, got.ExitCode)
	assert.Equal(t, "tool exited with status 3", got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, completed, *got.CompletedAt)
	assert.Equal(t, 90*time.Second, got.Duration)
	assert.Equal(t, "/data/kitchen", got.Scene)
}

func TestSaveStageResult(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, testRun("run-1", t0)))

	depth := &engine.StageResult{StageID: "marigold-depth", Status: engine.StageStatusRunning, StartedAt: t0}
	require.NoError(t, store.SaveStageResult(ctx, "run-1", depth))
	train := &engine.StageResult{StageID: "sdf-train", Status: engine.StageStatusRunning, StartedAt: t0.Add(time.Minute)}
	require.NoError(t, store.SaveStageResult(ctx, "run-1", train))

	depth.Status = engine.StageStatusSucceeded
	depth.Outcome = engine.OutcomeSuccess
	depth.Command = "conda run --no-capture-output -n drawer_sdf python run.py"
	depth.CompletedAt = t0.Add(30 * time.Second)
	depth.Duration = 30 * time.Second
	require.NoError(t, store.SaveStageResult(ctx, "run-1", depth))

	results, err := store.ListStageResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, *depth, results[0], "updates keep the first insertion position")
	assert.Equal(t, "sdf-train", results[1].StageID)
	assert.Equal(t, engine.StageStatusRunning, results[1].Status)
	assert.True(t, results[1].CompletedAt.IsZero())
}

func TestSaveStageResultUnknownRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.SaveStageResult(context.Background(), "missing",
		&engine.StageResult{StageID: "x", Status: engine.StageStatusRunning})
	assert.Error(t, err)
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeNotFound, engine.Classify(err).Code)
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		run := testRun(id, t0.Add(time.Duration(i)*time.Hour))
		if id == "b" {
			run.Pipeline = "stage4"
		}
		require.NoError(t, store.SaveRun(ctx, run))
	}

	ids := func(runs []*engine.Run) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	runs, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(runs))

	runs, err = store.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(runs))

	runs, err = store.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(runs))

	runs, err = store.ListRuns(ctx, RunFilter{Pipeline: "stage1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(runs))
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, testRun("run-1", t0)))
	require.NoError(t, store.SaveStageResult(ctx, "run-1",
		&engine.StageResult{StageID: "x", Status: engine.StageStatusRunning, StartedAt: t0}))

	require.NoError(t, store.DeleteRun(ctx, "run-1"))

	results, err := store.ListStageResults(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, results)

	err = store.DeleteRun(ctx, "run-1")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeNotFound, engine.Classify(err).Code)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, testRun("run-1", t0)))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "stage1", run.Pipeline)
}

func TestOrchestratorRecordsRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tick := t0
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	p := &engine.Pipeline{
		Name:  "stage1",
		Scene: layout.Scene{Root: "/data/kitchen", Name: "kitchen"},
		Stages: []engine.Stage{
			{ID: "prepare", Action: func(context.Context) error { return nil }},
			{ID: "convert", Action: func(context.Context) error { return errors.New("camera count mismatch") }},
			{ID: "never", Action: func(context.Context) error { return nil }},
		},
	}

	orch := engine.NewOrchestrator(nil, nil, engine.WithStateManager(store), engine.WithClock(clock))
	run, err := orch.Run(ctx, p)
	require.Error(t, err)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusAborted, got.Status)
	assert.Equal(t, run.Outcome, got.Outcome)
	assert.Equal(t, run.Duration, got.Duration)
	require.Len(t, got.Results, 2, "stages that never started are not recorded")
	assert.Equal(t, "prepare", got.Results[0].StageID)
	assert.Equal(t, engine.StageStatusSucceeded, got.Results[0].Status)
	assert.Equal(t, "convert", got.Results[1].StageID)
	assert.Equal(t, engine.StageStatusFailed, got.Results[1].Status)
	assert.Contains(t, got.Results[1].Error, "camera count mismatch")
}
