package stores

import (
	"context"
	"time"

	"github.com/scenepipe/scenepipe/pkg/engine"
)

// Store is the run history store.
type Store interface {
	engine.StateManager

	// GetRun returns a run with the results of its executed stages.
	GetRun(ctx context.Context, id string) (*engine.Run, error)

	// ListRuns returns the most recent runs, newest first, without stage results.
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error)

	// ListStageResults returns the stored stage results of a run in execution order.
	ListStageResults(ctx context.Context, runID string) ([]engine.StageResult, error)

	// DeleteRun removes a run and its stage results.
	DeleteRun(ctx context.Context, id string) error

	// HealthCheck verifies the database is reachable.
	HealthCheck(ctx context.Context) error

	// Close closes the database.
	Close() error
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// Pipeline restricts the result to one pipeline when set.
	Pipeline string

	// Limit caps the number of runs; zero means DefaultListLimit.
	Limit int

	// Offset skips the newest runs.
	Offset int
}

// DefaultListLimit is the number of runs ListRuns returns when no limit is set.
const DefaultListLimit = 20

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

var _ Store = (*SQLiteStore)(nil)
