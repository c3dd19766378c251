package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/fsutil"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, engine.NewConfigurationError("database path is required", nil)
	}

	// SQLite allows a single writer, and :memory: databases exist per connection.
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 1
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: log.With().Str("component", "stores").Str("path", cfg.Path).Logger(),
		now:    time.Now,
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and sets the connection PRAGMAs.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != ":memory:" {
		if err := fsutil.EnsureDir(filepath.Dir(s.cfg.Path)); err != nil {
			return engine.Classify(err).WithPath(s.cfg.Path)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Closing m would close s.db, so the instance is left to the garbage collector.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	m.Log = migrateLogger{logger: s.logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	s.logger.Debug().Uint("version", version).Bool("dirty", dirty).Msg("Run history schema ready")
	return nil
}

// SaveRun inserts or updates a run. Stage results are saved separately.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	query := `
		INSERT INTO runs (id, pipeline, scene, status, outcome, exit_code, error, started_at, completed_at, duration_ns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			exit_code = excluded.exit_code,
			error = excluded.error,
			completed_at = excluded.completed_at,
			duration_ns = excluded.duration_ns,
			updated_at = excluded.updated_at
	`

	var completedAt sql.NullInt64
	if run.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: run.CompletedAt.UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Pipeline,
		run.Scene,
		string(run.Status),
		string(run.Outcome),
		run.ExitCode,
		run.Error,
		toNanos(run.StartedAt),
		completedAt,
		int64(run.Duration),
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveStageResult inserts or updates the result of one stage of a run.
func (s *SQLiteStore) SaveStageResult(ctx context.Context, runID string, result *engine.StageResult) error {
	query := `
		INSERT INTO stage_results (run_id, stage_id, status, outcome, exit_code, command, error, started_at, completed_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, stage_id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			exit_code = excluded.exit_code,
			command = excluded.command,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ns = excluded.duration_ns
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		result.StageID,
		string(result.Status),
		string(result.Outcome),
		result.ExitCode,
		result.Command,
		result.Error,
		toNanos(result.StartedAt),
		toNanos(result.CompletedAt),
		int64(result.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to save result of stage %s: %w", result.StageID, err)
	}
	return nil
}

// GetRun retrieves a run by ID together with its stage results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `
		SELECT id, pipeline, scene, status, outcome, exit_code, error, started_at, completed_at, duration_ns
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewConfigurationError(fmt.Sprintf("run not found: %s", id), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	results, err := s.ListStageResults(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return run, nil
}

// ListRuns lists runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, pipeline, scene, status, outcome, exit_code, error, started_at, completed_at, duration_ns
		FROM runs
		WHERE (? = '' OR pipeline = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, filter.Pipeline, filter.Pipeline, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListStageResults lists the stored results of a run in the order stages started.
func (s *SQLiteStore) ListStageResults(ctx context.Context, runID string) ([]engine.StageResult, error) {
	query := `
		SELECT stage_id, status, outcome, exit_code, command, error, started_at, completed_at, duration_ns
		FROM stage_results
		WHERE run_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage results: %w", err)
	}
	defer rows.Close()

	results := []engine.StageResult{}
	for rows.Next() {
		var (
			r                    engine.StageResult
			status, outcome      string
			startedAt, completed int64
			duration             int64
		)
		if err := rows.Scan(&r.StageID, &status, &outcome, &r.ExitCode, &r.Command, &r.Error,
			&startedAt, &completed, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		r.Status = engine.StageStatus(status)
		r.Outcome = engine.Outcome(outcome)
		r.StartedAt = fromNanos(startedAt)
		r.CompletedAt = fromNanos(completed)
		r.Duration = time.Duration(duration)
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage results: %w", err)
	}

	return results, nil
}

// DeleteRun deletes a run and, through the foreign key, its stage results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return engine.NewConfigurationError(fmt.Sprintf("run not found: %s", id), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var (
		run             engine.Run
		status, outcome string
		startedAt       int64
		completedAt     sql.NullInt64
		duration        int64
	)
	if err := row.Scan(&run.ID, &run.Pipeline, &run.Scene, &status, &outcome, &run.ExitCode, &run.Error,
		&startedAt, &completedAt, &duration); err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	run.Outcome = engine.Outcome(outcome)
	run.StartedAt = fromNanos(startedAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		run.CompletedAt = &t
	}
	run.Duration = time.Duration(duration)
	return &run, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// migrateLogger routes golang-migrate output to zerolog.
type migrateLogger struct {
	logger zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
