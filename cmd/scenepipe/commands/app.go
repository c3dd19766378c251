package commands

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scenepipe/scenepipe/pkg/config"
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/stores"
	"github.com/scenepipe/scenepipe/pkg/telemetry"
)

// shutdownTimeout bounds telemetry flushing on exit.
const shutdownTimeout = 10 * time.Second

// app holds what a command needs after configuration is loaded.
type app struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *stores.SQLiteStore
}

// loadConfig loads the configuration file and applies the global flag and
// environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Resolve(configPath))
	if err != nil {
		return nil, err
	}
	if workspaceRoot != "" {
		cfg.Workspace.Root = workspaceRoot
	}
	if level := os.Getenv(EnvLogLevel); telemetry.ValidLevel(level) {
		cfg.Telemetry.Logging.Level = level
	}
	return cfg, nil
}

// newApp loads configuration and installs telemetry.
func newApp(version string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to initialize telemetry", err)
	}
	tel.Logger.Install()
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))

	if err := tel.Metrics.StartMetricsServer(); err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, engine.NewConfigurationError("failed to start metrics server", err)
	}

	return &app{cfg: cfg, tel: tel}, nil
}

// historyStore opens the run history database once.
func (a *app) historyStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// openStore opens the run history database configured in cfg.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	path, err := cfg.StatePath()
	if err != nil {
		return nil, engine.NewConfigurationError("failed to locate run history", err)
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, engine.Classify(err).WithPath(path)
	}
	return store, nil
}

// orchestrator builds the orchestrator with the configured environments, run
// history and event sinks. History that cannot be opened is skipped.
func (a *app) orchestrator(ctx context.Context) (*engine.Orchestrator, error) {
	mgr, err := envs.NewManager(a.cfg.EnvSettings(), nil)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid environment settings", err)
	}

	opts := []engine.Option{engine.WithEventPublisher(a.tel.Publishers())}
	if a.cfg.State.Enabled {
		store, err := a.historyStore(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Run history unavailable, continuing without it")
		} else {
			opts = append(opts, engine.WithStateManager(store))
		}
	}

	return engine.NewOrchestrator(mgr, engine.NewExecRunner(), opts...), nil
}

// Close closes the store and flushes telemetry. Failures are logged.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run history")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}
