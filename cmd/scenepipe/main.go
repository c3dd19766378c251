package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scenepipe/scenepipe/cmd/scenepipe/commands"
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// The running tool receives the terminal's signal itself; the context only
	// stops the run before the next stage.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
	}
	os.Exit(engine.ExitCode(err))
}

// setupLogging configures zerolog until the configured logger is installed.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(telemetry.ParseLevel(os.Getenv(commands.EnvLogLevel)))
}
