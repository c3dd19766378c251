package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "LOG_LEVEL"

var (
	// Global flags
	configPath    string
	workspaceRoot string
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scenepipe",
		Short: "scenepipe - scene reconstruction pipeline orchestrator",
		Long: `scenepipe drives the scene reconstruction pipelines over a scene directory.

Each pipeline is a fixed sequence of stages. A stage either runs an external tool
inside its runtime environment or performs an in-process step such as converting
the COLMAP reconstruction into transforms.json. Stages hand artifacts to each
other only through the scene directory, and a run stops at the first failure.

Pipelines:
  transforms  COLMAP cameras.bin/images.bin to transforms.json
  stage1      depth/normal priors, SDF reconstruction, mesh and texture
  stage2      door and handle perception, articulation, door fitting
  stage3      USD composition and simulation
  stage4      Gaussian splatting, material fusion and export`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $SCENEPIPE_CONFIG or ./scenepipe.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", "", "tool workspace root (overrides workspace.root)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newTransformsCommand(version))
	rootCmd.AddCommand(newPipelinesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}
