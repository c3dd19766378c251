package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to ./scenepipe.yaml (or --config) and create
the run history database.

An existing configuration file is left untouched unless --force is given.`,
		Example: `  # Create ./scenepipe.yaml pointing at the tool checkouts
  scenepipe init --workspace /opt/drawer

  # Replace a user-level configuration
  scenepipe init --config ~/.config/scenepipe/config.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.FileName
			}

			cfg := config.Default()
			cfg.Workspace.Root = workspaceRoot
			if err := cfg.Validate(); err != nil {
				return err
			}

			log.Info().Str("config", path).Bool("force", force).Msg("Initializing configuration")
			if err := config.Write(path, cfg, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration: %s\n", path)

			if cfg.State.Enabled {
				statePath, err := cfg.StatePath()
				if err != nil {
					return err
				}
				store, err := openStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				if err := store.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized run history: %s\n", statePath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")

	return cmd
}
