package commands

import (
	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/pipelines"
)

func newRunCommand(version string) *cobra.Command {
	var flags *sceneFlags

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline over a scene",
		Long: `Run every stage of a pipeline in order over the scene directory.

The run stops at the first stage that fails. Artifacts written by earlier stages
are left in place, so a failed run can be resumed by fixing the cause and running
the pipeline again. Stages that reset their output directory start clean.

The process exits with the exit code of the failing tool, 1 for configuration or
filesystem conflicts and 130 when interrupted.`,
		Example: `  # Convert the COLMAP model and build the textured mesh
  scenepipe run stage1 --data-root /data/kitchen --image-dir-name images_2

  # Run splatting with a custom run note
  scenepipe run stage4 --data-root /data/kitchen --run-note dense_2`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: pipelines.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runPipeline(cmd, version, args[0], flags)
			return err
		},
	}

	flags = bindSceneFlags(cmd, true)
	return cmd
}

// runPipeline builds and runs a pipeline and prints the run summary.
func runPipeline(cmd *cobra.Command, version, name string, flags *sceneFlags) (*engine.Run, error) {
	a, err := newApp(version)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	opts, err := flags.options(a.cfg)
	if err != nil {
		return nil, err
	}
	p, err := pipelines.Build(name, opts)
	if err != nil {
		return nil, err
	}

	ctx := a.tel.WithContext(cmd.Context())
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return nil, err
	}

	run, err := orch.Run(ctx, p)
	if run != nil {
		if perr := printRun(cmd.OutOrStdout(), run); perr != nil && err == nil {
			err = perr
		}
	}
	return run, err
}
