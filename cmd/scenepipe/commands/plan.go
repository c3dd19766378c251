package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/pipelines"
)

// plannedStage is a stage as it would run, with its resolved invocation.
type plannedStage struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	InProcess   bool              `json:"in_process"`
	Invocation  *envs.Invocation  `json:"invocation,omitempty"`
	Overrides   map[string]string `json:"overrides,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	Outputs     []string          `json:"outputs,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	EnsureDirs  []string          `json:"ensure_dirs,omitempty"`
	Resets      []string          `json:"resets,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var flags *sceneFlags

	cmd := &cobra.Command{
		Use:   "plan <pipeline>",
		Short: "Show the stages a pipeline would run",
		Long: `Resolve every stage of a pipeline for a scene without running anything.

For each stage the plan shows the command line after the runtime launcher is
applied, the working directory, the environment overrides (credentials masked)
and the paths the stage reads, creates, resets and produces.`,
		Example: `  # Inspect stage2 before running it
  scenepipe plan stage2 --data-root /data/kitchen --image-dir-name images_2

  # Machine-readable plan
  scenepipe plan stage4 -d /data/kitchen --json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: pipelines.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := flags.options(cfg)
			if err != nil {
				return err
			}
			p, err := pipelines.Build(args[0], opts)
			if err != nil {
				return err
			}
			mgr, err := envs.NewManager(cfg.EnvSettings(), nil)
			if err != nil {
				return engine.NewConfigurationError("invalid environment settings", err)
			}

			stages, err := planStages(mgr, p)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stages)
			}
			printPlan(cmd.OutOrStdout(), p, stages)
			return nil
		},
	}

	flags = bindSceneFlags(cmd, true)
	return cmd
}

// planStages resolves the invocation of every tool stage.
func planStages(resolver engine.EnvironmentResolver, p *engine.Pipeline) ([]plannedStage, error) {
	out := make([]plannedStage, 0, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]
		ps := plannedStage{
			ID:          s.ID,
			Description: s.Description,
			InProcess:   s.IsAction(),
			Inputs:      s.Inputs,
			Outputs:     s.Outputs,
			Aliases:     s.Aliases,
			EnsureDirs:  s.EnsureDirs,
			Resets:      s.Resets,
		}
		if !s.IsAction() {
			inv, err := resolver.Resolve(s.Request())
			if err != nil {
				return nil, engine.NewConfigurationError("failed to resolve environment", err).WithStage(s.ID)
			}
			redacted := inv.Redacted()
			ps.Invocation = &redacted
			ps.Overrides = inv.OverrideValues()
		}
		out = append(out, ps)
	}
	return out, nil
}

func printPlan(w io.Writer, p *engine.Pipeline, stages []plannedStage) {
	fmt.Fprintf(w, "Pipeline %s on %s (%d stages)\n", p.Name, p.Scene.Root, len(stages))
	for i, s := range stages {
		fmt.Fprintf(w, "\n%d. %s", i+1, s.ID)
		if s.Description != "" {
			fmt.Fprintf(w, ": %s", s.Description)
		}
		fmt.Fprintln(w)

		if s.InProcess {
			fmt.Fprintln(w, "   in-process")
		} else {
			fmt.Fprintf(w, "   $ %s\n", s.Invocation.String())
			if s.Invocation.Dir != "" {
				fmt.Fprintf(w, "   dir: %s\n", s.Invocation.Dir)
			}
			if len(s.Overrides) > 0 {
				keys := make([]string, 0, len(s.Overrides))
				for k := range s.Overrides {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				pairs := make([]string, len(keys))
				for j, k := range keys {
					pairs[j] = k + "=" + s.Overrides[k]
				}
				fmt.Fprintf(w, "   env: %s\n", strings.Join(pairs, " "))
			}
		}
		printPaths(w, "needs", s.Inputs)
		printPaths(w, "creates", s.EnsureDirs)
		printPaths(w, "resets", s.Resets)
		printPaths(w, "produces", s.Outputs)
		printPaths(w, "links", s.Aliases)
	}
}

func printPaths(w io.Writer, label string, paths []string) {
	for _, p := range paths {
		fmt.Fprintf(w, "   %s: %s\n", label, p)
	}
}
