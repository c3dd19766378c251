package pipelines

import (
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

func simulationStages(o Options) []engine.Stage {
	sim := o.Workspace.ToolDir(layout.ToolIsaacSim)
	sdfDir := o.Workspace.SDFExperimentDir(o.Scene)

	return []engine.Stage{
		{
			ID:          "compose-usd",
			Description: "Compose the USD scene from the SDF reconstruction",
			Runtime:     RuntimeSim,
			Dir:         sim,
			Command:     python("compose_usd.py", "--sdf_dir", sdfDir),
			Inputs:      []string{sdfDir},
		},
		{
			ID:          "run-simulation",
			Description: "Run the physics simulation on the composed scene",
			Runtime:     RuntimeSim,
			Dir:         sim,
			Command:     python("run_simulation.py", "--sdf_dir", sdfDir),
			Inputs:      []string{sdfDir},
		},
	}
}
