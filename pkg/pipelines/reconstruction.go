package pipelines

import (
	"context"
	"strconv"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/fsutil"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// Marigold checkpoints.
const (
	marigoldDepthCheckpoint   = "GonzaloMG/marigold-e2e-ft-depth"
	marigoldNormalsCheckpoint = "GonzaloMG/marigold-e2e-ft-normals"
)

func reconstructionStages(o Options) []engine.Stage {
	s, w := o.Scene, o.Workspace
	images := s.Images(o.ImageDirName)
	marigold := w.ToolDir(layout.ToolMarigold)
	sdf := w.ToolDir(layout.ToolSDF)
	experiment := w.SDFExperimentDir(s)

	return []engine.Stage{
		{
			ID:          "marigold-depth",
			Description: "Predict monocular depth",
			Runtime:     RuntimeSDF,
			Dir:         marigold,
			Command: python("run.py",
				"--checkpoint", marigoldDepthCheckpoint,
				"--modality", "depth",
				"--input_rgb_dir", images,
				"--output_dir", s.MarigoldDir(),
			),
			Inputs:  []string{images},
			Outputs: []string{s.MarigoldDir()},
		},
		{
			ID:          "marigold-normals",
			Description: "Predict monocular normals",
			Runtime:     RuntimeSDF,
			Dir:         marigold,
			Command: python("run.py",
				"--checkpoint", marigoldNormalsCheckpoint,
				"--modality", "normals",
				"--input_rgb_dir", images,
				"--output_dir", s.MarigoldDir(),
			),
			Inputs: []string{images},
		},
		{
			ID:          "marigold-postprocess",
			Description: "Split Marigold output into depth and normal folders",
			Runtime:     RuntimeSDF,
			Dir:         marigold,
			Command:     python("read_marigold.py", "--data_dir", s.MarigoldDir()),
			Inputs:      []string{s.MarigoldDir()},
			Outputs:     []string{s.MarigoldDepth(), s.MarigoldNormal()},
		},
		{
			ID:          "link-mono-priors",
			Description: "Alias depth and normal folders at the scene root",
			Action: func(context.Context) error {
				if err := fsutil.CreateLink(s.MarigoldDepth(), s.DepthAlias()); err != nil {
					return err
				}
				return fsutil.CreateLink(s.MarigoldNormal(), s.NormalAlias())
			},
			Inputs:  []string{s.MarigoldDepth(), s.MarigoldNormal()},
			Aliases: []string{s.DepthAlias(), s.NormalAlias()},
		},
		{
			ID:          "sdf-train",
			Description: "Train the SDF reconstruction",
			Runtime:     RuntimeSDF,
			Dir:         sdf,
			Command:     sdfTrainCommand(s, w, o.DownscaleFactor),
			Inputs:      []string{s.TransformsJSON(""), s.DepthAlias(), s.NormalAlias()},
			Outputs:     []string{experiment},
		},
		{
			ID:          "sdf-extract-mesh",
			Description: "Extract and simplify the mesh",
			Runtime:     RuntimeSDF,
			Dir:         sdf,
			Command: python("scripts/extract_mesh.py",
				"--load-config", w.SDFConfig(s),
				"--output-path", w.SDFMesh(s),
				"--bounding-box-min", "-2.0", "-2.0", "-2.0",
				"--bounding-box-max", "2.0", "2.0", "2.0",
				"--resolution", "2048",
				"--marching_cube_threshold", "0.0035",
				"--create_visibility_mask", "True",
				"--simplify-mesh", "True",
			),
			Inputs:  []string{w.SDFConfig(s)},
			Outputs: []string{w.SDFMesh(s), w.SDFSimplifiedMesh(s)},
		},
		{
			ID:          "sdf-texture",
			Description: "Texture the simplified mesh",
			Runtime:     RuntimeSDF,
			Dir:         sdf,
			Command: python("scripts/texture.py",
				"--load-config", w.SDFConfig(s),
				"--output-dir", w.TextureMeshDir(s),
				"--input_mesh_filename", w.SDFSimplifiedMesh(s),
				"--target_num_faces", "300000",
			),
			Inputs:     []string{w.SDFConfig(s), w.SDFSimplifiedMesh(s)},
			EnsureDirs: []string{w.TextureMeshDir(s)},
			Outputs:    []string{w.TexturedMesh(s)},
		},
		{
			ID:          "sdf-save-pose",
			Description: "Save reconstructed camera poses into the scene",
			Runtime:     RuntimeSDF,
			Dir:         sdf,
			Command:     python("scripts/save_pose.py", "--ckpt_dir", experiment, "--save_dir", s.Root),
			Inputs:      []string{experiment},
		},
	}
}

func sdfTrainCommand(s layout.Scene, w layout.Workspace, downscale int) []string {
	return python("scripts/train.py",
		"bakedsdf",
		"--vis", "wandb",
		"--output-dir", w.SDFOutputsRoot(s),
		"--experiment-name", layout.ExperimentName(s.Name, layout.SuffixSDFRecon),
		"--trainer.steps-per-eval-image", "2000",
		"--trainer.steps-per-eval-all-images", "250001",
		"--trainer.max-num-iterations", "250001",
		"--trainer.steps-per-eval-batch", "250001",
		"--optimizers.fields.scheduler.max-steps", "250000",
		"--optimizers.field-background.scheduler.max-steps", "250000",
		"--optimizers.proposal-networks.scheduler.max-steps", "250000",
		"--pipeline.model.eikonal-anneal-max-num-iters", "250000",
		"--pipeline.model.beta-anneal-max-num-iters", "250000",
		"--pipeline.model.sdf-field.bias", "1.5",
		"--pipeline.model.sdf-field.inside-outside", "True",
		"--pipeline.model.eikonal-loss-mult", "0.01",
		"--pipeline.model.num-neus-samples-per-ray", "24",
		"--pipeline.datamanager.train-num-rays-per-batch", "4096",
		"--machine.num-gpus", "1",
		"--pipeline.model.scene-contraction-norm", "inf",
		"--pipeline.model.mono-normal-loss-mult", "0.2",
		"--pipeline.model.mono-depth-loss-mult", "1.0",
		"--pipeline.model.near-plane", "1e-6",
		"--pipeline.model.far-plane", "100",
		"panoptic-data",
		"--data", s.Root,
		"--panoptic_data", "False",
		"--mono_normal_data", "True",
		"--mono_depth_data", "True",
		"--panoptic_segment", "False",
		"--downscale_factor", strconv.Itoa(downscale),
		"--num_max_image", "2000",
	)
}
