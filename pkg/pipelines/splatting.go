package pipelines

import (
	"strconv"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// meshAreaToSubdivide is rendered the way the splat trainer's own tooling prints it.
const meshAreaToSubdivide = "2e-05"

// Matfuse model files, relative to the splat checkout.
const (
	matfuseCheckpoint = "ckpts/matfuse-full.ckpt"
	matfuseConfig     = "scripts/matfuse_sd/src/configs/diffusion/matfuse-ldm-vq_f8.yaml"
)

const defaultSaveNote = "default"

var splatProfiles = []envs.Profile{envs.ProfileToolchain, envs.ProfileCUDA}

func splattingStages(o Options) []engine.Stage {
	s, w := o.Scene, o.Workspace
	splat := w.ToolDir(layout.ToolSplat)
	sdfDir := w.SDFExperimentDir(s)
	experiment := w.SplatExperimentDir(s)
	interior := w.SplatVisDir(s, layout.VisInterior)
	val := w.SplatVisDir(s, layout.VisVal)
	objaverse := w.SplatVisDir(s, layout.VisObjaverse)

	stage := func(id, desc string, cmd []string, inputs, outputs []string) engine.Stage {
		return engine.Stage{
			ID:          id,
			Description: desc,
			Runtime:     RuntimeSplat,
			Dir:         splat,
			Command:     cmd,
			Inputs:      inputs,
			Outputs:     outputs,
			Profiles:    splatProfiles,
		}
	}

	merge := func(script string, extra ...string) []string {
		args := []string{
			"--splat_dir", experiment,
			"--sdf_dir", sdfDir,
			"--interior_dir", interior,
			"--save_note", defaultSaveNote,
		}
		return python(script, append(args, extra...)...)
	}

	train := stage("splat-train", "Train Gaussian splats on the textured mesh",
		splatTrainCommand(o),
		[]string{w.TexturedMesh(s)},
		[]string{experiment, w.GaussianExtraInfo(s, o.RunNote)},
	)
	train.EnsureDirs = []string{w.SplatVisDir(s, layout.VisExtraInfo)}

	return []engine.Stage{
		train,
		stage("matfuse-texgen", "Generate interior materials with Matfuse",
			python("scripts/matfuse_texgen.py",
				"--splat_dir", experiment,
				"--output_dir", interior,
				"--sdf_dir", sdfDir,
				"--ckpt", matfuseCheckpoint,
				"--config", matfuseConfig,
			),
			[]string{experiment, sdfDir},
			[]string{interior},
		),
		stage("paint-ao", "Paint ambient occlusion into interior textures",
			python("scripts/paint_ao.py", "--src_dir", interior),
			[]string{interior}, nil,
		),
		stage("splat-merge", "Merge splats with the interior",
			merge("scripts/splat_merge.py"),
			[]string{experiment, interior}, nil,
		),
		stage("splat-merge-val", "Merge splats for validation renders",
			merge("scripts/splat_merge_val.py", "--save_dir", val),
			[]string{experiment, interior},
			[]string{val},
		),
		stage("splat-merge-objaverse", "Merge splats with Objaverse assets",
			merge("scripts/splat_merge_objaverse.py", "--save_dir", objaverse),
			[]string{experiment, interior},
			[]string{objaverse},
		),
		stage("splat-export", "Export the merged splats",
			python("scripts/splat_export.py", "--splat_dir", experiment, "--save_note", defaultSaveNote),
			[]string{experiment}, nil,
		),
	}
}

func splatTrainCommand(o Options) []string {
	s, w := o.Scene, o.Workspace
	return python("nerfstudio/scripts/train.py",
		"splatfacto_on_mesh_uc",
		"--vis", "wandb",
		"--output-dir", w.SplatOutputsRoot(s),
		"--experiment-name", layout.ExperimentName(s.Name, layout.SuffixMeshGaussSplat),
		"--pipeline.model.mesh_area_to_subdivide", meshAreaToSubdivide,
		"--pipeline.model.acm_lambda", "1.0",
		"--pipeline.model.elevate_coef", "2.0",
		"--pipeline.model.upper_scale", "2.0",
		"--pipeline.model.continue_cull_post_densification", "True",
		"--pipeline.model.gaussian_save_extra_info_path", w.GaussianExtraInfo(s, o.RunNote),
		"--pipeline.model.mesh_depth_lambda", "1.0",
		"--pipeline.model.reset_alpha_every", "30",
		"--pipeline.model.use_scale_regularization", "True",
		"--pipeline.model.max_gauss_ratio", "1.5",
		"--max-num-iterations", "30000",
		"panoptic-data",
		"--data", s.Root,
		"--mesh_gauss_path", w.TexturedMesh(s),
		"--mesh_area_to_subdivide", meshAreaToSubdivide,
		"--mesh_depth", "True",
		"--downscale_factor", strconv.Itoa(o.DownscaleFactor),
		"--num_max_image", "2000",
	)
}
