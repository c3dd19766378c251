package pipelines

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/fsutil"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// Grounded-SAM model files, relative to the grounded_sam checkout.
const (
	groundingDINOConfig     = "GroundingDINO/groundingdino/config/GroundingDINO_SwinT_OGC.py"
	groundingDINOCheckpoint = "groundingdino_swint_ogc.pth"
	samCheckpoint           = "sam_vit_h_4b8939.pth"
)

const doorPrompt = "drawer. drawer door. cabinet door. drawer face. drawer front. " +
	"fridge door. fridge front. refridgerator door. refridgerator front."

var (
	perceptionProfiles = []envs.Profile{envs.ProfileToolchain, envs.ProfileCredentials}
	gsamProfiles       = []envs.Profile{envs.ProfileToolchain, envs.ProfileCredentials, envs.ProfileDevice}
)

func perceptionStages(o Options) []engine.Stage {
	s, w := o.Scene, o.Workspace
	images := s.Images(o.ImageDirName)
	gsam := w.ToolDir(layout.ToolGroundedSAM)
	perception := w.ToolDir(layout.ToolPerception)
	sdf := w.ToolDir(layout.ToolSDF)
	sdfDir := w.SDFExperimentDir(s)

	percept := func(n int, inputs []string, args ...string) engine.Stage {
		step := strconv.Itoa(n)
		return engine.Stage{
			ID:          "perception-" + step,
			Description: "Perception step " + step,
			Runtime:     RuntimeSDF,
			Dir:         perception,
			Command:     python("percept_stage"+step+".py", append([]string{"--data_dir", s.Root}, args...)...),
			Inputs:      inputs,
			Profiles:    perceptionProfiles,
		}
	}

	return []engine.Stage{
		{
			ID:          "gsam-doors",
			Description: "Detect doors and drawers with Grounded-SAM",
			Runtime:     RuntimeSDF,
			Dir:         gsam,
			Command:     groundedSAMCommand("grounded_sam_detect_doors.py", images, s.GroundedSAMDir(), doorPrompt),
			Inputs:      []string{images},
			Outputs:     []string{s.GroundedSAMDir()},
			Profiles:    gsamProfiles,
		},
		percept(1, []string{images, sdfDir},
			"--image_dir", images,
			"--sdf_dir", sdfDir,
			"--num_max_frames", "1500",
			"--num_faces_simplified", "80000",
		),
		percept(2, []string{s.PerceptionDir()}),
		percept(3, []string{s.PerceptionDir()}, "--image_dir", images),
		{
			ID:          "gsam-handles",
			Description: "Detect handles on back-matched groups",
			Runtime:     RuntimeSDF,
			Dir:         gsam,
			Command:     groundedSAMCommand("grounded_sam_detect_handles.py", s.BackMatchDir(), s.BackMatchHandleDir(), "handle"),
			Inputs:      []string{s.BackMatchDir()},
			Resets:      []string{s.BackMatchHandleDir()},
			Outputs:     []string{s.BackMatchHandleDir()},
			Profiles:    gsamProfiles,
		},
		percept(4, []string{s.BackMatchHandleDir()}),
		percept(5, []string{s.PerceptionDir()}),
		percept(6, []string{s.PerceptionDir(), sdfDir}, "--sdf_dir", sdfDir),
		{
			ID:          "copy-final-mesh-json",
			Description: "Copy final mesh metadata next to the Grounded-SAM output",
			Action: func(context.Context) error {
				return fsutil.CopyFile(s.FinalMeshJSON(), s.GroundedSAMAllJSON())
			},
			Inputs:  []string{s.FinalMeshJSON()},
			Outputs: []string{s.GroundedSAMAllJSON()},
		},
		{
			ID:          "sam-project",
			Description: "Project SAM masks onto the reconstruction",
			Runtime:     RuntimeSDF,
			Dir:         sdf,
			Command:     python("scripts/sam_project.py", "--data_dir", s.Root, "--image_dir", images, "--sdf_dir", sdfDir),
			Inputs:      []string{s.GroundedSAMAllJSON(), sdfDir},
			Profiles:    perceptionProfiles,
		},
		{
			ID:          "sam-propagate",
			Description: "Propagate SAM masks across views",
			Runtime:     RuntimeSDF,
			Dir:         w.ToolDir(layout.ToolSAM),
			Command: python("propagate.py",
				"--sam_ckpt", filepath.Join(gsam, samCheckpoint),
				"--data_dir", s.Root,
				"--image_dir", images,
				"--sdf_dir", sdfDir,
			),
			Inputs:   []string{images, sdfDir},
			Profiles: perceptionProfiles,
		},
		{
			ID:          "art-infer",
			Description: "Infer articulation with 3DOI",
			Runtime:     RuntimeSDF,
			Dir:         w.ToolDir(layout.Tool3DOI),
			Command: python("art_infer.py",
				"--config-name", "sam_inference",
				"checkpoint_path=checkpoints/checkpoint_20230515.pth",
				"output_dir="+s.ArtInferDir(),
				"data_dir="+s.Root,
				"image_dir="+images,
			),
			Inputs:   []string{images},
			Outputs:  []string{s.ArtInferDir()},
			Profiles: perceptionProfiles,
		},
		{
			ID:          "fit-doors",
			Description: "Fit door geometry into the reconstruction",
			Runtime:     RuntimeSDF,
			Dir:         sdf,
			Command:     python("scripts/fit_doors.py", "--data_dir", s.Root, "--image_dir", images, "--sdf_dir", sdfDir),
			Inputs:      []string{s.ArtInferDir(), sdfDir},
			Profiles:    perceptionProfiles,
		},
	}
}

func groundedSAMCommand(script, input, output, prompt string) []string {
	return python(script,
		"--config", groundingDINOConfig,
		"--grounded_checkpoint", groundingDINOCheckpoint,
		"--sam_checkpoint", samCheckpoint,
		"--input_dir", input,
		"--output_dir", output,
		"--box_threshold", "0.3",
		"--text_threshold", "0.25",
		"--text_prompt", prompt,
		"--device", "cuda",
	)
}
