// Package layout maps scenes, tool checkouts and pipeline stages to file-system paths.
//
// Every function here is a pure function of its inputs: the same scene and stage always
// resolve to the same path, so stages and external tools locate each other's artifacts
// by convention rather than through an index.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Scene-relative directory and file names.
const (
	TransformsFile   = "transforms.json"
	CamerasBinFile   = "cameras.bin"
	ImagesBinFile    = "images.bin"
	DefaultColmapDir = "colmap/sparse/0"

	marigoldDir        = "marigold_ft"
	depthDir           = "depth"
	normalDir          = "normal"
	groundedSAMDir     = "grounded_sam"
	perceptionDir      = "perception"
	backMatchDir       = "vis_groups_back_match"
	backMatchHandleDir = "vis_groups_back_match_gsam_handle"
	finalMeshDir       = "vis_groups_final_mesh"
	finalMeshJSON      = "all.json"
	artInferDir        = "art_infer"
)

// Tool checkout directory names under the workspace root.
const (
	ToolMarigold    = "marigold"
	ToolSDF         = "sdf"
	ToolGroundedSAM = "grounded_sam"
	ToolPerception  = "perception"
	ToolSAM         = "sam"
	Tool3DOI        = "3DOI"
	ToolSplat       = "splat"
	ToolIsaacSim    = "isaac_sim"
)

// Experiment directory suffixes.
const (
	SuffixSDFRecon       = "sdf_recon"
	SuffixMeshGaussSplat = "mesh_gauss_splat"
)

// Splat visualization sub-directories.
const (
	VisExtraInfo = "gs_extra_info"
	VisInterior  = "interior"
	VisVal       = "val"
	VisObjaverse = "objaverse"
)

// MissingArtifactError reports a required artifact that does not exist.
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("required artifact missing: %s", e.Path)
}

// Unwrap lets errors.Is(err, fs.ErrNotExist) match.
func (e *MissingArtifactError) Unwrap() error {
	return fs.ErrNotExist
}

// Scene identifies one capture session by its root directory.
type Scene struct {
	// Root is the absolute scene directory.
	Root string `json:"root"`

	// Name is the base name of Root.
	Name string `json:"name"`
}

// NewScene resolves root to an absolute path and derives the scene name from it.
func NewScene(root string) (Scene, error) {
	if strings.TrimSpace(root) == "" {
		return Scene{}, errors.New("scene root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Scene{}, fmt.Errorf("failed to resolve scene root %s: %w", root, err)
	}
	name := filepath.Base(abs)
	if name == string(filepath.Separator) || name == "." {
		return Scene{}, fmt.Errorf("scene root %s has no usable name", root)
	}
	return Scene{Root: abs, Name: name}, nil
}

// Images returns the input RGB image directory.
func (s Scene) Images(dirName string) string {
	return filepath.Join(s.Root, dirName)
}

// ColmapDir returns the directory holding the COLMAP binaries.
func (s Scene) ColmapDir(subdir string) string {
	if subdir == "" {
		subdir = DefaultColmapDir
	}
	return filepath.Join(s.Root, filepath.FromSlash(subdir))
}

// CamerasBin returns the COLMAP camera record file.
func (s Scene) CamerasBin(subdir string) string {
	return filepath.Join(s.ColmapDir(subdir), CamerasBinFile)
}

// ImagesBin returns the COLMAP image pose record file.
func (s Scene) ImagesBin(subdir string) string {
	return filepath.Join(s.ColmapDir(subdir), ImagesBinFile)
}

// TransformsJSON returns the scene description document path. An empty outputDir
// means the scene root.
func (s Scene) TransformsJSON(outputDir string) string {
	if outputDir == "" {
		outputDir = s.Root
	}
	return filepath.Join(outputDir, TransformsFile)
}

// MarigoldDir returns the monocular prior output directory.
func (s Scene) MarigoldDir() string { return filepath.Join(s.Root, marigoldDir) }

// MarigoldDepth returns the post-processed depth maps.
func (s Scene) MarigoldDepth() string { return filepath.Join(s.MarigoldDir(), depthDir) }

// MarigoldNormal returns the post-processed normal maps.
func (s Scene) MarigoldNormal() string { return filepath.Join(s.MarigoldDir(), normalDir) }

// DepthAlias is the scene-root alias for the depth maps.
func (s Scene) DepthAlias() string { return filepath.Join(s.Root, depthDir) }

// NormalAlias is the scene-root alias for the normal maps.
func (s Scene) NormalAlias() string { return filepath.Join(s.Root, normalDir) }

// GroundedSAMDir returns the door detection output directory.
func (s Scene) GroundedSAMDir() string { return filepath.Join(s.Root, groundedSAMDir) }

// GroundedSAMAllJSON is where the final mesh metadata is copied for SAM projection.
func (s Scene) GroundedSAMAllJSON() string {
	return filepath.Join(s.GroundedSAMDir(), finalMeshJSON)
}

// PerceptionDir returns the perception output root.
func (s Scene) PerceptionDir() string { return filepath.Join(s.Root, perceptionDir) }

// BackMatchDir returns the back-matched group visualizations.
func (s Scene) BackMatchDir() string { return filepath.Join(s.PerceptionDir(), backMatchDir) }

// BackMatchHandleDir returns the handle detection output for back-matched groups.
func (s Scene) BackMatchHandleDir() string {
	return filepath.Join(s.PerceptionDir(), backMatchHandleDir)
}

// FinalMeshJSON returns the perception final mesh metadata.
func (s Scene) FinalMeshJSON() string {
	return filepath.Join(s.PerceptionDir(), finalMeshDir, finalMeshJSON)
}

// ArtInferDir returns the articulation inference output directory.
func (s Scene) ArtInferDir() string { return filepath.Join(s.Root, artInferDir) }

// Workspace is the directory holding the external tool checkouts.
type Workspace struct {
	Root string `json:"root"`
}

// NewWorkspace resolves root to an absolute path.
func NewWorkspace(root string) (Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return Workspace{}, errors.New("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Workspace{}, fmt.Errorf("failed to resolve workspace root %s: %w", root, err)
	}
	return Workspace{Root: abs}, nil
}

// ToolDir returns the checkout directory of a tool.
func (w Workspace) ToolDir(tool string) string {
	return filepath.Join(w.Root, tool)
}

// ExperimentName returns "<scene>_<suffix>".
func ExperimentName(scene, suffix string) string {
	return scene + "_" + suffix
}

// ExperimentDir returns "<outputsRoot>/<scene>/<scene>_<suffix>".
func ExperimentDir(outputsRoot, scene, suffix string) string {
	return filepath.Join(outputsRoot, scene, ExperimentName(scene, suffix))
}

// SDFOutputsRoot returns the per-scene output root of the SDF trainer.
func (w Workspace) SDFOutputsRoot(s Scene) string {
	return filepath.Join(w.ToolDir(ToolSDF), "outputs", s.Name)
}

// SDFExperimentDir returns the SDF reconstruction experiment directory.
func (w Workspace) SDFExperimentDir(s Scene) string {
	return ExperimentDir(filepath.Join(w.ToolDir(ToolSDF), "outputs"), s.Name, SuffixSDFRecon)
}

// SDFConfig returns the trained SDF model config.
func (w Workspace) SDFConfig(s Scene) string {
	return filepath.Join(w.SDFExperimentDir(s), "config.yml")
}

// SDFMesh returns the extracted mesh.
func (w Workspace) SDFMesh(s Scene) string {
	return filepath.Join(w.SDFExperimentDir(s), "mesh.ply")
}

// SDFSimplifiedMesh returns the simplified mesh written by mesh extraction.
func (w Workspace) SDFSimplifiedMesh(s Scene) string {
	return filepath.Join(w.SDFExperimentDir(s), "mesh-simplify.ply")
}

// TextureMeshDir returns the texturing output directory.
func (w Workspace) TextureMeshDir(s Scene) string {
	return filepath.Join(w.SDFExperimentDir(s), "texture_mesh")
}

// TexturedMesh returns the textured simplified mesh consumed by splatting.
func (w Workspace) TexturedMesh(s Scene) string {
	return filepath.Join(w.TextureMeshDir(s), "mesh-simplify.obj")
}

// SplatOutputsRoot returns the per-scene output root of the splat trainer.
func (w Workspace) SplatOutputsRoot(s Scene) string {
	return filepath.Join(w.ToolDir(ToolSplat), "outputs", s.Name)
}

// SplatExperimentDir returns the Gaussian splat experiment directory.
func (w Workspace) SplatExperimentDir(s Scene) string {
	return ExperimentDir(filepath.Join(w.ToolDir(ToolSplat), "outputs"), s.Name, SuffixMeshGaussSplat)
}

// SplatVisDir returns a splat visualization directory (gs_extra_info, interior, ...).
func (w Workspace) SplatVisDir(s Scene, kind string) string {
	return filepath.Join(w.ToolDir(ToolSplat), "vis", s.Name, kind)
}

// GaussianExtraInfo returns the per-run-note Gaussian extra info file.
func (w Workspace) GaussianExtraInfo(s Scene, runNote string) string {
	return filepath.Join(w.SplatVisDir(s, VisExtraInfo), runNote+".pt")
}

// RequireExisting fails with a MissingArtifactError naming the first path that does
// not exist.
func RequireExisting(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &MissingArtifactError{Path: p}
			}
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
	}
	return nil
}
