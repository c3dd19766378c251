// Package pipelines defines the fixed stage lists of the reconstruction pipelines.
//
// Each pipeline is a declarative list of engine.Stage values resolved from the scene
// layout and a small set of options. Stages find each other's artifacts only through
// the path conventions of package layout.
package pipelines

import (
	"fmt"
	"strings"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/layout"
	"github.com/scenepipe/scenepipe/pkg/transforms"
)

// Runtime keys. They map to launcher environment names through configuration.
const (
	RuntimeSDF   = "sdf"
	RuntimeSplat = "splat"
	RuntimeSim   = "sim"
)

// Option defaults.
const (
	DefaultDownscaleFactor = 2
	DefaultRunNote         = "dense_1"
)

// Options parameterizes pipeline construction.
type Options struct {
	// Scene is the scene being processed.
	Scene layout.Scene

	// Workspace holds the external tool checkouts.
	Workspace layout.Workspace

	// ImageDirName is the RGB image directory under the scene root.
	ImageDirName string

	// DownscaleFactor is passed to the SDF and splat trainers.
	DownscaleFactor int

	// ColmapSubdir locates cameras.bin and images.bin under the scene root.
	ColmapSubdir string

	// OutputDir receives transforms.json; empty means the scene root.
	OutputDir string

	// CameraModel is the transforms camera model selector.
	CameraModel string

	// RunNote names the Gaussian extra-info file of a splat run.
	RunNote string
}

// withDefaults returns a copy with unset values defaulted.
func (o Options) withDefaults() Options {
	if o.DownscaleFactor == 0 {
		o.DownscaleFactor = DefaultDownscaleFactor
	}
	if o.ColmapSubdir == "" {
		o.ColmapSubdir = layout.DefaultColmapDir
	}
	if o.CameraModel == "" {
		o.CameraModel = string(transforms.SelectorAuto)
	}
	if o.RunNote == "" {
		o.RunNote = DefaultRunNote
	}
	return o
}

// Definition describes a registered pipeline.
type Definition struct {
	// Name is the pipeline name used on the command line.
	Name string

	// Description is a one-line summary.
	Description string

	// NeedsImages is true if the pipeline requires ImageDirName.
	NeedsImages bool

	// NeedsWorkspace is true if the pipeline launches tools from the workspace.
	NeedsWorkspace bool

	build func(o Options) []engine.Stage
}

var registry = []Definition{
	{
		Name:        "transforms",
		Description: "Convert the COLMAP reconstruction into transforms.json",
		build:       transformsStages,
	},
	{
		Name:           "stage1",
		Description:    "Monocular depth/normal priors, SDF reconstruction, mesh extraction and texturing",
		NeedsImages:    true,
		NeedsWorkspace: true,
		build:          reconstructionStages,
	},
	{
		Name:           "stage2",
		Description:    "Door and handle segmentation, perception, articulation inference and door fitting",
		NeedsImages:    true,
		NeedsWorkspace: true,
		build:          perceptionStages,
	},
	{
		Name:           "stage3",
		Description:    "USD composition and physics simulation",
		NeedsWorkspace: true,
		build:          simulationStages,
	},
	{
		Name:           "stage4",
		Description:    "Gaussian splatting on the textured mesh, material fusion and export",
		NeedsWorkspace: true,
		build:          splattingStages,
	},
}

// Names returns the registered pipeline names in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, d := range registry {
		names = append(names, d.Name)
	}
	return names
}

// Describe returns the registered pipeline definitions in order.
func Describe() []Definition {
	return append([]Definition(nil), registry...)
}

// Lookup returns the definition of a pipeline.
func Lookup(name string) (Definition, bool) {
	for _, d := range registry {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Build resolves the stages of a pipeline for a scene.
func Build(name string, opts Options) (*engine.Pipeline, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unknown pipeline %q (must be one of %s)", name, strings.Join(Names(), ", ")), nil)
	}

	opts = opts.withDefaults()
	if err := def.validate(opts); err != nil {
		return nil, err
	}

	p := &engine.Pipeline{
		Name:   def.Name,
		Scene:  opts.Scene,
		Stages: def.build(opts),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (d Definition) validate(o Options) error {
	if o.Scene.Root == "" || o.Scene.Name == "" {
		return engine.NewConfigurationError("scene is required", nil)
	}
	if d.NeedsWorkspace && o.Workspace.Root == "" {
		return engine.NewConfigurationError(
			fmt.Sprintf("pipeline %s requires a workspace root", d.Name), nil)
	}
	if d.NeedsImages {
		if o.ImageDirName == "" {
			return engine.NewConfigurationError(
				fmt.Sprintf("pipeline %s requires an image directory name", d.Name), nil)
		}
		if strings.ContainsAny(o.ImageDirName, `/\`) || o.ImageDirName == ".." {
			return engine.NewConfigurationError(
				fmt.Sprintf("image directory name %q must be a single path element", o.ImageDirName), nil)
		}
	}
	if o.DownscaleFactor < 1 {
		return engine.NewConfigurationError(
			fmt.Sprintf("downscale factor must be positive, got %d", o.DownscaleFactor), nil)
	}
	if strings.ContainsAny(o.RunNote, `/\`) {
		return engine.NewConfigurationError(
			fmt.Sprintf("run note %q must not contain path separators", o.RunNote), nil)
	}
	if _, err := transforms.ParseSelector(o.CameraModel); err != nil {
		return err
	}
	return nil
}

// python builds a "python <script> args..." command.
func python(script string, args ...string) []string {
	return append([]string{"python", script}, args...)
}
