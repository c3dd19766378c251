package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/config"
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/layout"
	"github.com/scenepipe/scenepipe/pkg/pipelines"
	"github.com/scenepipe/scenepipe/pkg/transforms"
)

// sceneFlags are the pipeline option flags. Flags left unset fall back to the
// configuration defaults.
type sceneFlags struct {
	cmd *cobra.Command

	dataRoot        string
	imageDirName    string
	downscaleFactor int
	colmapSubdir    string
	outputDir       string
	cameraModel     string
	runNote         string
}

// bindSceneFlags registers the option flags on cmd. full adds the flags that only
// tool stages use.
func bindSceneFlags(cmd *cobra.Command, full bool) *sceneFlags {
	f := &sceneFlags{cmd: cmd}
	flags := cmd.Flags()

	flags.StringVarP(&f.dataRoot, "data-root", "d", "", "scene directory")
	flags.StringVar(&f.colmapSubdir, "colmap-subdir", layout.DefaultColmapDir, "COLMAP model directory relative to the scene")
	flags.StringVarP(&f.outputDir, "output-dir", "o", "", "transforms.json output directory (default scene directory)")
	flags.StringVar(&f.cameraModel, "camera-model", string(transforms.SelectorAuto),
		"camera model: "+strings.Join(transforms.Selectors(), ", "))
	if full {
		flags.StringVar(&f.imageDirName, "image-dir-name", "", "RGB image directory under the scene")
		flags.IntVar(&f.downscaleFactor, "downscale-factor", pipelines.DefaultDownscaleFactor, "image downscale factor for the trainers")
		flags.StringVar(&f.runNote, "run-note", pipelines.DefaultRunNote, "splat run note")
	}
	_ = cmd.MarkFlagRequired("data-root")
	_ = cmd.MarkFlagDirname("data-root")
	return f
}

// options merges the flags over the configuration defaults.
func (f *sceneFlags) options(cfg *config.Config) (pipelines.Options, error) {
	scene, err := layout.NewScene(f.dataRoot)
	if err != nil {
		return pipelines.Options{}, engine.NewConfigurationError("invalid data root", err)
	}

	opts := pipelines.Options{
		Scene:           scene,
		ImageDirName:    cfg.Defaults.ImageDirName,
		DownscaleFactor: cfg.Defaults.DownscaleFactor,
		ColmapSubdir:    cfg.Defaults.ColmapSubdir,
		OutputDir:       f.outputDir,
		CameraModel:     cfg.Defaults.CameraModel,
		RunNote:         cfg.Defaults.RunNote,
	}
	if cfg.Workspace.Root != "" {
		ws, err := layout.NewWorkspace(cfg.Workspace.Root)
		if err != nil {
			return pipelines.Options{}, engine.NewConfigurationError("invalid workspace root", err)
		}
		opts.Workspace = ws
	}

	if f.changed("image-dir-name") {
		opts.ImageDirName = f.imageDirName
	}
	if f.changed("downscale-factor") {
		opts.DownscaleFactor = f.downscaleFactor
	}
	if f.changed("colmap-subdir") {
		opts.ColmapSubdir = f.colmapSubdir
	}
	if f.changed("camera-model") {
		opts.CameraModel = f.cameraModel
	}
	if f.changed("run-note") {
		opts.RunNote = f.runNote
	}
	return opts, nil
}

func (f *sceneFlags) changed(name string) bool {
	flag := f.cmd.Flags().Lookup(name)
	return flag != nil && flag.Changed
}

