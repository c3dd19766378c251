package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/layout"
	"github.com/scenepipe/scenepipe/pkg/transforms"
)

func newTransformsCommand(version string) *cobra.Command {
	var flags *sceneFlags

	cmd := &cobra.Command{
		Use:   "transforms",
		Short: "Convert a COLMAP reconstruction into transforms.json",
		Long: `Read cameras.bin and images.bin from the scene's COLMAP model directory and
write transforms.json with the shared camera intrinsics and one camera-to-world
matrix per image.

Exactly one camera must be present. Nothing is written when the model cannot be
converted.`,
		Example: `  # Write <scene>/transforms.json from colmap/sparse/0
  scenepipe transforms --data-root /data/kitchen

  # Force the OpenCV fisheye model and write elsewhere
  scenepipe transforms -d /data/kitchen --camera-model fisheye -o /tmp/out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := runPipeline(cmd, version, "transforms", flags); err != nil {
				return err
			}
			if jsonOutput {
				return nil
			}
			path := flags.transformsPath()
			doc, err := transforms.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d frames, %s)\n", path, len(doc.Frames), doc.CameraModel)
			return nil
		},
	}

	flags = bindSceneFlags(cmd, false)
	return cmd
}

// transformsPath is the document location the transforms stage writes.
func (f *sceneFlags) transformsPath() string {
	scene, err := layout.NewScene(f.dataRoot)
	if err != nil {
		return ""
	}
	outputDir := f.outputDir
	if outputDir != "" {
		if abs, err := filepath.Abs(outputDir); err == nil {
			outputDir = abs
		}
	}
	return scene.TransformsJSON(outputDir)
}
