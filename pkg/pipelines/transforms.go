package pipelines

import (
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/transforms"
)

func transformsStages(o Options) []engine.Stage {
	s := o.Scene
	return []engine.Stage{
		{
			ID:          "create-transforms",
			Description: "Convert cameras.bin and images.bin into transforms.json",
			Action: transforms.Action(transforms.Options{
				DataRoot:     s.Root,
				ColmapSubdir: o.ColmapSubdir,
				OutputDir:    o.OutputDir,
				CameraModel:  o.CameraModel,
			}),
			Inputs:  []string{s.Root, s.CamerasBin(o.ColmapSubdir), s.ImagesBin(o.ColmapSubdir)},
			Outputs: []string{s.TransformsJSON(o.OutputDir)},
		},
	}
}
