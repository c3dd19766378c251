package transforms

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/scenepipe/scenepipe/pkg/colmap"
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

// Options configures Generate.
type Options struct {
	// DataRoot is the scene directory holding the COLMAP output.
	DataRoot string

	// ColmapSubdir is relative to DataRoot; empty means colmap/sparse/0.
	ColmapSubdir string

	// OutputDir receives transforms.json; empty means DataRoot.
	OutputDir string

	// CameraModel is the selector; empty means auto.
	CameraModel string
}

// Result describes a written document.
type Result struct {
	Path     string
	Document *Document
}

// Generate reads cameras.bin and images.bin under the scene and writes transforms.json.
// Nothing is written when validation or conversion fails.
func Generate(ctx context.Context, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewInterruptedError("transforms generation interrupted", err)
	}

	sel, err := ParseSelector(opts.CameraModel)
	if err != nil {
		return nil, err
	}

	scene, err := layout.NewScene(opts.DataRoot)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid data root", err)
	}
	camerasPath := scene.CamerasBin(opts.ColmapSubdir)
	imagesPath := scene.ImagesBin(opts.ColmapSubdir)
	if err := layout.RequireExisting(scene.Root, camerasPath, imagesPath); err != nil {
		return nil, missingError(err)
	}

	cameras, err := colmap.ReadCamerasFile(camerasPath)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read cameras", err).WithPath(camerasPath)
	}
	images, err := colmap.ReadImagesFile(imagesPath)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read images", err).WithPath(imagesPath)
	}

	doc, err := Convert(cameras, images, sel)
	if err != nil {
		return nil, err
	}

	outputDir := opts.OutputDir
	if outputDir != "" {
		if outputDir, err = filepath.Abs(outputDir); err != nil {
			return nil, engine.NewConfigurationError("invalid output dir", err)
		}
	}
	out := scene.TransformsJSON(outputDir)
	if err := Write(out, doc); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("path", out).
		Int("frames", len(doc.Frames)).
		Str("camera_model", doc.CameraModel).
		Msg("Wrote transforms.json")

	return &Result{Path: out, Document: doc}, nil
}

// Action returns an in-process stage step that runs Generate.
func Action(opts Options) engine.ActionFunc {
	return func(ctx context.Context) error {
		_, err := Generate(ctx, opts)
		return err
	}
}

func missingError(err error) error {
	e := engine.NewConfigurationError("required input missing", err).WithCode(engine.ErrCodeNotFound)
	var missing *layout.MissingArtifactError
	if errors.As(err, &missing) {
		e.WithPath(missing.Path)
	}
	return e
}
