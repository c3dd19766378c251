package transforms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenepipe/scenepipe/pkg/colmap"
	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/layout"
)

func model(t *testing.T, name string) colmap.CameraModel {
	t.Helper()
	m, ok := colmap.ModelByName(name)
	require.True(t, ok)
	return m
}

func camera(t *testing.T, name string, params ...float64) colmap.Camera {
	t.Helper()
	return colmap.Camera{ID: 1, Model: model(t, name), Width: 640, Height: 480, Params: params}
}

func identityImage(id int32, name string, tvec [3]float64) colmap.Image {
	return colmap.Image{ID: id, Qvec: [4]float64{1, 0, 0, 0}, Tvec: tvec, CameraID: 1, Name: name}
}

// writeScene creates a scene with COLMAP binaries at the default location.
func writeScene(t *testing.T, cameras []colmap.Camera, images []colmap.Image) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "kitchen")
	dir := filepath.Join(root, filepath.FromSlash(layout.DefaultColmapDir))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, colmap.WriteCamerasFile(filepath.Join(dir, layout.CamerasBinFile), cameras))
	require.NoError(t, colmap.WriteImagesFile(filepath.Join(dir, layout.ImagesBinFile), images))
	return root
}

func assertMatrix(t *testing.T, want, got [4][4]float64) {
	t.Helper()
	for i := range 4 {
		for j := range 4 {
			assert.InDelta(t, want[i][j], got[i][j], 1e-12, "element [%d][%d]", i, j)
		}
	}
}

func assertOrthonormal(t *testing.T, m [4][4]float64) {
	t.Helper()
	for a := range 3 {
		for b := range 3 {
			var dot float64
			for k := range 3 {
				dot += m[k][a] * m[k][b]
			}
			want := 0.0
			if a == b {
				want = 1
			}
			assert.InDelta(t, want, dot, 1e-9)
		}
	}
	for j, want := range [4]float64{0, 0, 0, 1} {
		assert.InDelta(t, want, m[3][j], 1e-12)
	}
}

func TestCameraToWorldIdentity(t *testing.T) {
	got, err := CameraToWorld(identityImage(1, "a.png", [3]float64{}))
	require.NoError(t, err)
	assertMatrix(t, [4][4]float64{
		{0, -1, 0, 0},
		{1, 0, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}, got)
}

func TestCameraToWorldTranslation(t *testing.T) {
	got, err := CameraToWorld(identityImage(1, "a.png", [3]float64{1, 2, 3}))
	require.NoError(t, err)
	assertMatrix(t, [4][4]float64{
		{0, -1, 0, -2},
		{1, 0, 0, -1},
		{0, 0, 1, 3},
		{0, 0, 0, 1},
	}, got)
}

func TestCameraToWorldRejectsNonRotation(t *testing.T) {
	im := colmap.Image{ID: 9, Qvec: [4]float64{1, 1, 0, 0}, Name: "bad.png"}
	_, err := CameraToWorld(im)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.Contains(t, err.Error(), "bad.png")
}

func TestConvertRandomPosesAreOrthonormal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	images := make([]colmap.Image, 0, 25)
	for i := range 25 {
		q := [4]float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		for k := range q {
			q[k] /= n
		}
		images = append(images, colmap.Image{
			ID:   int32(100 - i),
			Qvec: q,
			Tvec: [3]float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10},
			Name: "frame_" + string(rune('a'+i)) + ".png",
		})
	}

	doc, err := Convert([]colmap.Camera{camera(t, colmap.ModelPinhole, 500, 510, 320, 240)}, images, SelectorAuto)
	require.NoError(t, err)
	require.Len(t, doc.Frames, len(images))

	for i, f := range doc.Frames {
		// File order, not id order
		assert.Equal(t, "images/"+images[i].Name, f.FilePath)
		assertOrthonormal(t, f.TransformMatrix)
	}
}

func TestConvertIntrinsics(t *testing.T) {
	tests := []struct {
		name      string
		cam       colmap.Camera
		sel       Selector
		wantModel string
		wantK     []string
	}{
		{"simple pinhole", camera(t, colmap.ModelSimplePinhole, 800, 320, 240), SelectorAuto, colmap.ModelSimplePinhole, nil},
		{"opencv", camera(t, colmap.ModelOpenCV, 800, 810, 320, 240, 0.1, -0.05, 0.001, 0.002), SelectorAuto, colmap.ModelOpenCV, []string{"k1", "k2", "p1", "p2"}},
		{"opencv fisheye", camera(t, colmap.ModelOpenCVFisheye, 800, 810, 320, 240, 0.1, -0.05, 0.001, 0.002), SelectorAuto, colmap.ModelOpenCVFisheye, []string{"k1", "k2", "k3", "k4"}},
		{"fisheye selector over opencv", camera(t, colmap.ModelOpenCV, 800, 810, 320, 240, 0.1, -0.05, 0.001, 0.002), SelectorFisheye, colmap.ModelOpenCVFisheye, []string{"k1", "k2", "k3", "k4"}},
		{"perspective selector over pinhole", camera(t, colmap.ModelPinhole, 800, 810, 320, 240), SelectorPerspective, colmap.ModelOpenCV, nil},
		{"full opencv has no distortion", camera(t, colmap.ModelFullOpenCV, 800, 810, 320, 240, 1, 2, 3, 4, 5, 6, 7, 8), SelectorAuto, colmap.ModelFullOpenCV, nil},
		{"equirectangular", camera(t, colmap.ModelPinhole, 800, 810, 320, 240), SelectorEquirectangular, ModelEquirectangular, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Convert([]colmap.Camera{tt.cam}, nil, tt.sel)
			require.NoError(t, err)

			assert.Equal(t, tt.wantModel, doc.CameraModel)
			assert.Equal(t, 800.0, doc.FlX)
			assert.Equal(t, 320.0, doc.Cx)
			assert.Equal(t, 240.0, doc.Cy)
			assert.Equal(t, uint64(640), doc.W)
			assert.Equal(t, uint64(480), doc.H)
			assert.Empty(t, doc.Frames)

			data, err := doc.Marshal()
			require.NoError(t, err)
			var fields map[string]any
			require.NoError(t, json.Unmarshal(data, &fields))
			for _, k := range []string{"k1", "k2", "k3", "k4", "p1", "p2"} {
				_, present := fields[k]
				assert.Equal(t, contains(tt.wantK, k), present, k)
			}
			assert.Equal(t, len(tt.wantK) > 0, doc.HasDistortion())
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestConvertSimplePinholeValues(t *testing.T) {
	doc, err := Convert([]colmap.Camera{camera(t, colmap.ModelSimplePinhole, 800, 320, 240)}, nil, SelectorAuto)
	require.NoError(t, err)
	assert.Equal(t, 800.0, doc.FlX)
	assert.Equal(t, 800.0, doc.FlY)
	assert.False(t, doc.HasDistortion())
}

func TestConvertOpenCVValues(t *testing.T) {
	doc, err := Convert([]colmap.Camera{camera(t, colmap.ModelOpenCV, 800, 810, 320, 240, 0.1, -0.05, 0.001, 0.002)}, nil, SelectorAuto)
	require.NoError(t, err)
	assert.Equal(t, 810.0, doc.FlY)
	require.NotNil(t, doc.K1)
	assert.Equal(t, 0.1, *doc.K1)
	assert.Equal(t, -0.05, *doc.K2)
	assert.Equal(t, 0.001, *doc.P1)
	assert.Equal(t, 0.002, *doc.P2)
	assert.Nil(t, doc.K3)
	assert.Nil(t, doc.K4)
}

func TestConvertCameraCount(t *testing.T) {
	cam := camera(t, colmap.ModelSimplePinhole, 800, 320, 240)
	for _, cams := range [][]colmap.Camera{nil, {cam, cam}} {
		_, err := Convert(cams, nil, SelectorAuto)
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
	}

	_, err := Convert([]colmap.Camera{{ID: 1, Params: []float64{1, 2}}}, nil, SelectorAuto)
	assert.True(t, engine.IsConfiguration(err))
}

func TestGenerateWritesDocument(t *testing.T) {
	images := []colmap.Image{
		identityImage(2, "frame_00002.png", [3]float64{1, 2, 3}),
		identityImage(1, "frame_00001.png", [3]float64{}),
	}
	root := writeScene(t, []colmap.Camera{camera(t, colmap.ModelOpenCV, 800, 810, 320, 240, 0.1, -0.05, 0.001, 0.002)}, images)

	res, err := Generate(context.Background(), Options{DataRoot: root})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, layout.TransformsFile), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	text := string(data)

	// Four-space indentation and fixed key order
	assert.True(t, strings.HasPrefix(text, "{\n    \"fl_x\": 800,"), text[:40])
	keys := []string{`"fl_x"`, `"fl_y"`, `"cx"`, `"cy"`, `"w"`, `"h"`, `"camera_model"`, `"k1"`, `"k2"`, `"p1"`, `"p2"`, `"frames"`}
	last := -1
	for _, k := range keys {
		idx := strings.Index(text, k)
		require.GreaterOrEqual(t, idx, 0, k)
		assert.Greater(t, idx, last, k)
		last = idx
	}

	loaded, err := Load(res.Path)
	require.NoError(t, err)
	require.Len(t, loaded.Frames, 2)
	assert.Equal(t, "images/frame_00002.png", loaded.Frames[0].FilePath)
	assert.Equal(t, "images/frame_00001.png", loaded.Frames[1].FilePath)
	assertMatrix(t, [4][4]float64{{0, -1, 0, -2}, {1, 0, 0, -1}, {0, 0, 1, 3}, {0, 0, 0, 1}}, loaded.Frames[0].TransformMatrix)
}

func TestGenerateIsDeterministic(t *testing.T) {
	images := []colmap.Image{identityImage(1, "a.png", [3]float64{0.5, -1, 2})}
	root := writeScene(t, []colmap.Camera{camera(t, colmap.ModelPinhole, 500, 500, 320, 240)}, images)

	first, err := Generate(context.Background(), Options{DataRoot: root, OutputDir: filepath.Join(root, "out1")})
	require.NoError(t, err)
	second, err := Generate(context.Background(), Options{DataRoot: root, OutputDir: filepath.Join(root, "out2", "nested")})
	require.NoError(t, err)

	a, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))

	// Regenerating overwrites in place
	third, err := Generate(context.Background(), Options{DataRoot: root, OutputDir: filepath.Join(root, "out1")})
	require.NoError(t, err)
	c, err := os.ReadFile(third.Path)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestGenerateCameraCountWritesNothing(t *testing.T) {
	cam := camera(t, colmap.ModelSimplePinhole, 800, 320, 240)
	cam2 := cam
	cam2.ID = 2

	for _, cams := range [][]colmap.Camera{{}, {cam, cam2}} {
		root := writeScene(t, cams, []colmap.Image{identityImage(1, "a.png", [3]float64{})})

		_, err := Generate(context.Background(), Options{DataRoot: root})
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
		assert.Equal(t, 1, engine.ExitCode(err))

		_, statErr := os.Stat(filepath.Join(root, layout.TransformsFile))
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	}
}

func TestGenerateMissingInputs(t *testing.T) {
	root := writeScene(t, []colmap.Camera{camera(t, colmap.ModelSimplePinhole, 800, 320, 240)}, nil)
	colmapDir := filepath.Join(root, filepath.FromSlash(layout.DefaultColmapDir))

	tests := []struct {
		name     string
		opts     Options
		prepare  func()
		wantPath string
	}{
		{"data root", Options{DataRoot: filepath.Join(root, "nope")}, func() {}, filepath.Join(root, "nope")},
		{"colmap subdir", Options{DataRoot: root, ColmapSubdir: "sfm/0"}, func() {}, filepath.Join(root, "sfm", "0", layout.CamerasBinFile)},
		{"images.bin", Options{DataRoot: root}, func() {
			require.NoError(t, os.Remove(filepath.Join(colmapDir, layout.ImagesBinFile)))
		}, filepath.Join(colmapDir, layout.ImagesBinFile)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepare()
			_, err := Generate(context.Background(), tt.opts)
			require.Error(t, err)
			assert.True(t, engine.IsConfiguration(err))

			var e *engine.EngineError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.wantPath, e.Path)
		})
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	root := writeScene(t, []colmap.Camera{camera(t, colmap.ModelSimplePinhole, 800, 320, 240)}, nil)

	_, err := Generate(context.Background(), Options{DataRoot: root, CameraModel: "orthographic"})
	assert.True(t, engine.IsConfiguration(err))

	camerasPath := filepath.Join(root, filepath.FromSlash(layout.DefaultColmapDir), layout.CamerasBinFile)
	require.NoError(t, os.WriteFile(camerasPath, []byte{1, 0, 0}, 0o644))
	_, err = Generate(context.Background(), Options{DataRoot: root})
	assert.True(t, engine.IsConfiguration(err))
	assert.True(t, errors.Is(err, colmap.ErrMalformed))
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, Options{DataRoot: t.TempDir()})
	assert.True(t, engine.IsInterrupted(err))
}

func TestParseSelector(t *testing.T) {
	for _, s := range Selectors() {
		sel, err := ParseSelector(s)
		require.NoError(t, err, s)
		assert.Equal(t, Selector(s), sel)
	}

	sel, err := ParseSelector("")
	require.NoError(t, err)
	assert.Equal(t, SelectorAuto, sel)

	_, err = ParseSelector("Perspective")
	assert.Error(t, err)
	assert.Equal(t, "auto", Selectors()[0])
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, engine.IsConfiguration(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Load(bad)
	assert.True(t, engine.IsConfiguration(err))
}
