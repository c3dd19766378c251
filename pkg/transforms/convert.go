// Package transforms converts a COLMAP sparse reconstruction into the transforms.json
// scene description consumed by the reconstruction stages.
package transforms

import (
	"fmt"
	"math"
	"path"

	"gonum.org/v1/gonum/mat"

	"github.com/scenepipe/scenepipe/pkg/colmap"
	"github.com/scenepipe/scenepipe/pkg/engine"
)

// OrthonormalTolerance bounds |RᵀR - I| and |det R - 1| for a rotation block.
const OrthonormalTolerance = 1e-6

// ImagePrefix is prepended to image names in frame file paths.
const ImagePrefix = "images"

// Convert builds the scene description from exactly one camera and its posed images.
// Frames keep the order of images.
func Convert(cameras []colmap.Camera, images []colmap.Image, sel Selector) (*Document, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if len(cameras) != 1 {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("expected exactly one camera; found %d", len(cameras)), nil).
			WithCode(engine.ErrCodeCameraCount)
	}
	cam := cameras[0]

	doc, err := intrinsics(cam, sel.ModelName(cam))
	if err != nil {
		return nil, err
	}

	doc.Frames = make([]Frame, 0, len(images))
	for _, im := range images {
		c2w, err := CameraToWorld(im)
		if err != nil {
			return nil, err
		}
		doc.Frames = append(doc.Frames, Frame{
			FilePath:        path.Join(ImagePrefix, im.Name),
			TransformMatrix: c2w,
		})
	}
	return doc, nil
}

// intrinsics fills focal length, principal point, image size and, for OPENCV and
// OPENCV_FISHEYE, the distortion coefficients.
func intrinsics(cam colmap.Camera, modelName string) (*Document, error) {
	p := cam.Params
	doc := &Document{
		W:           cam.Width,
		H:           cam.Height,
		CameraModel: modelName,
	}

	switch {
	case len(p) == 3:
		doc.FlX, doc.FlY, doc.Cx, doc.Cy = p[0], p[0], p[1], p[2]
	case len(p) >= 4:
		doc.FlX, doc.FlY, doc.Cx, doc.Cy = p[0], p[1], p[2], p[3]
	default:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unexpected number of camera params: %d", len(p)), nil)
	}

	if len(p) >= 8 {
		switch modelName {
		case colmap.ModelOpenCV:
			doc.K1, doc.K2, doc.P1, doc.P2 = ptr(p[4]), ptr(p[5]), ptr(p[6]), ptr(p[7])
		case colmap.ModelOpenCVFisheye:
			doc.K1, doc.K2, doc.K3, doc.K4 = ptr(p[4]), ptr(p[5]), ptr(p[6]), ptr(p[7])
		}
	}
	return doc, nil
}

func ptr(v float64) *float64 { return &v }

// CameraToWorld inverts the world-to-camera pose of an image and remaps the axes to
// the document convention: columns 1 and 2 of the rotation block are negated, rows 0
// and 1 are swapped and row 2 is negated.
func CameraToWorld(im colmap.Image) ([4][4]float64, error) {
	var out [4][4]float64

	r := im.Rotation()
	w2c := mat.NewDense(4, 4, []float64{
		r[0][0], r[0][1], r[0][2], im.Tvec[0],
		r[1][0], r[1][1], r[1][2], im.Tvec[1],
		r[2][0], r[2][1], r[2][2], im.Tvec[2],
		0, 0, 0, 1,
	})
	if err := checkRotation(w2c); err != nil {
		return out, poseError(im, "world-to-camera rotation is not orthonormal", err)
	}

	var c2w mat.Dense
	if err := c2w.Inverse(w2c); err != nil {
		return out, poseError(im, "pose is not invertible", err)
	}

	for i := 0; i < 3; i++ {
		c2w.Set(i, 1, -c2w.At(i, 1))
		c2w.Set(i, 2, -c2w.At(i, 2))
	}

	order := [4]int{1, 0, 2, 3}
	for i, src := range order {
		for j := 0; j < 4; j++ {
			out[i][j] = c2w.At(src, j)
		}
	}
	for j := 0; j < 4; j++ {
		out[2][j] = -out[2][j]
	}

	if err := checkRotation(mat.NewDense(4, 4, flatten(out))); err != nil {
		return out, poseError(im, "camera-to-world rotation is not orthonormal", err)
	}
	return out, nil
}

// checkRotation verifies the top-left 3x3 block of m is a proper rotation.
func checkRotation(m *mat.Dense) error {
	rot := m.Slice(0, 3, 0, 3)

	var gram mat.Dense
	gram.Mul(rot.T(), rot)
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	if !mat.EqualApprox(&gram, identity, OrthonormalTolerance) {
		return fmt.Errorf("RᵀR deviates from identity by more than %g", OrthonormalTolerance)
	}
	if det := mat.Det(rot); math.Abs(det-1) > OrthonormalTolerance {
		return fmt.Errorf("determinant %g is not 1", det)
	}
	return nil
}

func flatten(m [4][4]float64) []float64 {
	out := make([]float64, 0, 16)
	for _, row := range m {
		out = append(out, row[:]...)
	}
	return out
}

func poseError(im colmap.Image, msg string, err error) *engine.EngineError {
	return engine.NewConfigurationError(
		fmt.Sprintf("image %d (%s): %s", im.ID, im.Name, msg), err).
		WithCode(engine.ErrCodeInvalidPose)
}
