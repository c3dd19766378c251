// Package colmap reads and writes the binary sparse reconstruction records produced by
// COLMAP (cameras.bin and images.bin).
package colmap

import "fmt"

// Camera model names as stored in COLMAP reconstructions.
const (
	ModelSimplePinhole       = "SIMPLE_PINHOLE"
	ModelPinhole             = "PINHOLE"
	ModelSimpleRadial        = "SIMPLE_RADIAL"
	ModelRadial              = "RADIAL"
	ModelOpenCV              = "OPENCV"
	ModelOpenCVFisheye       = "OPENCV_FISHEYE"
	ModelFullOpenCV          = "FULL_OPENCV"
	ModelFOV                 = "FOV"
	ModelSimpleRadialFisheye = "SIMPLE_RADIAL_FISHEYE"
	ModelRadialFisheye       = "RADIAL_FISHEYE"
	ModelThinPrismFisheye    = "THIN_PRISM_FISHEYE"
)

// CameraModel describes a projection type and how many parameters it stores.
type CameraModel struct {
	ID        int32
	Name      string
	NumParams int
}

// cameraModels is indexed by model id.
var cameraModels = []CameraModel{
	{0, ModelSimplePinhole, 3},
	{1, ModelPinhole, 4},
	{2, ModelSimpleRadial, 4},
	{3, ModelRadial, 5},
	{4, ModelOpenCV, 8},
	{5, ModelOpenCVFisheye, 8},
	{6, ModelFullOpenCV, 12},
	{7, ModelFOV, 5},
	{8, ModelSimpleRadialFisheye, 4},
	{9, ModelRadialFisheye, 5},
	{10, ModelThinPrismFisheye, 12},
}

// ModelByID returns the camera model with the given id.
func ModelByID(id int32) (CameraModel, bool) {
	if id < 0 || int(id) >= len(cameraModels) {
		return CameraModel{}, false
	}
	return cameraModels[id], true
}

// ModelByName returns the camera model with the given name.
func ModelByName(name string) (CameraModel, bool) {
	for _, m := range cameraModels {
		if m.Name == name {
			return m, true
		}
	}
	return CameraModel{}, false
}

// Camera is one intrinsic record.
type Camera struct {
	ID     int32
	Model  CameraModel
	Width  uint64
	Height uint64
	Params []float64
}

// Point2D is one 2D observation stored with an image.
type Point2D struct {
	X         float64
	Y         float64
	Point3DID int64
}

// Image is one posed image record. Qvec is (w, x, y, z) and, together with Tvec,
// maps world coordinates to camera coordinates.
type Image struct {
	ID       int32
	Qvec     [4]float64
	Tvec     [3]float64
	CameraID int32
	Name     string
	Points2D []Point2D
}

// Rotation returns the world-to-camera rotation matrix for the image quaternion.
func (im Image) Rotation() [3][3]float64 {
	return QuaternionToRotation(im.Qvec)
}

// QuaternionToRotation converts a (w, x, y, z) quaternion into a rotation matrix.
func QuaternionToRotation(q [4]float64) [3][3]float64 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	return [3][3]float64{
		{1 - 2*y*y - 2*z*z, 2*x*y - 2*w*z, 2*z*x + 2*w*y},
		{2*x*y + 2*w*z, 1 - 2*x*x - 2*z*z, 2*y*z - 2*w*x},
		{2*z*x - 2*w*y, 2*y*z + 2*w*x, 1 - 2*x*x - 2*y*y},
	}
}

func (m CameraModel) String() string {
	return fmt.Sprintf("%s(%d)", m.Name, m.ID)
}
