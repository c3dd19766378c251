package transforms

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/fsutil"
)

// Document is the scene description written to transforms.json. Field order is the
// serialized key order.
type Document struct {
	FlX         float64  `json:"fl_x"`
	FlY         float64  `json:"fl_y"`
	Cx          float64  `json:"cx"`
	Cy          float64  `json:"cy"`
	W           uint64   `json:"w"`
	H           uint64   `json:"h"`
	CameraModel string   `json:"camera_model"`
	K1          *float64 `json:"k1,omitempty"`
	K2          *float64 `json:"k2,omitempty"`
	K3          *float64 `json:"k3,omitempty"`
	K4          *float64 `json:"k4,omitempty"`
	P1          *float64 `json:"p1,omitempty"`
	P2          *float64 `json:"p2,omitempty"`
	Frames      []Frame  `json:"frames"`
}

// Frame is one posed image.
type Frame struct {
	// FilePath is the image path relative to the scene root.
	FilePath string `json:"file_path"`

	// TransformMatrix is the camera-to-world transform, row major.
	TransformMatrix [4][4]float64 `json:"transform_matrix"`
}

// HasDistortion reports whether any distortion coefficient is set.
func (d *Document) HasDistortion() bool {
	return d.K1 != nil || d.K2 != nil || d.K3 != nil || d.K4 != nil || d.P1 != nil || d.P2 != nil
}

// Marshal encodes the document with four-space indentation.
func (d *Document) Marshal() ([]byte, error) {
	if d.Frames == nil {
		d.Frames = []Frame{}
	}
	return json.MarshalIndent(d, "", "    ")
}

// Write replaces path atomically with the encoded document.
func Write(path string, d *Document) error {
	data, err := d.Marshal()
	if err != nil {
		return engine.NewInternalError("failed to encode transforms", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return engine.NewInternalError("failed to write transforms", err).WithPath(path)
	}
	return nil
}

// Load reads a document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.Classify(fmt.Errorf("failed to read %s: %w", path, err)).WithPath(path)
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, engine.NewConfigurationError("invalid transforms document", err).WithPath(path)
	}
	return &d, nil
}
