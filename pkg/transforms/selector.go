package transforms

import (
	"fmt"
	"sort"

	"github.com/scenepipe/scenepipe/pkg/colmap"
	"github.com/scenepipe/scenepipe/pkg/engine"
)

// Selector chooses the camera model tag written to the document.
type Selector string

const (
	// SelectorAuto uses the model stored in the camera record.
	SelectorAuto Selector = "auto"

	SelectorPerspective     Selector = "perspective"
	SelectorFisheye         Selector = "fisheye"
	SelectorEquirectangular Selector = "equirectangular"
	SelectorPinhole         Selector = "pinhole"
	SelectorSimplePinhole   Selector = "simple_pinhole"
)

// ModelEquirectangular has no COLMAP model id but is a valid document tag.
const ModelEquirectangular = "EQUIRECTANGULAR"

var selectorModels = map[Selector]string{
	SelectorPerspective:     colmap.ModelOpenCV,
	SelectorFisheye:         colmap.ModelOpenCVFisheye,
	SelectorEquirectangular: ModelEquirectangular,
	SelectorPinhole:         colmap.ModelPinhole,
	SelectorSimplePinhole:   colmap.ModelSimplePinhole,
}

// Selectors returns every accepted selector value, sorted, auto first.
func Selectors() []string {
	out := make([]string, 0, len(selectorModels))
	for s := range selectorModels {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return append([]string{string(SelectorAuto)}, out...)
}

// ParseSelector validates a selector string. Empty means auto.
func ParseSelector(s string) (Selector, error) {
	if s == "" {
		return SelectorAuto, nil
	}
	sel := Selector(s)
	if err := sel.Validate(); err != nil {
		return "", err
	}
	return sel, nil
}

// Validate checks if the selector is known.
func (s Selector) Validate() error {
	if s == SelectorAuto {
		return nil
	}
	if _, ok := selectorModels[s]; ok {
		return nil
	}
	return engine.NewConfigurationError(
		fmt.Sprintf("invalid camera model %q (must be one of %v)", string(s), Selectors()), nil)
}

// ModelName returns the camera model tag for a camera record.
func (s Selector) ModelName(cam colmap.Camera) string {
	if name, ok := selectorModels[s]; ok {
		return name
	}
	return cam.Model.Name
}
