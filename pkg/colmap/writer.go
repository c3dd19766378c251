package colmap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// WriteCameras encodes cameras in the cameras.bin layout.
func WriteCameras(w io.Writer, cameras []Camera) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, byteOrder, uint64(len(cameras))); err != nil {
		return err
	}
	for _, c := range cameras {
		if len(c.Params) != c.Model.NumParams {
			return fmt.Errorf("camera %d: model %s expects %d params, got %d",
				c.ID, c.Model.Name, c.Model.NumParams, len(c.Params))
		}
		hdr := cameraHeader{ID: c.ID, ModelID: c.Model.ID, Width: c.Width, Height: c.Height}
		if err := binary.Write(bw, byteOrder, hdr); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, c.Params); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// WriteImages encodes images in the images.bin layout.
func WriteImages(w io.Writer, images []Image) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, byteOrder, uint64(len(images))); err != nil {
		return err
	}
	for _, im := range images {
		if strings.IndexByte(im.Name, 0) >= 0 {
			return fmt.Errorf("image %d: name contains NUL", im.ID)
		}
		hdr := imageHeader{ID: im.ID, Qvec: im.Qvec, Tvec: im.Tvec, Cam: im.CameraID}
		if err := binary.Write(bw, byteOrder, hdr); err != nil {
			return err
		}
		if _, err := bw.WriteString(im.Name); err != nil {
			return err
		}
		if err := bw.WriteByte(0); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, uint64(len(im.Points2D))); err != nil {
			return err
		}
		for _, p := range im.Points2D {
			if err := binary.Write(bw, byteOrder, point2DRecord(p)); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// WriteCamerasFile writes cameras.bin to disk.
func WriteCamerasFile(path string, cameras []Camera) error {
	return writeFile(path, func(w io.Writer) error { return WriteCameras(w, cameras) })
}

// WriteImagesFile writes images.bin to disk.
func WriteImagesFile(path string, images []Image) error {
	return writeFile(path, func(w io.Writer) error { return WriteImages(w, images) })
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
