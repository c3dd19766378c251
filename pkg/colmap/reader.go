package colmap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrUnknownModel is returned for a camera model id outside the known table.
	ErrUnknownModel = errors.New("unknown camera model")

	// ErrMalformed is returned when a record cannot be decoded.
	ErrMalformed = errors.New("malformed colmap record")
)

// maxPrealloc caps slice preallocation from untrusted record counts.
const maxPrealloc = 4096

var byteOrder = binary.LittleEndian

type cameraHeader struct {
	ID      int32
	ModelID int32
	Width   uint64
	Height  uint64
}

type imageHeader struct {
	ID   int32
	Qvec [4]float64
	Tvec [3]float64
	Cam  int32
}

type point2DRecord struct {
	X, Y      float64
	Point3DID int64
}

// ReadCameras decodes a cameras.bin stream in record order.
func ReadCameras(r io.Reader) ([]Camera, error) {
	br := bufio.NewReader(r)

	var count uint64
	if err := binary.Read(br, byteOrder, &count); err != nil {
		return nil, fmt.Errorf("%w: camera count: %w", ErrMalformed, eof(err))
	}

	cameras := make([]Camera, 0, min(count, maxPrealloc))
	for i := uint64(0); i < count; i++ {
		var hdr cameraHeader
		if err := binary.Read(br, byteOrder, &hdr); err != nil {
			return nil, fmt.Errorf("%w: camera %d header: %w", ErrMalformed, i, eof(err))
		}

		model, ok := ModelByID(hdr.ModelID)
		if !ok {
			return nil, fmt.Errorf("%w: id %d (camera %d)", ErrUnknownModel, hdr.ModelID, hdr.ID)
		}

		params := make([]float64, model.NumParams)
		if err := binary.Read(br, byteOrder, params); err != nil {
			return nil, fmt.Errorf("%w: camera %d params: %w", ErrMalformed, hdr.ID, eof(err))
		}

		cameras = append(cameras, Camera{
			ID:     hdr.ID,
			Model:  model,
			Width:  hdr.Width,
			Height: hdr.Height,
			Params: params,
		})
	}

	return cameras, nil
}

// ReadImages decodes an images.bin stream in record order.
func ReadImages(r io.Reader) ([]Image, error) {
	br := bufio.NewReader(r)

	var count uint64
	if err := binary.Read(br, byteOrder, &count); err != nil {
		return nil, fmt.Errorf("%w: image count: %w", ErrMalformed, eof(err))
	}

	images := make([]Image, 0, min(count, maxPrealloc))
	for i := uint64(0); i < count; i++ {
		var hdr imageHeader
		if err := binary.Read(br, byteOrder, &hdr); err != nil {
			return nil, fmt.Errorf("%w: image %d header: %w", ErrMalformed, i, eof(err))
		}

		name, err := br.ReadString(0)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d name: %w", ErrMalformed, hdr.ID, eof(err))
		}
		name = strings.TrimSuffix(name, "\x00")

		var numPoints uint64
		if err := binary.Read(br, byteOrder, &numPoints); err != nil {
			return nil, fmt.Errorf("%w: image %d point count: %w", ErrMalformed, hdr.ID, eof(err))
		}

		points := make([]Point2D, 0, min(numPoints, maxPrealloc))
		for j := uint64(0); j < numPoints; j++ {
			var rec point2DRecord
			if err := binary.Read(br, byteOrder, &rec); err != nil {
				return nil, fmt.Errorf("%w: image %d point %d: %w", ErrMalformed, hdr.ID, j, eof(err))
			}
			points = append(points, Point2D(rec))
		}

		images = append(images, Image{
			ID:       hdr.ID,
			Qvec:     hdr.Qvec,
			Tvec:     hdr.Tvec,
			CameraID: hdr.Cam,
			Name:     name,
			Points2D: points,
		})
	}

	return images, nil
}

// ReadCamerasFile reads cameras.bin from disk.
func ReadCamerasFile(path string) ([]Camera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cameras file: %w", err)
	}
	defer f.Close()

	cameras, err := ReadCameras(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cameras, nil
}

// ReadImagesFile reads images.bin from disk.
func ReadImagesFile(path string) ([]Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open images file: %w", err)
	}
	defer f.Close()

	images, err := ReadImages(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return images, nil
}

// eof turns a clean EOF inside a record into io.ErrUnexpectedEOF.
func eof(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
