// Package testdata generates image and video fixtures for tests.
package testdata

import (
	"errors"
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Fixture frame dimensions.
const (
	Width  = 64
	Height = 48
)

// ErrNoCodec is returned when the MJPG video writer is unavailable.
var ErrNoCodec = errors.New("video codec not available")

// WriteImage writes a solid BGR image to dir/name and returns its path.
func WriteImage(dir, name string, color gocv.Scalar) (string, error) {
	mat := gocv.NewMatWithSizeFromScalar(color, Height, Width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	path := filepath.Join(dir, name)
	if ok := gocv.IMWrite(path, mat); !ok {
		return "", fmt.Errorf("write image %s", path)
	}
	return path, nil
}

// WriteVideo writes an MJPG clip of n frames at fps to dir/name. Frame i has
// blue channel i*40 so reads can be told apart.
func WriteVideo(dir, name string, n int, fps float64) (string, error) {
	path := filepath.Join(dir, name)

	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, Width, Height, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCodec, err)
	}
	defer writer.Close()
	if !writer.IsOpened() {
		return "", ErrNoCodec
	}

	for i := 0; i < n; i++ {
		mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*40%256), 0, 0, 0), Height, Width, gocv.MatTypeCV8UC3)
		err := writer.Write(mat)
		mat.Close()
		if err != nil {
			return "", fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return path, nil
}
