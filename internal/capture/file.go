package capture

import (
	"fmt"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// VideoFile reads frames from a video file. It is finite and seekable.
type VideoFile struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	total   int
	fps     float64
	next    int
}

// NewVideoFile creates an unopened video source for path.
func NewVideoFile(path string) *VideoFile {
	return &VideoFile{path: path}
}

// Open opens the file and reads its frame count and frame rate.
func (v *VideoFile) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return nil
	}

	if _, err := os.Stat(v.path); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	capture, err := gocv.VideoCaptureFile(v.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, v.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: cannot decode %s", ErrSourceUnavailable, v.path)
	}

	total := capture.Get(gocv.VideoCaptureFrameCount)
	if math.IsNaN(total) || total < 0 {
		total = 0
	}
	fps := capture.Get(gocv.VideoCaptureFPS)
	if math.IsNaN(fps) || fps < 0 {
		fps = 0
	}

	v.capture = capture
	v.running = true
	v.total = int(total)
	v.fps = fps
	v.next = 0

	return nil
}

// Read decodes the next frame. It returns ErrEndOfStream after the last one.
func (v *VideoFile) Read() (Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		return Frame{}, ErrNotOpen
	}

	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return Frame{}, ErrEndOfStream
	}

	f := Frame{Mat: mat, Index: v.next, Total: v.total, NativeFPS: v.fps}
	v.next++
	return f, nil
}

// Seek positions the file so the next Read returns frame index, clamped
// to the valid range.
func (v *VideoFile) Seek(index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		return ErrNotOpen
	}

	index = clampIndex(index, v.total)
	v.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	v.next = index
	return nil
}

// TotalFrames returns the frame count reported by the container.
func (v *VideoFile) TotalFrames() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total
}

// NativeFPS returns the recorded frame rate.
func (v *VideoFile) NativeFPS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fps
}

// Kind returns KindVideo.
func (v *VideoFile) Kind() Kind {
	return KindVideo
}

// Close releases the capture handle.
func (v *VideoFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		v.running = false
		return nil
	}

	err := v.capture.Close()
	v.capture = nil
	v.running = false

	return err
}

// IsOpen reports whether the file is open.
func (v *VideoFile) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// ImageFile is a one-frame source read from a still image.
type ImageFile struct {
	path     string
	mat      gocv.Mat
	mu       sync.Mutex
	running  bool
	consumed bool
}

// NewImageFile creates an unopened image source for path.
func NewImageFile(path string) *ImageFile {
	return &ImageFile{path: path}
}

// Open decodes the image.
func (i *ImageFile) Open() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return nil
	}

	if _, err := os.Stat(i.path); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	mat := gocv.IMRead(i.path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return fmt.Errorf("%w: cannot decode %s", ErrSourceUnavailable, i.path)
	}

	i.mat = mat
	i.running = true
	i.consumed = false
	return nil
}

// Read returns a copy of the image once, then ErrEndOfStream.
func (i *ImageFile) Read() (Frame, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return Frame{}, ErrNotOpen
	}
	if i.consumed {
		return Frame{}, ErrEndOfStream
	}

	i.consumed = true
	return Frame{Mat: i.mat.Clone(), Index: 0, Total: 1}, nil
}

// Seek rewinds the image; every index clamps to 0.
func (i *ImageFile) Seek(int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return ErrNotOpen
	}
	i.consumed = false
	return nil
}

// TotalFrames is always 1.
func (i *ImageFile) TotalFrames() int {
	return 1
}

// NativeFPS is 0: a still image has no frame rate.
func (i *ImageFile) NativeFPS() float64 {
	return 0
}

// Kind returns KindImage.
func (i *ImageFile) Kind() Kind {
	return KindImage
}

// Close releases the decoded image.
func (i *ImageFile) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return nil
	}

	err := i.mat.Close()
	i.running = false
	return err
}

// IsOpen reports whether the image is loaded.
func (i *ImageFile) IsOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}
