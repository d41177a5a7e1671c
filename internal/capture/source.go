// Package capture provides frame sources backed by GoCV (OpenCV): a live
// camera, a video file, a still image and a synthetic source for tests.
//
// Frames are decoded to BGR. A Source is owned by exactly one goroutine
// between Open and Close; only Close and IsOpen may be called from others.
package capture

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

var (
	// ErrSourceUnavailable is returned when a source cannot be opened.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSeekUnsupported is returned when seeking a source that cannot seek.
	ErrSeekUnsupported = errors.New("seek not supported")

	// ErrEndOfStream is returned by Read after the last frame of a finite source.
	ErrEndOfStream = errors.New("end of stream")

	// ErrNotOpen is returned when reading from a source that is not open.
	ErrNotOpen = errors.New("source is not open")

	// ErrUnsupportedFormat is returned by Classify for unknown file types.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Kind identifies the type of a frame source.
type Kind int

const (
	KindCamera Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, c := range []Kind{KindCamera, KindImage, KindVideo} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown source kind %q", text)
}

// Frame is one decoded BGR image with its position in the stream.
// The holder of a Frame must Close it.
type Frame struct {
	Mat       gocv.Mat
	Index     int     // 0-based sequence index
	Total     int     // 0 when unknown
	NativeFPS float64 // 0 when unknown
}

// Close releases the frame's image.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// Source produces frames from a camera, file or generator.
type Source interface {
	// Open acquires the underlying handle. Opening an open source is a no-op.
	Open() error

	// Read returns the next frame, or ErrEndOfStream after the last one.
	Read() (Frame, error)

	// Seek positions the source so that the next Read returns frame index.
	// File sources clamp index to [0, TotalFrames-1]; cameras return
	// ErrSeekUnsupported.
	Seek(index int) error

	// TotalFrames returns the frame count, or 0 when unknown or infinite.
	TotalFrames() int

	// NativeFPS returns the recorded frame rate, or 0 when unknown.
	NativeFPS() float64

	Kind() Kind

	// Close releases the handle. It is safe to call more than once.
	Close() error

	IsOpen() bool
}

var (
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"}
	videoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv"}
)

// Classify maps a file path to KindImage or KindVideo by its extension.
func Classify(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range imageExtensions {
		if ext == e {
			return KindImage, nil
		}
	}
	for _, e := range videoExtensions {
		if ext == e {
			return KindVideo, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// NewFileSource creates an unopened source for path based on its extension.
func NewFileSource(path string) (Source, error) {
	kind, err := Classify(path)
	if err != nil {
		return nil, err
	}
	if kind == KindImage {
		return NewImageFile(path), nil
	}
	return NewVideoFile(path), nil
}

func clampIndex(index, total int) int {
	if index < 0 || total <= 0 {
		return 0
	}
	if index > total-1 {
		return total - 1
	}
	return index
}
