package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Camera captures frames from a camera device using GoCV.
// It is an infinite source and cannot seek.
type Camera struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
	fps      int
	index    int
}

// NewCamera creates a new Camera with the given device ID.
func NewCamera(deviceID int) *Camera {
	return &Camera{
		deviceID: deviceID,
		fps:      DefaultFPS,
	}
}

// Open opens the camera for capturing frames.
// It sets the resolution to 640x480 for performance.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("%w: camera %d: %w", ErrSourceUnavailable, c.deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: camera %d", ErrSourceUnavailable, c.deviceID)
	}

	// Set resolution for performance
	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.running = true
	c.index = 0

	return nil
}

// Close closes the camera and releases resources.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// Read reads a single frame from the camera.
// The caller is responsible for closing the returned frame.
func (c *Camera) Read() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return Frame{}, ErrNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return Frame{}, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return Frame{}, errors.New("captured frame is empty")
	}

	f := Frame{Mat: mat, Index: c.index, NativeFPS: float64(c.fps)}
	c.index++
	return f, nil
}

// Seek is not supported on live cameras.
func (c *Camera) Seek(int) error {
	return ErrSeekUnsupported
}

// TotalFrames is always 0: a camera stream has no end.
func (c *Camera) TotalFrames() int {
	return 0
}

// NativeFPS returns the configured capture rate.
func (c *Camera) NativeFPS() float64 {
	return float64(c.FPS())
}

// Kind returns KindCamera.
func (c *Camera) Kind() Kind {
	return KindCamera
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *Camera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *Camera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
