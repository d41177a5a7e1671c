package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// Synthetic generates deterministic frames in memory. The first two color
// channels of every pixel encode the frame index (see FrameIndex), so tests
// can tell exactly which frame was delivered.
type Synthetic struct {
	mu sync.Mutex

	count    int
	infinite bool
	kind     Kind
	width    int
	height   int
	fps      float64
	failAt   int
	failErr  error
	openErr  error

	running bool
	next    int
	opens   int
	closes  int
	reads   int
	seeks   []int
}

// SyntheticOption configures a Synthetic source.
type SyntheticOption func(*Synthetic)

// WithInfinite makes the source endless and non-seekable, like a camera.
func WithInfinite() SyntheticOption {
	return func(s *Synthetic) {
		s.infinite = true
		s.kind = KindCamera
	}
}

// WithKind overrides the reported source kind.
func WithKind(kind Kind) SyntheticOption {
	return func(s *Synthetic) { s.kind = kind }
}

// WithSize sets the frame dimensions.
func WithSize(width, height int) SyntheticOption {
	return func(s *Synthetic) {
		s.width = width
		s.height = height
	}
}

// WithFPS sets the reported native frame rate.
func WithFPS(fps float64) SyntheticOption {
	return func(s *Synthetic) { s.fps = fps }
}

// WithReadError makes the Read of frame index return err.
func WithReadError(index int, err error) SyntheticOption {
	return func(s *Synthetic) {
		s.failAt = index
		s.failErr = err
	}
}

// WithOpenError makes Open fail with err.
func WithOpenError(err error) SyntheticOption {
	return func(s *Synthetic) { s.openErr = err }
}

// NewSynthetic creates a video-like source of n frames.
func NewSynthetic(n int, opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		count:  n,
		kind:   KindVideo,
		width:  64,
		height: 48,
		fps:    1000,
		failAt: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open marks the source open and counts the handle.
func (s *Synthetic) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openErr != nil {
		return s.openErr
	}
	if s.running {
		return nil
	}
	s.running = true
	s.opens++
	s.next = 0
	return nil
}

// Read returns the next generated frame.
func (s *Synthetic) Read() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return Frame{}, ErrNotOpen
	}
	if !s.infinite && s.next >= s.count {
		return Frame{}, ErrEndOfStream
	}
	if s.failErr != nil && s.next == s.failAt {
		return Frame{}, s.failErr
	}

	s.reads++
	index := s.next
	s.next++

	mat := gocv.NewMatWithSizeFromScalar(indexScalar(index), s.height, s.width, gocv.MatTypeCV8UC3)
	return Frame{Mat: mat, Index: index, Total: s.totalFrames(), NativeFPS: s.fps}, nil
}

// Seek clamps index into range. Infinite sources cannot seek.
func (s *Synthetic) Seek(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.infinite {
		return ErrSeekUnsupported
	}
	if !s.running {
		return ErrNotOpen
	}
	s.next = clampIndex(index, s.count)
	s.seeks = append(s.seeks, s.next)
	return nil
}

// TotalFrames returns n, or 0 for an infinite source.
func (s *Synthetic) TotalFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalFrames()
}

func (s *Synthetic) totalFrames() int {
	if s.infinite {
		return 0
	}
	return s.count
}

// NativeFPS returns the configured frame rate.
func (s *Synthetic) NativeFPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// Kind returns the configured kind.
func (s *Synthetic) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Close releases the handle. Repeated calls are no-ops.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.closes++
	return nil
}

// IsOpen reports whether the source is open.
func (s *Synthetic) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// OpenHandles returns the number of opens not yet matched by a close.
func (s *Synthetic) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens - s.closes
}

// Reads returns the number of frames delivered so far.
func (s *Synthetic) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Seeks returns the clamped index of every successful Seek.
func (s *Synthetic) Seeks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.seeks...)
}

func indexScalar(index int) gocv.Scalar {
	return gocv.NewScalar(float64(index%256), float64((index/256)%256), 0, 0)
}

// FrameIndex decodes the index of a frame produced by Synthetic.
// It also works on annotated copies as long as pixel (h-1, w-1) is untouched.
func FrameIndex(mat gocv.Mat) int {
	row, col := mat.Rows()-1, mat.Cols()-1
	px := mat.GetVecbAt(row, col)
	return int(px[0]) + int(px[1])*256
}
