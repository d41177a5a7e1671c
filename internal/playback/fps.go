package playback

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// fpsWindow is how often the measured frame rate is recomputed.
const fpsWindow = time.Second

// FPSMeter measures frame rate by counting frames over one-second windows.
// The rate is recomputed once at least a full window has elapsed since the
// previous sample.
type FPSMeter struct {
	clock clock.Clock

	mu     sync.Mutex
	start  time.Time
	last   time.Time
	frames int
	fps    float64
}

// NewFPSMeter creates a meter that reads time from c. A nil c uses the
// wall clock.
func NewFPSMeter(c clock.Clock) *FPSMeter {
	if c == nil {
		c = clock.New()
	}
	return &FPSMeter{clock: c}
}

// Tick records a frame and returns the current rate.
func (m *FPSMeter) Tick() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.last = now
	if m.start.IsZero() {
		m.start = now
		return m.fps
	}

	m.frames++
	if elapsed := now.Sub(m.start); elapsed >= fpsWindow {
		m.fps = float64(m.frames) / elapsed.Seconds()
		m.frames = 0
		m.start = now
	}
	return m.fps
}

// FPS returns the last sampled rate, or 0 when no frame arrived within
// the last window.
func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() || m.clock.Now().Sub(m.last) >= fpsWindow {
		return 0
	}
	return m.fps
}

// Reset forgets all recorded frames.
func (m *FPSMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start, m.last = time.Time{}, time.Time{}
	m.frames = 0
	m.fps = 0
}
