// Package playback drives a frame source through a detector: it paces
// reads, applies play/pause/seek/loop/speed commands and frame skipping,
// and emits one event per processed frame.
package playback

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/detection"
)

// Status is the lifecycle state of a controller.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusStopped
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	case StatusFinished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for st := StatusIdle; st <= StatusFinished; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// State is a snapshot of a controller.
type State struct {
	Kind        capture.Kind `json:"kind"`
	Status      Status       `json:"status"`
	Position    int          `json:"position"`
	TotalFrames int          `json:"total_frames"`
	FPS         float64      `json:"fps"`
	Speed       float64      `json:"speed"`
	FrameSkip   int          `json:"frame_skip"`
	Loop        bool         `json:"loop"`
	Paused      bool         `json:"paused"`
	Stopped     bool         `json:"stopped"`
	Confidence  float64      `json:"confidence"`
	IOU         float64      `json:"iou"`
}

// Progress returns the playback position as a fraction of the total, or 0
// when the total is unknown.
func (s State) Progress() float64 {
	if s.TotalFrames <= 0 {
		return 0
	}
	return float64(s.Position) / float64(s.TotalFrames)
}

// Event is emitted for every frame the run loop processes.
// The receiver owns Frame and must Close the event.
type Event struct {
	Frame         gocv.Mat
	Index         int
	Detections    []detection.Detection
	Inferred      bool
	InferenceTime time.Duration
	Err           error
	State         State
	Time          time.Time
}

// Close releases the event's frame.
func (e Event) Close() error {
	return e.Frame.Close()
}
