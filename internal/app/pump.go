package app

import (
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
	"github.com/ayusman/krypton/internal/playback"
	"github.com/ayusman/krypton/internal/session"
)

// subscriberBuffer is the per-subscriber update backlog; slower
// subscribers miss updates.
const subscriberBuffer = 16

// Update is published to subscribers for every processed frame.
type Update struct {
	SessionID   string                `json:"session_id"`
	Index       int                   `json:"index"`
	Inferred    bool                  `json:"inferred"`
	Detections  []detection.Detection `json:"detections"`
	InferenceMs float64               `json:"inference_ms"`
	Error       string                `json:"error,omitempty"`
	State       playback.State        `json:"state"`
	Time        time.Time             `json:"time"`
}

// Subscribe registers for frame updates. The returned function unsubscribes
// and closes the channel.
func (a *App) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	a.dataMu.Lock()
	a.subscribers[ch] = struct{}{}
	a.dataMu.Unlock()

	return ch, func() {
		a.dataMu.Lock()
		defer a.dataMu.Unlock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
	}
}

// LastUpdate returns the most recent update, if any frame was processed.
func (a *App) LastUpdate() (Update, bool) {
	a.dataMu.RLock()
	defer a.dataMu.RUnlock()
	return a.lastUpdate, a.hasFrame
}

// pump consumes the session's events until its queue closes.
func (a *App) pump(sess *session.Session, done chan struct{}) {
	defer close(done)

	for e := range sess.Events() {
		a.handle(sess.ID(), e)
	}

	if err := sess.Err(); err != nil {
		log.Printf("app: session %s ended: %v", sess.ID(), err)
	}
}

// handle takes ownership of e.
func (a *App) handle(sessionID string, e playback.Event) {
	if a.config.Metrics != nil {
		a.config.Metrics.Observe(e)
	}
	if e.Err != nil {
		log.Printf("app: frame %d: %v", e.Index, e.Err)
	}

	var jpeg []byte
	if buf, err := gocv.IMEncode(".jpg", e.Frame); err != nil {
		log.Printf("app: encode frame %d: %v", e.Index, err)
	} else {
		jpeg = append([]byte(nil), buf.GetBytes()...)
		buf.Close()
	}

	u := Update{
		SessionID:   sessionID,
		Index:       e.Index,
		Inferred:    e.Inferred,
		Detections:  e.Detections,
		InferenceMs: float64(e.InferenceTime.Microseconds()) / 1000,
		State:       e.State,
		Time:        e.Time,
	}
	if e.Err != nil {
		u.Error = e.Err.Error()
	}
	if u.Detections == nil {
		u.Detections = []detection.Detection{}
	}

	a.dataMu.Lock()
	defer a.dataMu.Unlock()

	if a.hasFrame {
		a.lastFrame.Close()
	}
	a.lastFrame = e.Frame
	a.hasFrame = true
	if jpeg != nil {
		a.lastJPEG = jpeg
	}
	if e.Inferred && e.Err == nil {
		a.lastResults = e.Detections
	}
	a.lastUpdate = u

	for ch := range a.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

func (a *App) resetResults() {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()

	if a.hasFrame {
		a.lastFrame.Close()
	}
	a.lastFrame = gocv.Mat{}
	a.hasFrame = false
	a.lastJPEG = nil
	a.lastResults = nil
	a.lastUpdate = Update{}
}
