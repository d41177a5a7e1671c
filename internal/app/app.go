// Package app provides the command surface of the Krypton detection
// application. It owns the detector and at most one live streaming session.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/detection"
	"github.com/ayusman/krypton/internal/detector"
	"github.com/ayusman/krypton/internal/metrics"
	"github.com/ayusman/krypton/internal/playback"
	"github.com/ayusman/krypton/internal/session"
	"github.com/ayusman/krypton/internal/stats"
	"github.com/ayusman/krypton/internal/store"
)

var (
	// ErrNoSession is returned by playback commands when no source is loaded.
	ErrNoSession = errors.New("no active session")

	// ErrNoFrame is returned by Snapshot before any frame was produced.
	ErrNoFrame = errors.New("no frame available")

	// ErrNoResults is returned by ExportResults when nothing was detected.
	ErrNoResults = errors.New("no detection results")
)

// Config holds configuration options for the application.
type Config struct {
	// Playback holds the thresholds and playback settings applied to every
	// new session. They persist across source switches.
	Playback playback.Options

	EventBuffer  int
	OutputDir    string
	CameraDevice int
	CameraFPS    int

	// Store records exports and snapshots when set.
	Store *store.Store

	// Metrics receives pipeline observations when set.
	Metrics *metrics.Metrics

	// Clock timestamps snapshots and exports. Nil uses the wall clock.
	Clock clock.Clock

	// NewCamera and NewFile create sources. Nil uses the gocv sources.
	NewCamera func(device int) capture.Source
	NewFile   func(path string) (capture.Source, error)
}

// App is the main application that orchestrates sources, detection and results.
type App struct {
	config   Config
	detector *detector.Adapter
	clock    clock.Clock

	mu       sync.Mutex
	settings playback.Options
	session  *session.Session
	pumpDone chan struct{}

	dataMu      sync.RWMutex
	lastFrame   gocv.Mat
	hasFrame    bool
	lastJPEG    []byte
	lastResults []detection.Detection
	lastUpdate  Update
	subscribers map[chan Update]struct{}
}

// New creates a new App around det with the given configuration.
func New(det *detector.Adapter, config Config) *App {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.NewCamera == nil {
		config.NewCamera = func(device int) capture.Source {
			cam := capture.NewCamera(device)
			if config.CameraFPS > 0 {
				cam.SetFPS(config.CameraFPS)
			}
			return cam
		}
	}
	if config.NewFile == nil {
		config.NewFile = capture.NewFileSource
	}

	settings := config.Playback
	if settings.Speed == 0 {
		settings.Speed = 1.0
	}

	return &App{
		config:      config,
		detector:    det,
		clock:       config.Clock,
		settings:    settings,
		subscribers: make(map[chan Update]struct{}),
	}
}

// Detector returns the detector adapter.
func (a *App) Detector() *detector.Adapter {
	return a.detector
}

// LoadModel switches the detector to model id. The previous model stays
// active when loading fails.
func (a *App) LoadModel(id string) error {
	return a.detector.Load(id)
}

// LoadImage replaces the current source with the image at path.
func (a *App) LoadImage(path string) error {
	return a.loadFile(path, capture.KindImage)
}

// LoadVideo replaces the current source with the video at path.
func (a *App) LoadVideo(path string) error {
	return a.loadFile(path, capture.KindVideo)
}

func (a *App) loadFile(path string, want capture.Kind) error {
	src, err := a.config.NewFile(path)
	if err != nil {
		return err
	}
	if src.Kind() != want {
		return fmt.Errorf("%w: %s is not a %s", capture.ErrUnsupportedFormat, path, want)
	}
	return a.startSession(src)
}

// SwitchToCamera replaces the current source with the configured camera.
func (a *App) SwitchToCamera() error {
	return a.startSession(a.config.NewCamera(a.config.CameraDevice))
}

// startSession stops the previous session, then starts one for src.
func (a *App) startSession(src capture.Source) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.stopSessionLocked(); err != nil {
		log.Printf("app: stop previous session: %v", err)
	}
	a.session = nil
	a.resetResults()

	sess, err := session.New(src, a.detector, session.Options{
		Playback:    a.settings,
		EventBuffer: a.config.EventBuffer,
		OnDrop:      a.onDrop,
	})
	if err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		return multierr.Append(err, sess.Stop())
	}

	a.session = sess
	a.pumpDone = make(chan struct{})
	go a.pump(sess, a.pumpDone)

	if a.config.Metrics != nil {
		a.config.Metrics.SessionsStarted.WithLabelValues(src.Kind().String()).Inc()
	}
	log.Printf("app: %s session %s started", src.Kind(), sess.ID())
	return nil
}

// stopSessionLocked stops the live session and waits for its pump. a.mu
// must be held.
func (a *App) stopSessionLocked() error {
	if a.session == nil {
		return nil
	}
	err := a.session.Stop()
	<-a.pumpDone
	return err
}

func (a *App) onDrop() {
	if a.config.Metrics != nil {
		a.config.Metrics.EventsDropped.Inc()
	}
}

func (a *App) current() (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, ErrNoSession
	}
	return a.session, nil
}

// Play starts or resumes playback.
func (a *App) Play() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.Play()
}

// Pause suspends playback.
func (a *App) Pause() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.Pause()
}

// TogglePause pauses a running session and resumes a paused one.
func (a *App) TogglePause() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.TogglePause()
}

// Restart rewinds the current source and plays it.
func (a *App) Restart() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.Restart()
}

// Seek moves playback to fraction of the current video.
func (a *App) Seek(fraction float64) error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.Seek(fraction)
}

// Stop ends the current session and releases its source.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ErrNoSession
	}
	return a.stopSessionLocked()
}

// SetSpeed sets the playback rate for this and future sessions.
func (a *App) SetSpeed(speed float64) error {
	return a.updateSettings(func(o *playback.Options) { o.Speed = speed },
		func(s *session.Session) error { return s.SetSpeed(speed) })
}

// SetFrameSkip sets the number of frames passed through between inferences.
func (a *App) SetFrameSkip(skip int) error {
	return a.updateSettings(func(o *playback.Options) { o.FrameSkip = skip },
		func(s *session.Session) error { return s.SetFrameSkip(skip) })
}

// SetLoop enables or disables looping.
func (a *App) SetLoop(loop bool) error {
	return a.updateSettings(func(o *playback.Options) { o.Loop = loop },
		func(s *session.Session) error { s.SetLoop(loop); return nil })
}

// SetConfidence sets the minimum detection confidence.
func (a *App) SetConfidence(confidence float64) error {
	return a.SetThresholds(confidence, a.Settings().IOU)
}

// SetIOU sets the non-maximum suppression overlap cutoff.
func (a *App) SetIOU(iou float64) error {
	return a.SetThresholds(a.Settings().Confidence, iou)
}

// SetThresholds sets both detection thresholds at once.
func (a *App) SetThresholds(confidence, iou float64) error {
	return a.updateSettings(func(o *playback.Options) { o.Confidence, o.IOU = confidence, iou },
		func(s *session.Session) error { return s.SetThresholds(confidence, iou) })
}

// Settings returns the playback settings new sessions start with.
func (a *App) Settings() playback.Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

func (a *App) updateSettings(change func(*playback.Options), apply func(*session.Session) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.settings
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if a.session != nil {
		select {
		case <-a.session.Done():
		default:
			if err := apply(a.session); err != nil {
				return err
			}
		}
	}
	a.settings = next
	return nil
}

// Status describes the application for the UI.
type Status struct {
	SessionID   string              `json:"session_id,omitempty"`
	Active      bool                `json:"active"`
	State       *playback.State     `json:"state,omitempty"`
	Queue       *session.Stats      `json:"queue,omitempty"`
	Model       string              `json:"model"`
	ModelLoaded bool                `json:"model_loaded"`
	Device      detector.DeviceInfo `json:"device"`
	Detections  int                 `json:"detections"`
	Settings    Settings            `json:"settings"`
}

// Settings is the JSON form of the persistent playback settings.
type Settings struct {
	Confidence float64 `json:"confidence"`
	IOU        float64 `json:"iou"`
	Speed      float64 `json:"speed"`
	FrameSkip  int     `json:"frame_skip"`
	Loop       bool    `json:"loop"`
}

// Status returns a snapshot of the application state.
func (a *App) Status() Status {
	a.mu.Lock()
	sess := a.session
	o := a.settings
	a.mu.Unlock()

	st := Status{
		Model:       a.detector.ModelID(),
		ModelLoaded: a.detector.Loaded(),
		Device:      a.detector.DeviceInfo(),
		Detections:  len(a.LastResults()),
		Settings: Settings{
			Confidence: o.Confidence,
			IOU:        o.IOU,
			Speed:      o.Speed,
			FrameSkip:  o.FrameSkip,
			Loop:       o.Loop,
		},
	}
	if sess != nil {
		state := sess.State()
		queue := sess.Stats()
		st.SessionID = sess.ID()
		st.State = &state
		st.Queue = &queue
		select {
		case <-sess.Done():
		default:
			st.Active = true
		}
	}
	return st
}

// Statistics summarizes the most recent inference results.
func (a *App) Statistics() stats.Summary {
	return a.detector.Statistics(a.LastResults())
}

// LastResults returns the detections of the most recently inferred frame.
func (a *App) LastResults() []detection.Detection {
	a.dataMu.RLock()
	defer a.dataMu.RUnlock()
	return append([]detection.Detection(nil), a.lastResults...)
}

// LatestJPEG returns the most recent annotated frame encoded as JPEG.
func (a *App) LatestJPEG() ([]byte, bool) {
	a.dataMu.RLock()
	defer a.dataMu.RUnlock()
	return a.lastJPEG, a.lastJPEG != nil
}

// Close stops the session, disconnects subscribers and closes the detector.
func (a *App) Close() error {
	a.mu.Lock()
	err := a.stopSessionLocked()
	a.session = nil
	a.mu.Unlock()

	a.dataMu.Lock()
	for ch := range a.subscribers {
		close(ch)
		delete(a.subscribers, ch)
	}
	if a.hasFrame {
		err = multierr.Append(err, a.lastFrame.Close())
		a.hasFrame = false
	}
	a.dataMu.Unlock()

	return multierr.Append(err, a.detector.Close())
}
