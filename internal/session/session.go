// Package session runs one frame source through a detector in the
// background and delivers the resulting events through a bounded queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/detector"
	"github.com/ayusman/krypton/internal/playback"
)

// DefaultEventBuffer is the queue capacity used when Options leaves it unset.
const DefaultEventBuffer = 8

// Detector is the detector a session drives.
type Detector interface {
	playback.Detector
	Loaded() bool
}

// Options configures a Session.
type Options struct {
	Playback playback.Options

	// EventBuffer is the capacity of the event queue. When the consumer
	// falls behind, the oldest queued event is dropped.
	EventBuffer int

	// OnDrop is called for every dropped event, after its frame is closed.
	OnDrop func()
}

// Stats counts delivered and dropped events.
type Stats struct {
	Emitted uint64 `json:"emitted"`
	Dropped uint64 `json:"dropped"`
}

// Session binds one source to one detector. The session owns the source.
type Session struct {
	id     string
	src    capture.Source
	det    Detector
	ctrl   *playback.Controller
	onDrop func()

	queue chan playback.Event
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wake     chan struct{}
	loopDone chan struct{}

	mu      sync.Mutex
	started bool
	ended   bool
	err     error

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// New creates a session. Nothing is opened until Start.
func New(src capture.Source, det Detector, opts Options) (*Session, error) {
	ctrl, err := playback.NewController(src, det, opts.Playback)
	if err != nil {
		return nil, err
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     uuid.New().String(),
		src:    src,
		det:    det,
		ctrl:   ctrl,
		onDrop: opts.OnDrop,
		queue:  make(chan playback.Event, buffer),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Kind returns the kind of the session's source.
func (s *Session) Kind() capture.Kind {
	return s.src.Kind()
}

// Start opens the source, begins playback and launches the run loop.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("%w: session %s has ended", playback.ErrInvalidTransition, s.id)
	}
	if s.started {
		return playback.ErrAlreadyRunning
	}
	if !s.det.Loaded() {
		return detector.ErrModelNotLoaded
	}

	if err := s.open(); err != nil {
		return err
	}
	if err := s.ctrl.Play(); err != nil {
		s.src.Close()
		return err
	}

	s.started = true
	s.launch()
	log.Printf("session %s: started %s source", s.id, s.src.Kind())
	return nil
}

// Events returns the ordered event queue. It is closed when the session
// ends; a finished source leaves it open so playback can be restarted.
func (s *Session) Events() <-chan playback.Event {
	return s.queue
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the delivery counters.
func (s *Session) Stats() Stats {
	return Stats{Emitted: s.emitted.Load(), Dropped: s.dropped.Load()}
}

// State returns a snapshot of the playback state.
func (s *Session) State() playback.State {
	return s.ctrl.State()
}

// Play resumes playback. After the source finished it relaunches the run
// loop; while the loop is active it is a no-op.
func (s *Session) Play() error {
	if err := s.ctrl.Play(); err != nil {
		return err
	}
	s.resume()
	return nil
}

// Restart rewinds to the first frame and plays.
func (s *Session) Restart() error {
	if err := s.ctrl.Restart(); err != nil {
		return err
	}
	s.resume()
	return nil
}

// Pause suspends playback without releasing the source.
func (s *Session) Pause() error {
	return s.ctrl.Pause()
}

// TogglePause pauses a running session and resumes a paused one.
func (s *Session) TogglePause() error {
	if s.ctrl.State().Status == playback.StatusRunning {
		return s.Pause()
	}
	return s.Play()
}

// Seek moves playback to fraction of the total.
func (s *Session) Seek(fraction float64) error {
	return s.ctrl.Seek(fraction)
}

// SetSpeed sets the playback rate multiplier.
func (s *Session) SetSpeed(speed float64) error {
	return s.ctrl.SetSpeed(speed)
}

// SetFrameSkip sets how many frames pass through between inferences.
func (s *Session) SetFrameSkip(skip int) error {
	return s.ctrl.SetFrameSkip(skip)
}

// SetLoop enables or disables looping.
func (s *Session) SetLoop(loop bool) {
	s.ctrl.SetLoop(loop)
}

// SetThresholds sets the detection thresholds for subsequent frames.
func (s *Session) SetThresholds(confidence, iou float64) error {
	return s.ctrl.SetThresholds(confidence, iou)
}

// Stop ends the session, waits for the run loop to exit and makes sure
// the source is closed. It is safe to call more than once.
func (s *Session) Stop() error {
	err := s.ctrl.Stop()
	s.cancel()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.loopDone
	}
	s.end(nil)
	return multierr.Append(err, s.src.Close())
}

func (s *Session) open() error {
	if err := s.src.Open(); err != nil {
		if errors.Is(err, capture.ErrSourceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", capture.ErrSourceUnavailable, err)
	}
	s.ctrl.SyncSource()
	return nil
}

// launch starts the goroutine that owns the run loop. A finished source
// parks it until Play or Restart, then it reopens the source and runs
// again. s.mu must be held.
func (s *Session) launch() {
	s.loopDone = make(chan struct{})

	go func() {
		defer close(s.loopDone)

		for {
			err := s.ctrl.Run(s.ctx, s.push)
			if err != nil {
				log.Printf("session %s: run loop: %v", s.id, err)
				s.end(err)
				return
			}

			if !s.park() {
				s.end(nil)
				return
			}
			if err := s.open(); err != nil {
				log.Printf("session %s: reopen source: %v", s.id, err)
				s.end(err)
				return
			}
		}
	}()
}

// park waits until playback is running again. It returns false when the
// session is stopped or cancelled instead.
func (s *Session) park() bool {
	for {
		switch s.ctrl.State().Status {
		case playback.StatusRunning:
			return true
		case playback.StatusStopped:
			return false
		}

		select {
		case <-s.ctx.Done():
			return false
		case <-s.wake:
		}
	}
}

func (s *Session) resume() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	s.cancel()
	close(s.queue)
	close(s.done)
	log.Printf("session %s: ended (emitted=%d dropped=%d)", s.id, s.emitted.Load(), s.dropped.Load())
}

// push enqueues e, dropping the oldest queued events while the queue is
// full. It is only called from the run loop.
func (s *Session) push(e playback.Event) {
	for {
		select {
		case s.queue <- e:
			s.emitted.Add(1)
			return
		default:
		}

		select {
		case old := <-s.queue:
			old.Close()
			s.dropped.Add(1)
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
		}
	}
}
