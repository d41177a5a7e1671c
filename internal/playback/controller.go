package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/detection"
)

var (
	// ErrInvalidTransition is returned for commands not allowed in the current status.
	ErrInvalidTransition = errors.New("invalid playback transition")

	// ErrInvalidArgument is returned for out-of-range command arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyRunning is returned when a second run loop is started.
	ErrAlreadyRunning = errors.New("run loop already active")
)

const (
	// pausePoll bounds how long a paused loop waits before re-checking state.
	pausePoll = 50 * time.Millisecond

	// fallbackFPS paces file sources that report no frame rate.
	fallbackFPS = 30.0
)

// Detector runs inference and draws results. *detector.Adapter implements it.
type Detector interface {
	Infer(frame gocv.Mat, confidence, iou float64) ([]detection.Detection, error)
	Annotate(frame gocv.Mat, detections []detection.Detection) gocv.Mat
	AnnotateSkipped(frame gocv.Mat) gocv.Mat
}

// Options configures a Controller.
type Options struct {
	Confidence float64
	IOU        float64
	Speed      float64
	FrameSkip  int
	Loop       bool

	// Clock paces file playback and feeds the FPS meter. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Confidence: 0.5,
		IOU:        0.45,
		Speed:      1.0,
	}
}

// Validate checks thresholds, speed and frame skip.
func (o Options) Validate() error {
	if err := validateThresholds(o.Confidence, o.IOU); err != nil {
		return err
	}
	if !validSpeed(o.Speed) {
		return fmt.Errorf("%w: speed %v", ErrInvalidArgument, o.Speed)
	}
	if o.FrameSkip < 0 {
		return fmt.Errorf("%w: frame skip %d", ErrInvalidArgument, o.FrameSkip)
	}
	return nil
}

// Controller owns the playback state of one source. Commands may be called
// from any goroutine; they validate synchronously and are applied by the
// run loop at its next checkpoint. Only the run loop touches the source
// while it is active.
type Controller struct {
	src   capture.Source
	det   Detector
	clock clock.Clock
	fps   *FPSMeter

	mu          sync.Mutex
	state       State
	pendingSeek int
	running     bool
	wake        chan struct{}
}

// NewController creates an idle controller for src and det.
func NewController(src capture.Source, det Detector, opts Options) (*Controller, error) {
	if opts.Speed == 0 {
		opts.Speed = 1.0
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Controller{
		src:         src,
		det:         det,
		clock:       opts.Clock,
		fps:         NewFPSMeter(opts.Clock),
		pendingSeek: -1,
		wake:        make(chan struct{}, 1),
		state: State{
			Kind:        src.Kind(),
			Status:      StatusIdle,
			TotalFrames: src.TotalFrames(),
			Speed:       opts.Speed,
			FrameSkip:   opts.FrameSkip,
			Loop:        opts.Loop,
			Confidence:  opts.Confidence,
			IOU:         opts.IOU,
		},
	}, nil
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// SyncSource refreshes the frame count from the source. Call it after the
// source is opened, since files report their length only once open.
func (c *Controller) SyncSource() {
	total := c.src.TotalFrames()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.TotalFrames = total
}

// Running reports whether a run loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Play starts or resumes playback. From Finished it restarts at frame 0,
// but only when looping is enabled.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Status {
	case StatusRunning:
		return nil
	case StatusIdle, StatusPaused:
		c.state.Status = StatusRunning
	case StatusFinished:
		if !c.loops() {
			return fmt.Errorf("%w: play from %s without loop", ErrInvalidTransition, c.state.Status)
		}
		c.rewind()
		c.state.Status = StatusRunning
	default:
		return fmt.Errorf("%w: play from %s", ErrInvalidTransition, c.state.Status)
	}

	c.signal()
	return nil
}

// Pause suspends a running loop without releasing the source.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.state.Status)
	}
	c.state.Status = StatusPaused
	c.signal()
	return nil
}

// Stop ends playback and resets the position. The source is closed now if
// no loop is active, otherwise by the loop as it exits. Stop is idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state.Status == StatusStopped {
		c.mu.Unlock()
		return nil
	}
	c.state.Status = StatusStopped
	c.state.Position = 0
	c.pendingSeek = -1
	running := c.running
	c.signal()
	c.mu.Unlock()

	if !running {
		return c.src.Close()
	}
	return nil
}

// Seek moves playback to fraction of the total. The new position is
// visible immediately; the loop repositions the source before its next read.
// Seeking a finished source pauses it at the new position.
func (c *Controller) Seek(fraction float64) error {
	if math.IsNaN(fraction) {
		return fmt.Errorf("%w: seek fraction is NaN", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seekable() {
		return fmt.Errorf("%w: %s source", capture.ErrSeekUnsupported, c.state.Kind)
	}
	if c.state.Status == StatusStopped {
		return fmt.Errorf("%w: seek from %s", ErrInvalidTransition, c.state.Status)
	}

	target := SeekTarget(fraction, c.state.TotalFrames)
	c.state.Position = target
	c.pendingSeek = target
	if c.state.Status == StatusFinished {
		c.state.Status = StatusPaused
	}
	c.signal()
	return nil
}

// Restart rewinds to frame 0 and plays, including from Finished.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == StatusStopped {
		return fmt.Errorf("%w: restart from %s", ErrInvalidTransition, c.state.Status)
	}
	if c.seekable() {
		c.rewind()
	}
	c.state.Status = StatusRunning
	c.signal()
	return nil
}

// SetSpeed sets the playback rate multiplier for file sources.
func (c *Controller) SetSpeed(speed float64) error {
	if !validSpeed(speed) {
		return fmt.Errorf("%w: speed %v", ErrInvalidArgument, speed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Speed = speed
	return nil
}

// SetFrameSkip makes the loop infer one of every skip+1 frames.
func (c *Controller) SetFrameSkip(skip int) error {
	if skip < 0 {
		return fmt.Errorf("%w: frame skip %d", ErrInvalidArgument, skip)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.FrameSkip = skip
	return nil
}

// SetLoop enables or disables restarting at the end of a video.
func (c *Controller) SetLoop(loop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loop = loop
}

// SetThresholds sets the confidence and IOU used for subsequent frames.
func (c *Controller) SetThresholds(confidence, iou float64) error {
	if err := validateThresholds(confidence, iou); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Confidence = confidence
	c.state.IOU = iou
	return nil
}

// Run reads, infers and emits frames until the controller is stopped, the
// source finishes, the source fails or ctx is done. emit receives ownership
// of every event. The source is closed when Run returns.
func (c *Controller) Run(ctx context.Context, emit func(Event)) (err error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.state.Status == StatusStopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: run from %s", ErrInvalidTransition, c.state.Status)
	}
	c.running = true
	kind := c.state.Kind
	c.mu.Unlock()

	defer func() {
		if cerr := c.src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w", cerr)
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	wrapped := false
	for {
		if ctx.Err() != nil {
			c.finish(StatusStopped)
			return nil
		}

		c.mu.Lock()
		status := c.state.Status
		switch status {
		case StatusStopped, StatusFinished:
			c.mu.Unlock()
			return nil
		case StatusIdle, StatusPaused:
			c.mu.Unlock()
			c.waitWake(ctx, pausePoll)
			continue
		}
		seek := c.pendingSeek
		c.pendingSeek = -1
		c.mu.Unlock()

		if seek >= 0 {
			if err := c.src.Seek(seek); err != nil && !errors.Is(err, capture.ErrSeekUnsupported) {
				log.Printf("playback: seek to %d: %v", seek, err)
			}
		}

		frame, err := c.src.Read()
		if errors.Is(err, capture.ErrEndOfStream) {
			if c.wrapAround(wrapped) {
				wrapped = true
				continue
			}
			c.finish(StatusFinished)
			return nil
		}
		if err != nil {
			c.finish(StatusStopped)
			return fmt.Errorf("read frame: %w", err)
		}
		wrapped = false

		c.mu.Lock()
		if c.pendingSeek >= 0 || c.state.Status == StatusStopped {
			// A seek or stop arrived during the read; this frame is stale.
			c.mu.Unlock()
			frame.Close()
			continue
		}
		c.state.Position++
		c.state.FPS = c.fps.Tick()
		position := c.state.Position
		infer := ShouldInfer(position, c.state.FrameSkip)
		confidence, iou := c.state.Confidence, c.state.IOU
		speed := c.state.Speed
		c.mu.Unlock()

		event := c.process(frame, infer, confidence, iou)
		frame.Close()

		event.State = c.State()
		emit(event)

		if kind != capture.KindCamera {
			c.sleep(ctx, frameDelay(frame.NativeFPS, speed))
		}
	}
}

func (c *Controller) process(frame capture.Frame, infer bool, confidence, iou float64) Event {
	event := Event{
		Index:    frame.Index,
		Inferred: infer,
		Time:     c.clock.Now(),
	}

	if !infer {
		event.Frame = c.det.AnnotateSkipped(frame.Mat)
		return event
	}

	start := c.clock.Now()
	dets, err := c.det.Infer(frame.Mat, confidence, iou)
	event.InferenceTime = c.clock.Since(start)
	if err != nil {
		event.Err = err
		dets = nil
	}
	event.Detections = dets
	event.Frame = c.det.Annotate(frame.Mat, dets)
	return event
}

// wrapAround queues a rewind at end of stream when looping applies. A wrap
// directly after another wrap means the source yields nothing.
func (c *Controller) wrapAround(justWrapped bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if justWrapped || !c.loops() || c.state.Status != StatusRunning {
		return false
	}
	if c.pendingSeek < 0 {
		c.rewind()
	}
	return true
}

func (c *Controller) finish(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == StatusStopped {
		return
	}
	c.state.Status = status
	if status == StatusStopped {
		c.state.Position = 0
	}
}

func (c *Controller) waitWake(ctx context.Context, d time.Duration) {
	timer := c.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-c.wake:
	case <-timer.C:
	}
}

// sleep paces file playback. It returns early on stop or ctx cancellation.
func (c *Controller) sleep(ctx context.Context, d time.Duration) {
	timer := c.clock.Timer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-c.wake:
			c.mu.Lock()
			stopped := c.state.Status == StatusStopped
			c.mu.Unlock()
			if stopped {
				return
			}
		}
	}
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) rewind() {
	c.pendingSeek = 0
	c.state.Position = 0
}

func (c *Controller) seekable() bool {
	return c.state.Kind != capture.KindCamera && c.state.TotalFrames > 0
}

func (c *Controller) loops() bool {
	return c.state.Loop && c.state.Kind != capture.KindImage
}

func (c *Controller) snapshot() State {
	s := c.state
	s.Paused = s.Status == StatusPaused
	s.Stopped = s.Status == StatusStopped
	return s
}

// ShouldInfer reports whether the frame at 1-based position is inferred
// under frame skip k: one of every k+1 frames, starting with the first.
func ShouldInfer(position, skip int) bool {
	if skip <= 0 {
		return true
	}
	return (position-1)%(skip+1) == 0
}

// SeekTarget converts a fraction of total into a frame index in [0, total-1].
func SeekTarget(fraction float64, total int) int {
	if total <= 0 {
		return 0
	}
	fraction = math.Max(0, math.Min(1, fraction))
	target := int(math.Round(fraction * float64(total)))
	if target > total-1 {
		target = total - 1
	}
	return target
}

func frameDelay(nativeFPS, speed float64) time.Duration {
	if nativeFPS <= 0 {
		nativeFPS = fallbackFPS
	}
	if speed <= 0 {
		speed = 1
	}
	return time.Duration(float64(time.Second) / nativeFPS / speed)
}

func validSpeed(speed float64) bool {
	return speed > 0 && !math.IsInf(speed, 0) && !math.IsNaN(speed)
}

func validateThresholds(confidence, iou float64) error {
	if !(confidence >= 0 && confidence <= 1) {
		return fmt.Errorf("%w: confidence %v", ErrInvalidArgument, confidence)
	}
	if !(iou >= 0 && iou <= 1) {
		return fmt.Errorf("%w: iou %v", ErrInvalidArgument, iou)
	}
	return nil
}
