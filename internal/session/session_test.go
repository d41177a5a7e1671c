package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/detector"
	"github.com/ayusman/krypton/internal/playback"
)

func loadedDetector(t *testing.T) *detector.Adapter {
	t.Helper()
	adapter := detector.NewAdapter(detector.NewMockModel(), detector.DefaultConfig())
	if err := adapter.Load("mock.onnx"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return adapter
}

func newSession(t *testing.T, src capture.Source, buffer int) *Session {
	t.Helper()
	s, err := New(src, loadedDetector(t), Options{
		Playback:    playback.DefaultOptions(),
		EventBuffer: buffer,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, s *Session) playback.Event {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		if !ok {
			t.Fatal("event queue closed")
		}
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return playback.Event{}
}

func finished(s *Session) func() bool {
	return func() bool { return s.State().Status == playback.StatusFinished }
}

func TestStartRequiresLoadedModel(t *testing.T) {
	src := capture.NewSynthetic(3)
	adapter := detector.NewAdapter(detector.NewMockModel(), detector.DefaultConfig())

	s, err := New(src, adapter, Options{Playback: playback.DefaultOptions()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Stop()

	if err := s.Start(); !errors.Is(err, detector.ErrModelNotLoaded) {
		t.Fatalf("Start() error = %v, want ErrModelNotLoaded", err)
	}
	if src.OpenHandles() != 0 {
		t.Error("source opened without a model")
	}
}

func TestStartSourceUnavailable(t *testing.T) {
	src := capture.NewSynthetic(3, capture.WithOpenError(errors.New("no device")))
	s := newSession(t, src, 0)

	if err := s.Start(); !errors.Is(err, capture.ErrSourceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrSourceUnavailable", err)
	}
}

func TestStartTwice(t *testing.T) {
	s := newSession(t, capture.NewSynthetic(1000), 0)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); !errors.Is(err, playback.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestEventsInOrder(t *testing.T) {
	src := capture.NewSynthetic(10)
	s := newSession(t, src, 64)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []int
	for i := 0; i < 10; i++ {
		e := receive(t, s)
		got = append(got, e.Index)
		e.Close()
	}
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event indices mismatch (-want +got):\n%s", diff)
	}

	waitFor(t, "finished", finished(s))
	waitFor(t, "source release", func() bool { return src.OpenHandles() == 0 })

	select {
	case <-s.Done():
		t.Fatal("session ended when the source finished")
	default:
	}
}

func TestFullQueueDropsOldest(t *testing.T) {
	src := capture.NewSynthetic(20)
	var dropped atomic.Int32
	s, err := New(src, loadedDetector(t), Options{
		Playback:    playback.DefaultOptions(),
		EventBuffer: 2,
		OnDrop:      func() { dropped.Add(1) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "finished", finished(s))

	first, second := receive(t, s), receive(t, s)
	defer first.Close()
	defer second.Close()

	if first.Index != 18 || second.Index != 19 {
		t.Errorf("queued indices = %d, %d, want 18, 19", first.Index, second.Index)
	}

	want := Stats{Emitted: 20, Dropped: 18}
	if diff := cmp.Diff(want, s.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
	if n := dropped.Load(); n != 18 {
		t.Errorf("OnDrop called %d times, want 18", n)
	}
}

func TestRestartAfterFinish(t *testing.T) {
	src := capture.NewSynthetic(3)
	s := newSession(t, src, 16)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		receive(t, s).Close()
	}
	waitFor(t, "finished", finished(s))

	if err := s.Play(); !errors.Is(err, playback.ErrInvalidTransition) {
		t.Errorf("Play() after finish error = %v, want ErrInvalidTransition", err)
	}
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	var got []int
	for i := 0; i < 3; i++ {
		e := receive(t, s)
		got = append(got, e.Index)
		e.Close()
	}
	if diff := cmp.Diff([]int{0, 1, 2}, got); diff != "" {
		t.Errorf("indices after restart mismatch (-want +got):\n%s", diff)
	}
}

func TestSeekAfterFinishThenPlay(t *testing.T) {
	src := capture.NewSynthetic(10)
	s := newSession(t, src, 16)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "finished", finished(s))
	for len(s.Events()) > 0 {
		(<-s.Events()).Close()
	}

	if err := s.Seek(0.8); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if got := s.State().Status; got != playback.StatusPaused {
		t.Fatalf("status after seek = %v, want paused", got)
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	e := receive(t, s)
	defer e.Close()
	if e.Index != 8 {
		t.Errorf("first index after seek = %d, want 8", e.Index)
	}
}

func TestStopReleasesSource(t *testing.T) {
	src := capture.NewSynthetic(0, capture.WithInfinite())
	s := newSession(t, src, 4)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	receive(t, s).Close()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}
	for e := range s.Events() {
		e.Close()
	}
	if src.OpenHandles() != 0 {
		t.Errorf("OpenHandles() = %d, want 0", src.OpenHandles())
	}
	if got := s.State().Status; got != playback.StatusStopped {
		t.Errorf("status = %v, want stopped", got)
	}
	if err := s.Play(); !errors.Is(err, playback.ErrInvalidTransition) {
		t.Errorf("Play() after Stop error = %v, want ErrInvalidTransition", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	src := capture.NewSynthetic(5)
	s := newSession(t, src, 0)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Start(); !errors.Is(err, playback.ErrInvalidTransition) {
		t.Errorf("Start() after Stop error = %v, want ErrInvalidTransition", err)
	}
	if src.OpenHandles() != 0 {
		t.Errorf("OpenHandles() = %d, want 0", src.OpenHandles())
	}
}

func TestReadFailureEndsSession(t *testing.T) {
	readErr := errors.New("device unplugged")
	src := capture.NewSynthetic(10, capture.WithReadError(2, readErr))
	s := newSession(t, src, 16)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}

	if !errors.Is(s.Err(), readErr) {
		t.Errorf("Err() = %v, want %v", s.Err(), readErr)
	}
	n := 0
	for e := range s.Events() {
		n++
		e.Close()
	}
	if n != 2 {
		t.Errorf("received %d events, want 2", n)
	}
	if src.OpenHandles() != 0 {
		t.Errorf("OpenHandles() = %d, want 0", src.OpenHandles())
	}
}

func TestTogglePause(t *testing.T) {
	s := newSession(t, capture.NewSynthetic(0, capture.WithInfinite()), 4)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.TogglePause(); err != nil {
		t.Fatalf("TogglePause() error = %v", err)
	}
	if got := s.State().Status; got != playback.StatusPaused {
		t.Errorf("status = %v, want paused", got)
	}
	if err := s.TogglePause(); err != nil {
		t.Fatalf("TogglePause() error = %v", err)
	}
	if got := s.State().Status; got != playback.StatusRunning {
		t.Errorf("status = %v, want running", got)
	}
}

func TestIDsAreUnique(t *testing.T) {
	a := newSession(t, capture.NewSynthetic(1), 0)
	b := newSession(t, capture.NewSynthetic(1), 0)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("IDs = %q, %q", a.ID(), b.ID())
	}
}
