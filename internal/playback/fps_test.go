package playback

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestFPSMeter(t *testing.T) {
	t.Run("steady rate", func(t *testing.T) {
		mock := clock.NewMock()
		m := NewFPSMeter(mock)

		var fps float64
		for i := 0; i < 30; i++ {
			fps = m.Tick()
			mock.Add(100 * time.Millisecond)
		}
		if math.Abs(fps-10) > 0.01 {
			t.Errorf("fps = %v, want 10", fps)
		}
	})

	t.Run("no sample before a full window", func(t *testing.T) {
		mock := clock.NewMock()
		m := NewFPSMeter(mock)

		var fps float64
		for i := 0; i < 9; i++ {
			fps = m.Tick()
			mock.Add(100 * time.Millisecond)
		}
		if fps != 0 {
			t.Errorf("fps = %v before the first window closed, want 0", fps)
		}
	})

	t.Run("rate changes", func(t *testing.T) {
		mock := clock.NewMock()
		m := NewFPSMeter(mock)

		for i := 0; i < 20; i++ {
			m.Tick()
			mock.Add(100 * time.Millisecond)
		}
		var fps float64
		for i := 0; i < 60; i++ {
			fps = m.Tick()
			mock.Add(40 * time.Millisecond)
		}
		if math.Abs(fps-25) > 0.5 {
			t.Errorf("fps = %v, want about 25", fps)
		}
	})

	t.Run("idle drops to zero", func(t *testing.T) {
		mock := clock.NewMock()
		m := NewFPSMeter(mock)

		for i := 0; i < 15; i++ {
			m.Tick()
			mock.Add(100 * time.Millisecond)
		}
		if m.FPS() == 0 {
			t.Fatal("expected non-zero fps while frames arrive")
		}

		mock.Add(2 * time.Second)
		if got := m.FPS(); got != 0 {
			t.Errorf("fps = %v after idle, want 0", got)
		}
	})

	t.Run("reset", func(t *testing.T) {
		mock := clock.NewMock()
		m := NewFPSMeter(mock)
		for i := 0; i < 15; i++ {
			m.Tick()
			mock.Add(100 * time.Millisecond)
		}
		m.Reset()
		if got := m.FPS(); got != 0 {
			t.Errorf("fps = %v after reset, want 0", got)
		}
	})
}
