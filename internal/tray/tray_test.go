package tray

import "testing"

func TestHandleRunsCallback(t *testing.T) {
	tr := New()

	var got []Action
	for _, a := range []Action{ActionCamera, ActionTogglePause, ActionStop, ActionSnapshot, ActionExport, ActionOpenUI} {
		a := a
		tr.On(a, func() { got = append(got, a) })
	}

	tr.handle(ActionSnapshot)
	tr.handle(ActionCamera)
	tr.handle(ActionQuit) // no handler

	if len(got) != 2 || got[0] != ActionSnapshot || got[1] != ActionCamera {
		t.Errorf("handled = %v, want [snapshot camera]", got)
	}
}

func TestCallbackMayUpdateStatus(t *testing.T) {
	tr := New()
	tr.On(ActionTogglePause, func() { tr.SetStatus("paused", true) })

	tr.handle(ActionTogglePause)

	status, paused := tr.Status()
	if status != "paused" || !paused {
		t.Errorf("Status() = %q, %v, want paused, true", status, paused)
	}
}

func TestTitles(t *testing.T) {
	if toggleTitle(true) != "▶ Play" || toggleTitle(false) != "❚❚ Pause" {
		t.Error("unexpected toggle titles")
	}
	if statusTitle("running") != "Status: running" {
		t.Errorf("statusTitle() = %q", statusTitle("running"))
	}
}
