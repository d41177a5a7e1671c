// Package tray provides a system tray interface for the Krypton detector.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Action identifies a tray menu command.
type Action int

const (
	ActionCamera Action = iota
	ActionTogglePause
	ActionStop
	ActionSnapshot
	ActionExport
	ActionOpenUI
	ActionQuit
)

// Tray represents the system tray application.
type Tray struct {
	handlers map[Action]func()
	paused   bool
	status   string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuStatus *systray.MenuItem
}

// New creates a new Tray with no handlers.
func New() *Tray {
	return &Tray{
		handlers: make(map[Action]func()),
		status:   "idle",
	}
}

// On sets the callback for a menu action.
func (t *Tray) On(action Action, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[action] = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray loop from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Krypton")
	systray.SetTooltip("Krypton Object Detection")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(statusTitle(t.status), "Playback status")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuCamera := systray.AddMenuItem("Camera", "Switch to the live camera")
	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.paused), "Pause or resume playback")
	t.mu.Unlock()
	menuStop := systray.AddMenuItem("Stop", "Stop the current source")
	systray.AddSeparator()

	menuSnapshot := systray.AddMenuItem("Save Snapshot", "Save the current annotated frame")
	menuExport := systray.AddMenuItem("Export JSON", "Export the latest detections")
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open UI...", "Open the interface in a browser")
	menuQuit := systray.AddMenuItem("Quit", "Quit Krypton")

	go func() {
		for {
			select {
			case <-menuCamera.ClickedCh:
				t.handle(ActionCamera)
			case <-t.menuToggle.ClickedCh:
				t.handle(ActionTogglePause)
			case <-menuStop.ClickedCh:
				t.handle(ActionStop)
			case <-menuSnapshot.ClickedCh:
				t.handle(ActionSnapshot)
			case <-menuExport.ClickedCh:
				t.handle(ActionExport)
			case <-menuOpen.ClickedCh:
				t.handle(ActionOpenUI)
			case <-menuQuit.ClickedCh:
				t.handle(ActionQuit)
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handle runs the callback for action outside the lock.
func (t *Tray) handle(action Action) {
	t.mu.RLock()
	callback := t.handlers[action]
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetStatus updates the status line and the pause toggle title.
func (t *Tray) SetStatus(status string, paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	t.paused = paused
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(status))
	}
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(paused))
	}
}

// Status returns the last status line and pause state.
func (t *Tray) Status() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status, t.paused
}

func statusTitle(status string) string {
	return "Status: " + status
}

func toggleTitle(paused bool) string {
	if paused {
		return "▶ Play"
	}
	return "❚❚ Pause"
}
