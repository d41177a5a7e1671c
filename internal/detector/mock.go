package detector

import (
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
)

// MockModel is a test implementation of the Model interface.
// It allows tests to control the detection results, failures and latency.
type MockModel struct {
	mu         sync.Mutex
	classes    []string
	detections []detection.Detection
	err        error
	loadErr    error
	delay      time.Duration
	panicValue any
	loadedID   string
	calls      int
	closed     bool
}

// NewMockModel creates a MockModel that reports the given class list.
// With no classes it reports a small fixed list.
func NewMockModel(classes ...string) *MockModel {
	if len(classes) == 0 {
		classes = []string{"person", "bicycle", "car", "dog"}
	}
	return &MockModel{classes: classes}
}

// SetDetections sets the detections that will be returned by Infer.
func (m *MockModel) SetDetections(detections []detection.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = detections
}

// SetError sets the error that will be returned by Infer.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetLoadError sets the error that will be returned by Load.
func (m *MockModel) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// SetDelay makes every Infer call block for d before returning.
func (m *MockModel) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetPanic makes Infer panic with v. A nil v disables the panic.
func (m *MockModel) SetPanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicValue = v
}

// Calls returns the number of Infer calls so far.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LoadedID returns the id passed to the last successful Load.
func (m *MockModel) LoadedID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedID
}

// Closed reports whether Close has been called.
func (m *MockModel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Load records id or returns the configured load error.
func (m *MockModel) Load(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	m.loadedID = id
	m.closed = false
	return nil
}

// Infer returns the configured detections whose confidence reaches the
// threshold, or the configured error.
func (m *MockModel) Infer(frame gocv.Mat, confidence, iou float64) ([]detection.Detection, error) {
	m.mu.Lock()
	m.calls++
	delay, err, p := m.delay, m.err, m.panicValue
	scripted := m.detections
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if p != nil {
		panic(p)
	}
	if err != nil {
		return nil, err
	}

	var out []detection.Detection
	for _, d := range scripted {
		if d.Confidence >= confidence {
			out = append(out, d)
		}
	}
	return out, nil
}

// Classes returns the configured class list.
func (m *MockModel) Classes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classes
}

// Device reports a CPU device.
func (m *MockModel) Device() DeviceInfo {
	return DeviceInfo{Device: "cpu", Name: "mock"}
}

// Close marks the model closed.
func (m *MockModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
