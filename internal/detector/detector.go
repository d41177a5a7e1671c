// Package detector wraps an external object-detection model behind an adapter
// that runs inference, draws annotations and reduces results.
package detector

import (
	"errors"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
)

var (
	// ErrModelNotLoaded is returned when inference is requested before a model is ready.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrModelLoad is returned when a model cannot be loaded.
	ErrModelLoad = errors.New("model load failed")

	// ErrInference wraps any per-frame inference failure.
	ErrInference = errors.New("inference failed")
)

// Model is the external detection capability. Implementations load weights
// and run the forward pass; they know nothing about playback or drawing.
type Model interface {
	// Load prepares the model identified by id. A failed Load leaves the
	// previously loaded model, if any, untouched.
	Load(id string) error

	// Infer runs detection on a BGR frame. It must be deterministic for
	// identical inputs, thresholds and loaded weights.
	Infer(frame gocv.Mat, confidence, iou float64) ([]detection.Detection, error)

	// Classes returns the class names of the loaded model, indexed by class id.
	Classes() []string

	// Device describes where inference runs.
	Device() DeviceInfo

	// Close releases any resources held by the model.
	Close() error
}

// DeviceInfo describes the inference device.
type DeviceInfo struct {
	Device     string  `json:"device"` // "cpu" or "gpu"
	Name       string  `json:"name,omitempty"`
	MemoryFree *uint64 `json:"memory_free,omitempty"`
}

// Config holds configuration options for object detection.
type Config struct {
	// Confidence is the default minimum score for a detection (0.0-1.0).
	Confidence float64

	// IOU is the default overlap cutoff used for non-maximum suppression (0.0-1.0).
	IOU float64

	// MaxDetections caps the number of detections returned per frame.
	MaxDetections int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Confidence:    0.5,
		IOU:           0.45,
		MaxDetections: 100,
	}
}

// ModelOption is an entry of the model catalogue offered to the user.
type ModelOption struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// AvailableModels lists the YOLOv8 exports the application knows about,
// smallest first.
var AvailableModels = []ModelOption{
	{Label: "YOLOv8n (Nano - Fastest)", ID: "yolov8n.onnx"},
	{Label: "YOLOv8s (Small)", ID: "yolov8s.onnx"},
	{Label: "YOLOv8m (Medium)", ID: "yolov8m.onnx"},
	{Label: "YOLOv8l (Large)", ID: "yolov8l.onnx"},
	{Label: "YOLOv8x (Extra Large - Most Accurate)", ID: "yolov8x.onnx"},
}
