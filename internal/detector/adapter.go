package detector

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
	"github.com/ayusman/krypton/internal/export"
	"github.com/ayusman/krypton/internal/stats"
)

// errInvalidThreshold is the cause carried by ErrInference for thresholds
// outside [0, 1].
var errInvalidThreshold = errors.New("threshold out of range")

var labelColor = color.RGBA{255, 255, 255, 255}

const (
	labelFont      = gocv.FontHersheySimplex
	labelScale     = 0.6
	labelThickness = 2
	boxThickness   = 2
)

// Adapter wraps a Model with loading state, a class palette, result limits
// and drawing. It is safe for concurrent use; Infer calls on the same
// Adapter are serialized.
type Adapter struct {
	model  Model
	config Config

	mu      sync.RWMutex
	loaded  bool
	modelID string
	palette Palette

	inferMu sync.Mutex
}

// NewAdapter creates an adapter around model. No model is loaded yet.
func NewAdapter(model Model, config Config) *Adapter {
	if config.MaxDetections <= 0 {
		config.MaxDetections = DefaultConfig().MaxDetections
	}
	return &Adapter{
		model:   model,
		config:  config,
		palette: NewPalette(nil),
	}
}

// Load loads the model identified by id and rebuilds the class palette.
// On failure the previously loaded model stays active.
func (a *Adapter) Load(id string) error {
	a.inferMu.Lock()
	defer a.inferMu.Unlock()

	if err := a.model.Load(id); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelLoad, id, err)
	}

	palette := NewPalette(a.model.Classes())

	a.mu.Lock()
	a.loaded = true
	a.modelID = id
	a.palette = palette
	a.mu.Unlock()

	log.Printf("detector: loaded %s on %s", id, a.model.Device().Device)
	return nil
}

// Loaded reports whether a model has been loaded successfully.
func (a *Adapter) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded
}

// ModelID returns the identifier of the loaded model, or "" if none.
func (a *Adapter) ModelID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.modelID
}

// Classes returns the class names of the loaded model.
func (a *Adapter) Classes() []string {
	return a.model.Classes()
}

// Palette returns the current class palette.
func (a *Adapter) Palette() Palette {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.palette
}

// Infer runs detection on frame with the given thresholds. Thresholds apply
// to this call only. Results are capped at the configured maximum, keeping
// the most confident detections.
func (a *Adapter) Infer(frame gocv.Mat, confidence, iou float64) (dets []detection.Detection, err error) {
	if !a.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if confidence < 0 || confidence > 1 || iou < 0 || iou > 1 {
		return nil, fmt.Errorf("%w: %w: confidence=%v iou=%v", ErrInference, errInvalidThreshold, confidence, iou)
	}
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrInference)
	}

	a.inferMu.Lock()
	defer a.inferMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			dets = nil
			err = fmt.Errorf("%w: backend panic: %v", ErrInference, r)
		}
	}()

	dets, err = a.model.Infer(frame, confidence, iou)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	if len(dets) > a.config.MaxDetections {
		sort.SliceStable(dets, func(i, j int) bool {
			return dets[i].Confidence > dets[j].Confidence
		})
		dets = dets[:a.config.MaxDetections]
	}
	return dets, nil
}

// Annotate returns a copy of frame with a box and a label drawn for every
// detection. The caller owns the returned Mat.
func (a *Adapter) Annotate(frame gocv.Mat, detections []detection.Detection) gocv.Mat {
	out := frame.Clone()
	palette := a.Palette()

	for _, d := range detections {
		rect := d.Rect()
		c := palette.Color(d.ClassName)

		gocv.Rectangle(&out, rect, c, boxThickness)

		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		size := gocv.GetTextSize(label, labelFont, labelScale, labelThickness)

		labelY := rect.Min.Y - 10
		if labelY <= 10 {
			labelY = rect.Min.Y + 20
		}

		background := image.Rect(rect.Min.X, labelY-size.Y-5, rect.Min.X+size.X, labelY+5)
		gocv.Rectangle(&out, background, c, -1)
		gocv.PutText(&out, label, image.Pt(rect.Min.X, labelY), labelFont, labelScale, labelColor, labelThickness)
	}

	return out
}

// AnnotateSkipped returns a copy of frame marked as not inferred.
func (a *Adapter) AnnotateSkipped(frame gocv.Mat) gocv.Mat {
	out := frame.Clone()
	gocv.PutText(&out, "SKIPPED", image.Pt(10, 30), labelFont, labelScale, color.RGBA{255, 255, 0, 255}, labelThickness)
	return out
}

// Statistics summarizes a detection batch.
func (a *Adapter) Statistics(detections []detection.Detection) stats.Summary {
	return stats.Compute(detections)
}

// Export writes detections in format next to stub and returns the file path.
func (a *Adapter) Export(detections []detection.Detection, format export.Format, stub string) (string, error) {
	return export.Write(detections, format, stub)
}

// DeviceInfo describes where inference runs.
func (a *Adapter) DeviceInfo() DeviceInfo {
	return a.model.Device()
}

// Close releases the underlying model.
func (a *Adapter) Close() error {
	a.inferMu.Lock()
	defer a.inferMu.Unlock()

	a.mu.Lock()
	a.loaded = false
	a.mu.Unlock()

	return a.model.Close()
}
