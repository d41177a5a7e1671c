package detector

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
)

// inputSize is the square input resolution of YOLOv8 exports.
const inputSize = 640

// COCOClasses are the 80 class names of the COCO dataset, in class id order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// ONNXModel runs a YOLOv8 ONNX export through the OpenCV DNN module.
type ONNXModel struct {
	modelsDir string
	useCUDA   bool

	mu      sync.Mutex
	net     *gocv.Net
	classes []string
}

// NewONNXModel creates a model that loads weights from modelsDir.
// With useCUDA the network is placed on the CUDA backend.
func NewONNXModel(modelsDir string, useCUDA bool) *ONNXModel {
	return &ONNXModel{modelsDir: modelsDir, useCUDA: useCUDA}
}

// Load reads <modelsDir>/<id>. Class names come from a sibling .names file
// when present, otherwise the COCO list is used.
func (m *ONNXModel) Load(id string) error {
	path := id
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.modelsDir, id)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		net.Close()
		return fmt.Errorf("read onnx network %s", path)
	}

	if m.useCUDA {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	classes, err := readClassNames(strings.TrimSuffix(path, filepath.Ext(path)) + ".names")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			net.Close()
			return err
		}
		classes = COCOClasses
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net != nil {
		m.net.Close()
	}
	m.net = &net
	m.classes = classes
	return nil
}

// Infer runs the network on a BGR frame and decodes boxes in frame pixels.
func (m *ONNXModel) Infer(frame gocv.Mat, confidence, iou float64) ([]detection.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.net == nil {
		return nil, ErrModelNotLoaded
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, errors.New("empty network output")
	}

	scaleX := float64(frame.Cols()) / inputSize
	scaleY := float64(frame.Rows()) / inputSize
	return decodeYOLOv8(out, m.classes, confidence, iou, scaleX, scaleY)
}

// Classes returns the class names of the loaded model.
func (m *ONNXModel) Classes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classes
}

// Device reports the DNN target in use.
func (m *ONNXModel) Device() DeviceInfo {
	if m.useCUDA {
		return DeviceInfo{Device: "gpu", Name: "CUDA"}
	}
	return DeviceInfo{Device: "cpu", Name: "OpenCV DNN"}
}

// Close releases the network.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net != nil {
		m.net.Close()
		m.net = nil
	}
	return nil
}

func decodeYOLOv8(out gocv.Mat, classes []string, confidence, iou, scaleX, scaleY float64) ([]detection.Detection, error) {
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return decodeOutput(out.Size(), data, classes, confidence, iou, scaleX, scaleY)
}

// decodeOutput turns a [1, 4+C, N] (or transposed [1, N, 4+C]) tensor into
// detections. Each candidate holds cx, cy, w, h in input pixels followed by
// one score per class.
func decodeOutput(dims []int, data []float32, classes []string, confidence, iou, scaleX, scaleY float64) ([]detection.Detection, error) {
	if len(dims) != 3 || len(data) < dims[1]*dims[2] {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	// Some exporters emit [1, N, 4+C]; recognize it by the class count.
	attrs, count := dims[1], dims[2]
	transposed := false
	if attrs != 4+len(classes) && count == 4+len(classes) {
		attrs, count = count, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	at := func(attr, i int) float64 {
		if transposed {
			return float64(data[i*attrs+attr])
		}
		return float64(data[attr*count+i])
	}

	var (
		boxes   []image.Rectangle
		scores  []float32
		classID []int
	)
	for i := 0; i < count; i++ {
		best, bestScore := -1, 0.0
		for c := 4; c < attrs; c++ {
			if s := at(c, i); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < confidence {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		x1 := (cx - w/2) * scaleX
		y1 := (cy - h/2) * scaleY
		x2 := (cx + w/2) * scaleX
		y2 := (cy + h/2) * scaleY

		boxes = append(boxes, image.Rect(int(x1), int(y1), int(x2), int(y2)))
		scores = append(scores, float32(bestScore))
		classID = append(classID, best)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(confidence), float32(iou))

	result := make([]detection.Detection, 0, len(keep))
	for _, k := range keep {
		r := boxes[k]
		name := fmt.Sprintf("class_%d", classID[k])
		if classID[k] < len(classes) {
			name = classes[classID[k]]
		}
		result = append(result, detection.NewDetection(
			classID[k], name, float64(scores[k]),
			float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y),
		))
	}
	return result, nil
}

func readClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class file %s is empty", path)
	}
	return names, nil
}
