package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// candidates builds a [1, 4+C, N] tensor from rows of cx, cy, w, h, scores...
func candidates(numClasses int, rows ...[]float32) ([]int, []float32) {
	attrs := 4 + numClasses
	n := len(rows)
	data := make([]float32, attrs*n)
	for i, row := range rows {
		for a, v := range row {
			data[a*n+i] = v
		}
	}
	return []int{1, attrs, n}, data
}

func TestDecodeOutput(t *testing.T) {
	classes := []string{"person", "car"}

	t.Run("confidence filter and class pick", func(t *testing.T) {
		dims, data := candidates(2,
			[]float32{100, 100, 40, 60, 0.9, 0.1},
			[]float32{300, 300, 20, 20, 0.2, 0.3},
		)

		got, err := decodeOutput(dims, data, classes, 0.5, 0.45, 1, 1)
		if err != nil {
			t.Fatalf("decodeOutput() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 detection, got %d", len(got))
		}
		if got[0].ClassName != "person" {
			t.Errorf("class = %q, want person", got[0].ClassName)
		}
		if diff := cmp.Diff([4]float64{80, 70, 120, 130}, got[0].BBox); diff != "" {
			t.Errorf("bbox mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("boxes are rescaled to the frame", func(t *testing.T) {
		dims, data := candidates(2, []float32{320, 320, 64, 64, 0.1, 0.8})

		got, err := decodeOutput(dims, data, classes, 0.5, 0.45, 2, 0.5)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 detection, got %d", len(got))
		}
		if diff := cmp.Diff([4]float64{576, 144, 704, 176}, got[0].BBox); diff != "" {
			t.Errorf("bbox mismatch (-want +got):\n%s", diff)
		}
		if got[0].ClassID != 1 || got[0].ClassName != "car" {
			t.Errorf("unexpected class %d %q", got[0].ClassID, got[0].ClassName)
		}
	})

	t.Run("overlapping boxes are suppressed", func(t *testing.T) {
		dims, data := candidates(2,
			[]float32{100, 100, 50, 50, 0.9, 0},
			[]float32{102, 101, 50, 50, 0.8, 0},
		)

		got, err := decodeOutput(dims, data, classes, 0.5, 0.45, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("expected NMS to keep 1 box, got %d", len(got))
		}
	})

	t.Run("unknown class id gets a generic name", func(t *testing.T) {
		dims, data := candidates(3, []float32{10, 10, 4, 4, 0, 0, 0.9})

		got, err := decodeOutput(dims, data, classes, 0.5, 0.45, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ClassName != "class_2" {
			t.Errorf("unexpected detections %v", got)
		}
	})

	t.Run("transposed layout", func(t *testing.T) {
		dims := []int{1, 1, 6}
		data := []float32{100, 100, 40, 60, 0.9, 0.1}

		got, err := decodeOutput(dims, data, classes, 0.5, 0.45, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ClassName != "person" {
			t.Errorf("unexpected detections %v", got)
		}
	})

	t.Run("bad shape", func(t *testing.T) {
		if _, err := decodeOutput([]int{1, 84}, nil, classes, 0.5, 0.45, 1, 1); err == nil {
			t.Error("expected error for 2-d output")
		}
	})
}

func TestReadClassNames(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "custom.names")
	if err := os.WriteFile(path, []byte("cat\n\n dog \nbird\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := readClassNames(path)
	if err != nil {
		t.Fatalf("readClassNames() error = %v", err)
	}
	if diff := cmp.Diff([]string{"cat", "dog", "bird"}, got); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	empty := filepath.Join(dir, "empty.names")
	os.WriteFile(empty, []byte("\n"), 0644)
	if _, err := readClassNames(empty); err == nil {
		t.Error("expected error for empty class file")
	}
}

func TestONNXModel_LoadMissingFile(t *testing.T) {
	m := NewONNXModel(t.TempDir(), false)
	if err := m.Load("yolov8n.onnx"); err == nil {
		t.Error("expected error for missing model file")
	}
	if len(COCOClasses) != 80 {
		t.Errorf("expected 80 COCO classes, got %d", len(COCOClasses))
	}
	if m.Device().Device != "cpu" {
		t.Errorf("expected cpu device, got %q", m.Device().Device)
	}
}
