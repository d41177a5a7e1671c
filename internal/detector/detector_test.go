package detector

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
	"github.com/ayusman/krypton/internal/export"
)

func newFrame(t *testing.T) gocv.Mat {
	t.Helper()
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 240, 320, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })
	return frame
}

func loadedAdapter(t *testing.T, model *MockModel) *Adapter {
	t.Helper()
	a := NewAdapter(model, DefaultConfig())
	if err := a.Load("mock.onnx"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return a
}

func TestPalette(t *testing.T) {
	t.Run("same classes give same colors", func(t *testing.T) {
		classes := []string{"person", "car", "dog"}
		a := NewPalette(classes)
		b := NewPalette(classes)

		for _, c := range classes {
			if a.Color(c) != b.Color(c) {
				t.Errorf("color for %q differs between palettes: %v vs %v", c, a.Color(c), b.Color(c))
			}
		}
		if a.Len() != 3 {
			t.Errorf("expected 3 colors, got %d", a.Len())
		}
	})

	t.Run("color depends on class position", func(t *testing.T) {
		a := NewPalette([]string{"person", "car"})
		b := NewPalette([]string{"car", "person"})

		if a.Color("person") != b.Color("car") {
			t.Error("first class should get the first seeded color regardless of name")
		}
	})

	t.Run("unknown class falls back to green", func(t *testing.T) {
		p := NewPalette([]string{"person"})
		if got := p.Color("unicorn"); got != fallbackColor {
			t.Errorf("expected fallback color, got %v", got)
		}
	})
}

func TestAdapter_Load(t *testing.T) {
	t.Run("successful load builds palette", func(t *testing.T) {
		model := NewMockModel("person", "car")
		a := loadedAdapter(t, model)

		if !a.Loaded() {
			t.Error("expected adapter to be loaded")
		}
		if a.ModelID() != "mock.onnx" {
			t.Errorf("expected model id mock.onnx, got %q", a.ModelID())
		}
		if a.Palette().Len() != 2 {
			t.Errorf("expected 2 palette entries, got %d", a.Palette().Len())
		}
	})

	t.Run("failed load wraps ErrModelLoad", func(t *testing.T) {
		model := NewMockModel()
		model.SetLoadError(errors.New("no such file"))
		a := NewAdapter(model, DefaultConfig())

		err := a.Load("missing.onnx")
		if !errors.Is(err, ErrModelLoad) {
			t.Fatalf("expected ErrModelLoad, got %v", err)
		}
		if a.Loaded() {
			t.Error("adapter should not report loaded after a failed load")
		}
	})

	t.Run("failed reload keeps previous model", func(t *testing.T) {
		model := NewMockModel()
		a := loadedAdapter(t, model)

		model.SetLoadError(errors.New("corrupt"))
		if err := a.Load("other.onnx"); err == nil {
			t.Fatal("expected reload to fail")
		}
		if !a.Loaded() || a.ModelID() != "mock.onnx" {
			t.Errorf("expected previous model to stay loaded, got loaded=%v id=%q", a.Loaded(), a.ModelID())
		}
	})
}

func TestAdapter_Infer(t *testing.T) {
	person := detection.NewDetection(0, "person", 0.9, 10, 10, 50, 80)
	car := detection.NewDetection(2, "car", 0.4, 100, 100, 200, 150)

	t.Run("not loaded", func(t *testing.T) {
		a := NewAdapter(NewMockModel(), DefaultConfig())
		_, err := a.Infer(newFrame(t), 0.5, 0.45)
		if !errors.Is(err, ErrModelNotLoaded) {
			t.Errorf("expected ErrModelNotLoaded, got %v", err)
		}
	})

	t.Run("filters by per-call confidence", func(t *testing.T) {
		model := NewMockModel()
		model.SetDetections([]detection.Detection{person, car})
		a := loadedAdapter(t, model)

		got, err := a.Infer(newFrame(t), 0.5, 0.45)
		if err != nil {
			t.Fatalf("Infer() error = %v", err)
		}
		if diff := cmp.Diff([]detection.Detection{person}, got); diff != "" {
			t.Errorf("detections mismatch (-want +got):\n%s", diff)
		}

		got, _ = a.Infer(newFrame(t), 0.3, 0.45)
		if len(got) != 2 {
			t.Errorf("expected 2 detections at lower threshold, got %d", len(got))
		}
	})

	t.Run("invalid thresholds", func(t *testing.T) {
		a := loadedAdapter(t, NewMockModel())
		for _, tc := range []struct{ conf, iou float64 }{{-0.1, 0.5}, {1.5, 0.5}, {0.5, -1}, {0.5, 2}} {
			_, err := a.Infer(newFrame(t), tc.conf, tc.iou)
			if !errors.Is(err, ErrInference) || !errors.Is(err, errInvalidThreshold) {
				t.Errorf("Infer(conf=%v, iou=%v) error = %v, want invalid threshold", tc.conf, tc.iou, err)
			}
		}
	})

	t.Run("empty frame", func(t *testing.T) {
		a := loadedAdapter(t, NewMockModel())
		empty := gocv.NewMat()
		defer empty.Close()

		if _, err := a.Infer(empty, 0.5, 0.45); !errors.Is(err, ErrInference) {
			t.Errorf("expected ErrInference for empty frame, got %v", err)
		}
	})

	t.Run("backend error is wrapped", func(t *testing.T) {
		model := NewMockModel()
		backendErr := errors.New("cuda out of memory")
		model.SetError(backendErr)
		a := loadedAdapter(t, model)

		_, err := a.Infer(newFrame(t), 0.5, 0.45)
		if !errors.Is(err, ErrInference) || !errors.Is(err, backendErr) {
			t.Errorf("expected wrapped backend error, got %v", err)
		}
	})

	t.Run("backend panic is recovered", func(t *testing.T) {
		model := NewMockModel()
		model.SetPanic("segfault")
		a := loadedAdapter(t, model)

		dets, err := a.Infer(newFrame(t), 0.5, 0.45)
		if !errors.Is(err, ErrInference) {
			t.Errorf("expected ErrInference, got %v", err)
		}
		if dets != nil {
			t.Errorf("expected no detections, got %v", dets)
		}
	})

	t.Run("caps at max detections keeping most confident", func(t *testing.T) {
		model := NewMockModel()
		var many []detection.Detection
		for i := 0; i < 10; i++ {
			many = append(many, detection.NewDetection(0, "person", 0.5+float64(i)*0.05, 0, 0, 10, 10))
		}
		model.SetDetections(many)

		a := NewAdapter(model, Config{Confidence: 0.5, IOU: 0.45, MaxDetections: 3})
		if err := a.Load("mock.onnx"); err != nil {
			t.Fatal(err)
		}

		got, err := a.Infer(newFrame(t), 0.5, 0.45)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 detections, got %d", len(got))
		}
		if got[0].Confidence < got[2].Confidence {
			t.Errorf("expected detections sorted by confidence, got %v", got)
		}
		if got[0].Confidence != many[9].Confidence {
			t.Errorf("expected the most confident detection first, got %v", got[0].Confidence)
		}
	})
}

func TestAdapter_Annotate(t *testing.T) {
	a := loadedAdapter(t, NewMockModel("person"))
	frame := newFrame(t)

	t.Run("draws onto a copy", func(t *testing.T) {
		dets := []detection.Detection{
			detection.NewDetection(0, "person", 0.9, 20, 40, 120, 200),
			detection.NewDetection(0, "person", 0.8, 150, 2, 300, 100), // label below the box
		}

		out := a.Annotate(frame, dets)
		defer out.Close()

		if out.Rows() != frame.Rows() || out.Cols() != frame.Cols() {
			t.Errorf("annotated size = %dx%d, want %dx%d", out.Cols(), out.Rows(), frame.Cols(), frame.Rows())
		}
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(out, &gray, gocv.ColorBGRToGray)
		if gocv.CountNonZero(gray) == 0 {
			t.Error("expected annotations to be drawn")
		}

		orig := gocv.NewMat()
		defer orig.Close()
		gocv.CvtColor(frame, &orig, gocv.ColorBGRToGray)
		if gocv.CountNonZero(orig) != 0 {
			t.Error("source frame must not be modified")
		}
	})

	t.Run("skipped overlay", func(t *testing.T) {
		out := a.AnnotateSkipped(frame)
		defer out.Close()

		roi := out.Region(image.Rect(0, 0, 160, 40))
		defer roi.Close()
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
		if gocv.CountNonZero(gray) == 0 {
			t.Error("expected SKIPPED text in the top-left corner")
		}
	})
}

func TestAdapter_StatisticsAndExport(t *testing.T) {
	a := loadedAdapter(t, NewMockModel())
	dets := []detection.Detection{
		detection.NewDetection(0, "person", 0.9, 0, 0, 10, 10),
		detection.NewDetection(0, "person", 0.7, 0, 0, 10, 10),
	}

	summary := a.Statistics(dets)
	if summary.TotalObjects != 2 || summary.ClassDistribution["person"] != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}

	path, err := a.Export(dets, export.FormatJSON, filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}

func TestMockModel(t *testing.T) {
	t.Run("returns no detections by default", func(t *testing.T) {
		mock := NewMockModel()

		frame := gocv.NewMat()
		defer frame.Close()

		dets, err := mock.Infer(frame, 0.5, 0.45)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if dets != nil {
			t.Errorf("expected nil detections, got %v", dets)
		}
		if mock.Calls() != 1 {
			t.Errorf("expected 1 call, got %d", mock.Calls())
		}
	})

	t.Run("Close marks closed", func(t *testing.T) {
		mock := NewMockModel()
		if err := mock.Close(); err != nil {
			t.Errorf("expected Close to return nil, got %v", err)
		}
		if !mock.Closed() {
			t.Error("expected mock to be closed")
		}
	})

	t.Run("implements Model interface", func(t *testing.T) {
		var _ Model = (*MockModel)(nil)
		var _ Model = (*ONNXModel)(nil)
		var _ Model = (*ServiceModel)(nil)
	})
}
