package capture

import (
	"errors"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/testdata"
)

func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path, err := testdata.WriteImage(dir, "still.png", gocv.NewScalar(10, 20, 30, 0))
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImageFile(t *testing.T) {
	src := NewImageFile(writeImage(t, t.TempDir()))

	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	if src.TotalFrames() != 1 || src.NativeFPS() != 0 || src.Kind() != KindImage {
		t.Errorf("unexpected metadata total=%d fps=%v kind=%v", src.TotalFrames(), src.NativeFPS(), src.Kind())
	}

	f, err := src.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Mat.Cols() != 64 || f.Mat.Rows() != 48 {
		t.Errorf("image size = %dx%d, want 64x48", f.Mat.Cols(), f.Mat.Rows())
	}
	if px := f.Mat.GetVecbAt(0, 0); px[0] != 10 || px[2] != 30 {
		t.Errorf("expected BGR order preserved, got %v", px)
	}
	f.Close()

	if _, err := src.Read(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("second Read() error = %v, want ErrEndOfStream", err)
	}

	// Seeking anywhere rewinds to the single frame
	if err := src.Seek(5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	f, err = src.Read()
	if err != nil {
		t.Fatalf("Read() after seek error = %v", err)
	}
	f.Close()
}

func TestImageFile_Unavailable(t *testing.T) {
	dir := t.TempDir()

	missing := NewImageFile(filepath.Join(dir, "missing.png"))
	if err := missing.Open(); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Open() missing file error = %v, want ErrSourceUnavailable", err)
	}
}

func TestVideoFile(t *testing.T) {
	path, err := testdata.WriteVideo(t.TempDir(), "clip.avi", 6, 10)
	if errors.Is(err, testdata.ErrNoCodec) {
		t.Skipf("skipping test - %v", err)
	}
	if err != nil {
		t.Fatal(err)
	}

	src := NewVideoFile(path)
	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	if src.TotalFrames() != 6 {
		t.Errorf("TotalFrames() = %d, want 6", src.TotalFrames())
	}
	if src.NativeFPS() != 10 {
		t.Errorf("NativeFPS() = %v, want 10", src.NativeFPS())
	}

	if err := src.Seek(100); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	f, err := src.Read()
	if err != nil {
		t.Fatalf("Read() after seek error = %v", err)
	}
	if f.Index != 5 {
		t.Errorf("Index = %d after clamped seek, want 5", f.Index)
	}
	f.Close()

	if _, err := src.Read(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Read() past end error = %v, want ErrEndOfStream", err)
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestVideoFile_Unavailable(t *testing.T) {
	src := NewVideoFile(filepath.Join(t.TempDir(), "missing.mp4"))
	if err := src.Open(); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Open() error = %v, want ErrSourceUnavailable", err)
	}
	if _, err := src.Read(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Read() error = %v, want ErrNotOpen", err)
	}
}
