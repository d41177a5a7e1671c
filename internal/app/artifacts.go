package app

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/export"
	"github.com/ayusman/krypton/internal/store"
)

// ExportResults writes the latest detections in format. An empty stub
// writes a timestamped file into the output directory.
func (a *App) ExportResults(format export.Format, stub string) (string, error) {
	dets := a.LastResults()
	if len(dets) == 0 {
		return "", ErrNoResults
	}
	if stub == "" {
		stub = export.DefaultStub(a.config.OutputDir, a.clock.Now())
	}

	path, err := a.detector.Export(dets, format, stub)
	if err != nil {
		return "", err
	}
	log.Printf("app: exported %d detections to %s", len(dets), path)

	summary := a.detector.Statistics(dets)
	a.record(&store.Artifact{
		Kind:       store.KindExport,
		Format:     strings.ToLower(string(format)),
		Path:       path,
		Detections: len(dets),
		Classes:    summary.ClassDistribution,
	})
	return path, nil
}

// Snapshot writes the latest annotated frame as a JPEG into the output
// directory and returns its path.
func (a *App) Snapshot() (string, error) {
	a.dataMu.RLock()
	if !a.hasFrame || a.lastFrame.Empty() {
		a.dataMu.RUnlock()
		return "", ErrNoFrame
	}
	buf, err := gocv.IMEncode(".jpg", a.lastFrame)
	detections := len(a.lastResults)
	a.dataMu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	defer buf.Close()

	name := "snapshot_" + a.clock.Now().Format("20060102_150405") + ".jpg"
	path := filepath.Join(a.config.OutputDir, name)

	err = export.WriteFile(path, func(w io.Writer) error {
		_, err := w.Write(buf.GetBytes())
		return err
	})
	if err != nil {
		return "", err
	}
	log.Printf("app: snapshot saved to %s", path)

	a.record(&store.Artifact{
		Kind:       store.KindSnapshot,
		Format:     "jpg",
		Path:       path,
		Detections: detections,
	})
	return path, nil
}

// Artifacts lists recorded artifacts of kind, or all kinds when kind is empty.
func (a *App) Artifacts(kind store.Kind) ([]*store.Artifact, error) {
	if a.config.Store == nil {
		return nil, nil
	}
	return a.config.Store.Artifacts().List(kind)
}

func (a *App) record(artifact *store.Artifact) {
	if a.config.Store == nil {
		return
	}
	if s, err := a.current(); err == nil {
		artifact.SourceKind = s.Kind().String()
	}
	if err := a.config.Store.Artifacts().Create(artifact); err != nil {
		log.Printf("app: record %s artifact: %v", artifact.Kind, err)
	}
}
