// Package export serializes detection results to files.
//
// Every writer creates missing parent directories and writes through a
// temporary file in the destination directory that is renamed into place,
// so a failed export never leaves a partial file behind.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/krypton/internal/detection"
)

var (
	// ErrIO is returned when an export or snapshot cannot be written.
	ErrIO = errors.New("export i/o failure")

	// ErrUnknownFormat is returned for unsupported export formats.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Format identifies an export file format.
type Format string

const (
	// FormatJSON writes an indented JSON array of detections.
	FormatJSON Format = "JSON"
	// FormatCSV writes a header row followed by one row per detection.
	FormatCSV Format = "CSV"
	// FormatTXT writes one human-readable line per detection.
	FormatTXT Format = "TXT"
	// FormatYOLO writes "class_id cx cy w h" per line. Coordinates are in
	// pixels, not the 0-1 range conventional for YOLO label files.
	FormatYOLO Format = "YOLO"
)

// Formats returns every supported format in menu order.
func Formats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatTXT, FormatYOLO}
}

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case FormatJSON, FormatCSV, FormatTXT, FormatYOLO:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Path returns the output file path for a path stub.
func (f Format) Path(stub string) string {
	switch f {
	case FormatCSV:
		return stub + ".csv"
	case FormatTXT:
		return stub + ".txt"
	case FormatYOLO:
		return stub + "_yolo.txt"
	default:
		return stub + ".json"
	}
}

// DefaultStub returns the timestamped stub used when the caller gives none.
func DefaultStub(dir string, now time.Time) string {
	return filepath.Join(dir, "detections_"+now.Format("20060102_150405"))
}

// Write serializes detections in the given format next to stub and returns
// the written file path.
func Write(detections []detection.Detection, format Format, stub string) (string, error) {
	if stub == "" {
		return "", fmt.Errorf("%w: empty output path", ErrIO)
	}

	var fill func(io.Writer) error
	switch format {
	case FormatJSON:
		fill = func(w io.Writer) error { return writeJSON(w, detections) }
	case FormatCSV:
		fill = func(w io.Writer) error { return writeCSV(w, detections) }
	case FormatTXT:
		fill = func(w io.Writer) error { return writeTXT(w, detections) }
	case FormatYOLO:
		fill = func(w io.Writer) error { return writeYOLO(w, detections) }
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	path := format.Path(stub)
	if err := WriteFile(path, fill); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile atomically replaces path with the bytes produced by fill.
func WriteFile(path string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory: %w", ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: rename into %s: %w", ErrIO, path, err)
	}

	return nil
}

// ReadJSON parses a file produced by a JSON export.
func ReadJSON(path string) ([]detection.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	var detections []detection.Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return detections, nil
}

func writeJSON(w io.Writer, detections []detection.Detection) error {
	if detections == nil {
		detections = []detection.Detection{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(detections)
}

var csvHeader = []string{"class_id", "class_name", "confidence", "bbox", "center"}

func writeCSV(w io.Writer, detections []detection.Detection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, d := range detections {
		bbox, err := json.Marshal(d.BBox)
		if err != nil {
			return err
		}
		center, err := json.Marshal(d.Center)
		if err != nil {
			return err
		}

		record := []string{
			strconv.Itoa(d.ClassID),
			d.ClassName,
			formatFloat(d.Confidence),
			string(bbox),
			string(center),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func writeTXT(w io.Writer, detections []detection.Detection) error {
	for _, d := range detections {
		_, err := fmt.Fprintf(w, "%s: %.2f at [%.1f, %.1f, %.1f, %.1f]\n",
			d.ClassName, d.Confidence, d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
		if err != nil {
			return err
		}
	}
	return nil
}

func writeYOLO(w io.Writer, detections []detection.Detection) error {
	for _, d := range detections {
		_, err := fmt.Fprintf(w, "%d %s %s %s %s\n",
			d.ClassID,
			formatFloat(d.Center[0]),
			formatFloat(d.Center[1]),
			formatFloat(d.Width()),
			formatFloat(d.Height()))
		if err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
