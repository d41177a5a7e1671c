// Package detection defines the result record produced by object detection.
package detection

import (
	"image"
	"math"
)

// Detection is one object reported by the model for a single frame.
// BBox is x1, y1, x2, y2 in pixel coordinates of the source frame.
type Detection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Center     [2]float64 `json:"center"`
}

// NewDetection builds a Detection, ordering the box corners so that
// x1 < x2 and y1 < y2 and deriving the center from the box.
// Confidence is clamped to [0, 1].
func NewDetection(classID int, className string, confidence, x1, y1, x2, y2 float64) Detection {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	return Detection{
		ClassID:    classID,
		ClassName:  className,
		Confidence: math.Max(0, math.Min(1, confidence)),
		BBox:       [4]float64{x1, y1, x2, y2},
		Center:     [2]float64{(x1 + x2) / 2, (y1 + y2) / 2},
	}
}

// Width returns the box width in pixels.
func (d Detection) Width() float64 {
	return d.BBox[2] - d.BBox[0]
}

// Height returns the box height in pixels.
func (d Detection) Height() float64 {
	return d.BBox[3] - d.BBox[1]
}

// Rect returns the box as an integer rectangle for drawing.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3]))
}
