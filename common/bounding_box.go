// Package common - Shared geometry, tensor and error types for the detection pipeline.
package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// DefaultLabel is the class name emitted by the single-class pothole detector.
const DefaultLabel = "pothole"

// BoundingBox represents a bounding box with its label, confidence, and coordinates.
//
// Coordinates are in model space until the box has been rescaled, and in source-image
// pixels afterwards. X1 <= X2 and Y1 <= Y2 hold for every box the pipeline produces.
type BoundingBox struct {
	Label      string  `json:"label" yaml:"label"`
	Confidence float32 `json:"confidence" yaml:"confidence"`
	X1         float32 `json:"x1" yaml:"x1"`
	Y1         float32 `json:"y1" yaml:"y1"`
	X2         float32 `json:"x2" yaml:"x2"`
	Y2         float32 `json:"y2" yaml:"y2"`
}

// String formats the bounding box information for display.
//
// @example
// box := BoundingBox{Label: "pothole", Confidence: 0.9, X1: 10, Y1: 20, X2: 30, Y2: 40}
// fmt.Println(box.String()) // Object pothole (confidence 0.900000): (10.00, 20.00), (30.00, 40.00)
func (b BoundingBox) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%.2f, %.2f), (%.2f, %.2f)",
		b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent of the box, never negative.
func (b BoundingBox) Width() float32 {
	return math32.Max(0, b.X2-b.X1)
}

// Height returns the vertical extent of the box, never negative.
func (b BoundingBox) Height() float32 {
	return math32.Max(0, b.Y2-b.Y1)
}

// Area returns the area of the box in square pixels.
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// ToRect converts the bounding box to an image.Rectangle.
//
// This loses precision, but only fractional pixels around the edges, which is
// fine for drawing or cropping.
//
// @example
// box := BoundingBox{X1: 100.5, Y1: 100.5, X2: 200.5, Y2: 300.5}
// rect := box.ToRect() // (100,100)-(200,300)
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Clip returns a copy of the box limited to [0, width] x [0, height].
//
// The pipeline itself never clips: boxes overlapping the letterbox padding may
// extend past the source frame, and callers clip at display time.
//
// Arguments:
//   - width: The width of the frame to clip against.
//   - height: The height of the frame to clip against.
//
// Returns:
//   - BoundingBox: The clipped box.
func (b BoundingBox) Clip(width, height float32) BoundingBox {
	b.X1 = Clamp(b.X1, 0, width)
	b.Y1 = Clamp(b.Y1, 0, height)
	b.X2 = Clamp(b.X2, 0, width)
	b.Y2 = Clamp(b.Y2, 0, height)
	return b
}

// IoU returns the Intersection over Union of b and other.
func (b BoundingBox) IoU(other BoundingBox) float32 {
	return IoU(b, other)
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// The intersection extents are clamped at zero, so disjoint or zero-area boxes
// give an intersection of 0. A union that is not strictly positive (both boxes
// degenerate, or NaN coordinates) yields 0 instead of NaN or Inf.
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float32: The IoU in [0, 1].
//
// @example
// a := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// b := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// iou := IoU(a, b) // ~0.143 (2500/17500)
func IoU(a, b BoundingBox) float32 {
	iw := math32.Max(0, math32.Min(a.X2, b.X2)-math32.Max(a.X1, b.X1))
	ih := math32.Max(0, math32.Min(a.Y2, b.Y2)-math32.Max(a.Y1, b.Y1))
	intersection := iw * ih

	union := a.Area() + b.Area() - intersection
	if !(union > 0) {
		return 0
	}

	iou := intersection / union
	if math32.IsNaN(iou) {
		return 0
	}
	return iou
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}
