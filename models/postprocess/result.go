// Package postprocess - Decoding, suppression and rescaling of raw detector output.
package postprocess

import "github.com/nvr-ai/go-pothole/common"

// RawDetection is one decoded candidate in model-input pixel space.
type RawDetection struct {
	// CX is the horizontal center of the box.
	CX float32
	// CY is the vertical center of the box.
	CY float32
	// W is the box width, never negative.
	W float32
	// H is the box height, never negative.
	H float32
	// Confidence is the objectness score in [0, 1].
	Confidence float32
}

// Box converts the center/size form into a corner-form bounding box.
//
// Arguments:
//   - label: The class name to attach.
//
// Returns:
//   - common.BoundingBox: The box in model space, with X1 <= X2 and Y1 <= Y2.
func (d RawDetection) Box(label string) common.BoundingBox {
	return common.BoundingBox{
		Label:      label,
		Confidence: d.Confidence,
		X1:         d.CX - d.W/2,
		Y1:         d.CY - d.H/2,
		X2:         d.CX + d.W/2,
		Y2:         d.CY + d.H/2,
	}
}

// Boxes converts every detection with Box.
func Boxes(detections []RawDetection, label string) []common.BoundingBox {
	boxes := make([]common.BoundingBox, len(detections))
	for i, d := range detections {
		boxes[i] = d.Box(label)
	}
	return boxes
}
