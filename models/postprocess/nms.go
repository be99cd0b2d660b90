package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-pothole/common"
)

// DefaultIoUThreshold is the overlap at which a lower-confidence box is suppressed.
const DefaultIoUThreshold = 0.45

// NMS performs greedy Non-Maximum Suppression.
//
// Boxes are visited in descending confidence. Equal confidences keep their input
// order. A box is kept unless its IoU with an already kept box is >= iouThreshold.
//
// Arguments:
//   - boxes: Candidate boxes. The slice is not modified.
//   - iouThreshold: IoU at or above which overlapping boxes are suppressed.
//
// Returns:
//   - []common.BoundingBox: The kept boxes, highest confidence first. Empty, not nil,
//     for empty input.
//
// @example
// kept := NMS([]common.BoundingBox{
//
//	{Confidence: 0.9, X1: 0, Y1: 0, X2: 100, Y2: 100},
//	{Confidence: 0.7, X1: 10, Y1: 10, X2: 110, Y2: 110},
//
// }, 0.45) // keeps only the 0.9 box
func NMS(boxes []common.BoundingBox, iouThreshold float32) []common.BoundingBox {
	n := len(boxes)
	if n == 0 {
		return []common.BoundingBox{}
	}

	sorted := make([]common.BoundingBox, n)
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]common.BoundingBox, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		kept = append(kept, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if common.IoU(anchor, sorted[j]) >= iouThreshold {
				used[j] = true
			}
		}
	}

	return kept
}
