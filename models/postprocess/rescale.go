package postprocess

import "github.com/nvr-ai/go-pothole/common"

// Rescale maps model-space boxes back to source-image pixels by undoing the
// letterbox: x' = (x - PadX) / Scale, y' = (y - PadY) / Scale.
//
// Coordinates are not clamped. A box that overlaps the padding can come out with
// negative coordinates or extend past the source size. Use BoundingBox.Clip when
// drawing.
func Rescale(boxes []common.BoundingBox, t common.TransformParams) []common.BoundingBox {
	out := make([]common.BoundingBox, len(boxes))
	for i, b := range boxes {
		b.X1, b.Y1 = t.ToSource(b.X1, b.Y1)
		b.X2, b.Y2 = t.ToSource(b.X2, b.Y2)
		out[i] = b
	}
	return out
}
