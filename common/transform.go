package common

// TransformParams records the letterbox transform applied to a source raster so
// that model-space coordinates can be mapped back to source pixels.
//
// ScaledWidth, ScaledHeight, PadX and PadY are the values that were actually used
// to draw the source into the model canvas. They are never recomputed downstream.
type TransformParams struct {
	// Scale is min(ModelWidth/SourceWidth, ModelHeight/SourceHeight).
	Scale float64 `json:"scale"`
	// ScaledWidth is round(SourceWidth*Scale).
	ScaledWidth int `json:"scaled_width"`
	// ScaledHeight is round(SourceHeight*Scale).
	ScaledHeight int `json:"scaled_height"`
	// PadX is the left padding: (ModelWidth-ScaledWidth)/2.
	PadX int `json:"pad_x"`
	// PadY is the top padding: (ModelHeight-ScaledHeight)/2.
	PadY int `json:"pad_y"`
	// SourceWidth is the width of the source raster.
	SourceWidth int `json:"source_width"`
	// SourceHeight is the height of the source raster.
	SourceHeight int `json:"source_height"`
}

// ToSource maps a model-space point to source-image pixels.
//
// Arguments:
//   - x: The model-space x coordinate.
//   - y: The model-space y coordinate.
//
// Returns:
//   - float32, float32: The source-space coordinates. Points inside the padding
//     map outside [0, SourceWidth] x [0, SourceHeight] and are not clamped.
func (t TransformParams) ToSource(x, y float32) (float32, float32) {
	sx := (float64(x) - float64(t.PadX)) / t.Scale
	sy := (float64(y) - float64(t.PadY)) / t.Scale
	return float32(sx), float32(sy)
}

// ToModel maps a source-image point into model space. It is the inverse of ToSource.
func (t TransformParams) ToModel(x, y float32) (float32, float32) {
	mx := float64(x)*t.Scale + float64(t.PadX)
	my := float64(y)*t.Scale + float64(t.PadY)
	return float32(mx), float32(my)
}

// ContentRect returns the model-space region covered by the scaled source image.
func (t TransformParams) ContentRect() BoundingBox {
	return BoundingBox{
		X1: float32(t.PadX),
		Y1: float32(t.PadY),
		X2: float32(t.PadX + t.ScaledWidth),
		Y2: float32(t.PadY + t.ScaledHeight),
	}
}
