package images

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nvr-ai/go-pothole/common"
)

// Rect is a lightweight integer rectangle in pixel space.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// RectFromBox clips box to a width x height frame and snaps it to whole pixels.
func RectFromBox(box common.BoundingBox, width, height int) Rect {
	clipped := box.Clip(float32(width), float32(height))
	return Rect{
		X1: int(clipped.X1),
		Y1: int(clipped.Y1),
		X2: int(clipped.X2),
		Y2: int(clipped.Y2),
	}
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// AnnotateOptions controls how detections are drawn.
type AnnotateOptions struct {
	// Color of the box outline and label background.
	Color color.Color
	// Thickness of the outline in pixels.
	Thickness int
	// ShowLabel draws "label 0.87" above each box.
	ShowLabel bool
}

// DefaultAnnotateOptions draws 2px red outlines with labels.
func DefaultAnnotateOptions() AnnotateOptions {
	return AnnotateOptions{
		Color:     color.NRGBA{R: 255, G: 0, B: 0, A: 255},
		Thickness: 2,
		ShowLabel: true,
	}
}

// Annotate returns a copy of img with every box outlined.
//
// Boxes are expected in source pixel coordinates and are clipped to the image, so
// detections that extend into the letterbox padding are still drawn.
//
// Arguments:
//   - img: The source image.
//   - boxes: Detections in img's coordinate space.
//   - opts: Drawing options.
//
// Returns:
//   - *image.NRGBA: The annotated copy.
func Annotate(img image.Image, boxes []common.BoundingBox, opts AnnotateOptions) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)

	if opts.Thickness <= 0 {
		opts.Thickness = 1
	}
	fill := image.NewUniform(opts.Color)

	for _, box := range boxes {
		r := RectFromBox(box, out.Rect.Dx(), out.Rect.Dy())
		if r.Empty() {
			continue
		}
		drawOutline(out, r, fill, opts.Thickness)
		if opts.ShowLabel {
			drawLabel(out, r, fmt.Sprintf("%s %.2f", box.Label, box.Confidence), fill)
		}
	}
	return out
}

func drawOutline(dst draw.Image, r Rect, src image.Image, thickness int) {
	t := thickness
	edges := []image.Rectangle{
		image.Rect(r.X1, r.Y1, r.X2, r.Y1+t),
		image.Rect(r.X1, r.Y2-t, r.X2, r.Y2),
		image.Rect(r.X1, r.Y1, r.X1+t, r.Y2),
		image.Rect(r.X2-t, r.Y1, r.X2, r.Y2),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel renders text on a filled strip above r, or inside it when r touches the top edge.
func drawLabel(dst draw.Image, r Rect, text string, background image.Image) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := r.Y1 - height
	if top < 0 {
		top = r.Y1
	}
	strip := image.Rect(r.X1, top, r.X1+width, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, strip, background, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(r.X1 + 2), Y: fixed.I(top + face.Metrics().Ascent.Ceil() + 1)},
	}
	d.DrawString(text)
}
