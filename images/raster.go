// Package images - Raster definition and decoding utilities for detector input.
package images

import (
	"image"
	"image/draw"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pothole/common"
)

// BytesPerPixel is the size of one RGBA8 pixel.
const BytesPerPixel = 4

// Raster is a row-major RGBA8 image.
//
// Pixel (x, y) starts at Pix[y*Stride + 4*x] and holds R, G, B, A in that order.
// Color values are not premultiplied. Alpha is ignored by the detector.
type Raster struct {
	// The width of the raster in pixels.
	Width int `json:"width" yaml:"width"`
	// The height of the raster in pixels.
	Height int `json:"height" yaml:"height"`
	// The number of bytes between the starts of consecutive rows.
	Stride int `json:"stride" yaml:"stride"`
	// The pixel data.
	Pix []uint8 `json:"-" yaml:"-"`
}

// NewRaster allocates a zeroed, tightly packed raster.
func NewRaster(width, height int) Raster {
	return Raster{
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		Pix:    make([]uint8, width*height*BytesPerPixel),
	}
}

// Validate checks that the dimensions are positive and that Pix covers every row.
//
// Returns:
//   - error: common.ErrInvalidInput (wrapped) if the raster cannot be read safely.
func (r Raster) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Wrapf(common.ErrInvalidInput, "dimensions %dx%d", r.Width, r.Height)
	}
	if r.Stride < r.Width*BytesPerPixel {
		return errors.Wrapf(common.ErrInvalidInput, "stride %d < %d", r.Stride, r.Width*BytesPerPixel)
	}
	need := r.Stride*(r.Height-1) + r.Width*BytesPerPixel
	if len(r.Pix) < need {
		return errors.Wrapf(common.ErrInvalidInput, "pixel buffer holds %d bytes, need %d", len(r.Pix), need)
	}
	return nil
}

// Image returns an *image.NRGBA that shares Pix with the raster.
//
// The raster must be valid; Image does not copy or check the buffer.
func (r Raster) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    r.Pix,
		Stride: r.Stride,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

// FromImage converts any image.Image into a tightly packed raster.
//
// *image.NRGBA inputs are copied row by row. Everything else goes through
// image/draw, which un-premultiplies RGBA sources.
//
// Arguments:
//   - img: The image to convert.
//
// Returns:
//   - Raster: A raster owning its own pixel buffer.
//
// @example
// img, _ := images.Load("road.jpg")
// raster := images.FromImage(img)
func FromImage(img image.Image) Raster {
	bounds := img.Bounds()
	out := NewRaster(bounds.Dx(), bounds.Dy())

	if src, ok := img.(*image.NRGBA); ok {
		rowBytes := out.Width * BytesPerPixel
		for y := 0; y < out.Height; y++ {
			offset := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+rowBytes], src.Pix[offset:offset+rowBytes])
		}
		return out
	}

	draw.Draw(out.Image(), image.Rect(0, 0, out.Width, out.Height), img, bounds.Min, draw.Src)
	return out
}
