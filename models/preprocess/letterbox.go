// Package preprocess - Letterbox resizing and tensor conversion for detector input.
package preprocess

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/images"
)

// DefaultPadValue is the gray level used to fill the letterbox border.
const DefaultPadValue = 114

// DefaultInterpolation is the resampling filter used when none is configured.
const DefaultInterpolation = "bilinear"

// interpolations maps configuration names to nfnt/resize filters.
var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation resolves a filter name. The empty string selects the default.
//
// Arguments:
//   - name: One of nearest, bilinear, bicubic, mitchell, lanczos2, lanczos3.
//
// Returns:
//   - resize.InterpolationFunction: The filter.
//   - error: An error if the name is unknown.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		name = DefaultInterpolation
	}
	fn, ok := interpolations[strings.ToLower(name)]
	if !ok {
		return 0, errors.Errorf("unknown interpolation %q", name)
	}
	return fn, nil
}

// Options defines the model input geometry and letterbox settings.
type Options struct {
	// ModelWidth is the width of the model input.
	ModelWidth int `json:"model_width" yaml:"model_width"`
	// ModelHeight is the height of the model input.
	ModelHeight int `json:"model_height" yaml:"model_height"`
	// PadValue is the gray level of the letterbox border.
	PadValue uint8 `json:"pad_value" yaml:"pad_value"`
	// Interpolation names the resampling filter, see ParseInterpolation.
	Interpolation string `json:"interpolation" yaml:"interpolation"`
}

// DefaultOptions returns 640x640 options with a gray 114 border and bilinear scaling.
func DefaultOptions() Options {
	return Options{
		ModelWidth:    640,
		ModelHeight:   640,
		PadValue:      DefaultPadValue,
		Interpolation: DefaultInterpolation,
	}
}

// TensorLen returns the number of floats in a tensor for these options.
func (o Options) TensorLen() int {
	return common.Channels * o.ModelWidth * o.ModelHeight
}

// Validate checks the model dimensions and the filter name.
func (o Options) Validate() error {
	if o.ModelWidth <= 0 || o.ModelHeight <= 0 {
		return errors.Errorf("invalid model dimensions: %dx%d", o.ModelWidth, o.ModelHeight)
	}
	_, err := ParseInterpolation(o.Interpolation)
	return err
}

// ComputeTransform derives the letterbox geometry for a source of srcWidth x srcHeight
// scaled into a modelWidth x modelHeight canvas.
//
// The scaled size is rounded to the nearest pixel and kept within [1, model dimension],
// and the padding splits the remainder with the extra pixel, if any, on the right or
// bottom.
//
// Arguments:
//   - srcWidth: Source width, > 0.
//   - srcHeight: Source height, > 0.
//   - modelWidth: Model input width, > 0.
//   - modelHeight: Model input height, > 0.
//
// Returns:
//   - common.TransformParams: The transform that Preprocess draws with.
//
// @example
// t := ComputeTransform(1280, 720, 640, 640)
// // t.Scale == 0.5, t.ScaledWidth == 640, t.ScaledHeight == 360, t.PadX == 0, t.PadY == 140
func ComputeTransform(srcWidth, srcHeight, modelWidth, modelHeight int) common.TransformParams {
	scale := math.Min(
		float64(modelWidth)/float64(srcWidth),
		float64(modelHeight)/float64(srcHeight),
	)

	scaledWidth := clampInt(int(math.Round(float64(srcWidth)*scale)), 1, modelWidth)
	scaledHeight := clampInt(int(math.Round(float64(srcHeight)*scale)), 1, modelHeight)

	return common.TransformParams{
		Scale:        scale,
		ScaledWidth:  scaledWidth,
		ScaledHeight: scaledHeight,
		PadX:         (modelWidth - scaledWidth) / 2,
		PadY:         (modelHeight - scaledHeight) / 2,
		SourceWidth:  srcWidth,
		SourceHeight: srcHeight,
	}
}

// Preprocess letterboxes r into a newly allocated [1, 3, H, W] tensor.
//
// Arguments:
//   - r: The source raster. It is never modified.
//   - opts: The model geometry.
//
// Returns:
//   - common.Tensor: Planar RGB values in [0, 1].
//   - common.TransformParams: The geometry needed to map detections back to r.
//   - error: common.ErrInvalidInput (wrapped) if r is unreadable.
//
// @example
// tensor, transform, err := preprocess.Preprocess(raster, preprocess.DefaultOptions())
//
//	if err != nil {
//	    return err
//	}
func Preprocess(r images.Raster, opts Options) (common.Tensor, common.TransformParams, error) {
	if err := opts.Validate(); err != nil {
		return common.Tensor{}, common.TransformParams{}, err
	}
	data := make([]float32, opts.TensorLen())
	transform, err := PreprocessInto(r, opts, data)
	if err != nil {
		return common.Tensor{}, common.TransformParams{}, err
	}
	return common.WrapTensor(data, opts.ModelWidth, opts.ModelHeight), transform, nil
}

// PreprocessInto is Preprocess writing into a caller-owned buffer, so that tensors
// can be pooled across frames. Every element of dst is overwritten.
//
// Arguments:
//   - r: The source raster.
//   - opts: The model geometry.
//   - dst: A buffer of exactly opts.TensorLen() floats.
//
// Returns:
//   - common.TransformParams: The geometry used to draw r into dst.
//   - error: An error if r is invalid or dst has the wrong length.
func PreprocessInto(r images.Raster, opts Options, dst []float32) (common.TransformParams, error) {
	if err := r.Validate(); err != nil {
		return common.TransformParams{}, err
	}
	filter, err := ParseInterpolation(opts.Interpolation)
	if err != nil {
		return common.TransformParams{}, err
	}
	if opts.ModelWidth <= 0 || opts.ModelHeight <= 0 {
		return common.TransformParams{}, errors.Errorf("invalid model dimensions: %dx%d", opts.ModelWidth, opts.ModelHeight)
	}
	if len(dst) != opts.TensorLen() {
		return common.TransformParams{}, errors.Errorf("tensor buffer holds %d floats, need %d", len(dst), opts.TensorLen())
	}

	transform := ComputeTransform(r.Width, r.Height, opts.ModelWidth, opts.ModelHeight)
	canvas := letterbox(r, transform, opts, filter)
	toPlanar(canvas, dst)

	return transform, nil
}

// letterbox draws the scaled source onto a gray canvas of the model size.
func letterbox(r images.Raster, t common.TransformParams, opts Options, filter resize.InterpolationFunction) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, opts.ModelWidth, opts.ModelHeight))
	pad := color.RGBA{R: opts.PadValue, G: opts.PadValue, B: opts.PadValue, A: 255}
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: pad}, image.Point{}, draw.Src)

	var scaled image.Image = r.Image()
	if t.ScaledWidth != r.Width || t.ScaledHeight != r.Height {
		scaled = resize.Resize(uint(t.ScaledWidth), uint(t.ScaledHeight), scaled, filter)
	}

	dstRect := image.Rect(t.PadX, t.PadY, t.PadX+t.ScaledWidth, t.PadY+t.ScaledHeight)
	draw.Draw(canvas, dstRect, scaled, scaled.Bounds().Min, draw.Over)
	return canvas
}

// toPlanar writes the canvas as planar R, G, B planes scaled to [0, 1].
//
// The canvas is fully opaque after compositing onto the gray fill, so its
// premultiplied values equal the straight values.
func toPlanar(canvas *image.RGBA, dst []float32) {
	width := canvas.Rect.Dx()
	height := canvas.Rect.Dy()
	plane := width * height

	for y := 0; y < height; y++ {
		row := canvas.Pix[y*canvas.Stride : y*canvas.Stride+width*4]
		base := y * width
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			dst[base+x] = float32(px[0]) / 255.0
			dst[plane+base+x] = float32(px[1]) / 255.0
			dst[2*plane+base+x] = float32(px[2]) / 255.0
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
