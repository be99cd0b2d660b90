package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-pothole/common"
)

// FromMat converts a BGR frame read from a gocv capture into an RGBA8 raster.
//
// Arguments:
//   - mat: A non-empty 3-channel BGR Mat, as produced by gocv.VideoCapture.Read.
//
// Returns:
//   - Raster: A raster owning a copy of the converted pixels.
//   - error: common.ErrInvalidInput (wrapped) if the Mat is empty or not 8-bit BGR.
func FromMat(mat gocv.Mat) (Raster, error) {
	if mat.Empty() {
		return Raster{}, errors.Wrap(common.ErrInvalidInput, "empty frame")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return Raster{}, errors.Wrapf(common.ErrInvalidInput, "frame type %v, want CV_8UC3", mat.Type())
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(mat, &rgba, gocv.ColorBGRToRGBA)

	raster := Raster{
		Width:  rgba.Cols(),
		Height: rgba.Rows(),
		Stride: rgba.Cols() * BytesPerPixel,
		Pix:    rgba.ToBytes(),
	}
	return raster, raster.Validate()
}
