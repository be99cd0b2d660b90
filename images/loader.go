package images

import (
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Registers additional decoders with image.Decode.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decode reads an encoded image (JPEG, PNG, GIF, BMP, TIFF or WebP) and applies the
// EXIF orientation tag, so that phone and dashcam photos come out upright.
//
// Arguments:
//   - r: The encoded image stream.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the stream could not be decoded.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}

// DecodeBytes decodes an in-memory encoded image.
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}

// Load opens and decodes the image file at path.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "load image %s", path)
	}
	return img, nil
}

// LoadRaster opens the image at path and converts it to a Raster.
func LoadRaster(path string) (Raster, error) {
	img, err := Load(path)
	if err != nil {
		return Raster{}, err
	}
	return FromImage(img), nil
}

// Save encodes img to path, choosing the format from the file extension.
func Save(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "save image %s", path)
	}
	return nil
}
