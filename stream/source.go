package stream

import (
	"context"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-pothole/images"
)

// FrameSource yields frames until it returns io.EOF.
type FrameSource interface {
	// Next returns the next frame. Each call returns a raster the caller owns.
	Next(ctx context.Context) (images.Raster, error)
	Close() error
}

// CaptureSource reads frames from a camera or video file through OpenCV.
type CaptureSource struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	name    string
}

// OpenCapture opens a capture device. A numeric name selects a camera index;
// anything else is treated as a file path or stream URL.
//
// Arguments:
//   - name: "0" for the first camera, or a path such as "dashcam.mp4".
//
// Returns:
//   - *CaptureSource: The open source. Close it when done.
//   - error: An error if OpenCV cannot open the device.
func OpenCapture(name string) (*CaptureSource, error) {
	var device interface{} = name
	if id, err := strconv.Atoi(name); err == nil {
		device = id
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "open video capture %s", name)
	}
	return &CaptureSource{
		capture: capture,
		frame:   gocv.NewMat(),
		name:    name,
	}, nil
}

// Name returns the device name the source was opened with.
func (s *CaptureSource) Name() string {
	return s.name
}

// Next reads and converts the next frame. It returns io.EOF when the capture
// has no more frames.
func (s *CaptureSource) Next(ctx context.Context) (images.Raster, error) {
	for {
		if err := ctx.Err(); err != nil {
			return images.Raster{}, err
		}
		if ok := s.capture.Read(&s.frame); !ok {
			return images.Raster{}, io.EOF
		}
		// Cameras occasionally deliver empty frames while warming up.
		if s.frame.Empty() {
			continue
		}
		return images.FromMat(s.frame)
	}
}

// Close releases the frame buffer and the capture device.
func (s *CaptureSource) Close() error {
	if err := s.frame.Close(); err != nil {
		return errors.Wrap(err, "close frame")
	}
	return errors.Wrap(s.capture.Close(), "close capture")
}

// SliceSource replays in-memory frames, for tests and still-image batches.
type SliceSource struct {
	frames []images.Raster
	next   int
}

// NewSliceSource returns a source that yields frames in order.
func NewSliceSource(frames ...images.Raster) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (images.Raster, error) {
	if err := ctx.Err(); err != nil {
		return images.Raster{}, err
	}
	if s.next >= len(s.frames) {
		return images.Raster{}, io.EOF
	}
	frame := s.frames[s.next]
	s.next++
	return frame, nil
}

// Close does nothing.
func (s *SliceSource) Close() error {
	return nil
}
