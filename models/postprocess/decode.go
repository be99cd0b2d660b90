package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pothole/common"
)

// Fields is the number of values per candidate: cx, cy, w, h, confidence.
const Fields = 5

// DefaultNumBoxes is the candidate count of a 640x640 single-class YOLOv8 head.
const DefaultNumBoxes = 8400

// DefaultConfidenceThreshold is the minimum confidence a candidate needs to be kept.
const DefaultConfidenceThreshold = 0.5

// DecodeOptions describes the layout of the raw output and the confidence filter.
type DecodeOptions struct {
	// NumBoxes is the number of candidates in the output.
	NumBoxes int `json:"num_boxes" yaml:"num_boxes"`
	// ConfidenceThreshold keeps candidates with confidence >= threshold.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// Decode reads a channel-major [1, 5, NumBoxes] output buffer and returns the
// candidates whose confidence reaches the threshold, in buffer order.
//
// The buffer holds NumBoxes center-x values, then NumBoxes center-y values, then
// widths, heights and confidences. Confidences above 1 are clamped to 1 and NaN
// confidences never pass. Negative or NaN sizes become 0.
//
// Arguments:
//   - buf: The raw output of the engine.
//   - opts: The layout and threshold.
//
// Returns:
//   - []RawDetection: The surviving candidates. Empty, not nil, when none pass.
//   - error: common.ErrMalformedOutput (wrapped) if len(buf) != 5*NumBoxes.
func Decode(buf []float32, opts DecodeOptions) ([]RawDetection, error) {
	n := opts.NumBoxes
	if n <= 0 || len(buf) != Fields*n {
		return nil, errors.Wrapf(common.ErrMalformedOutput,
			"output holds %d values, want %d (%d x %d)", len(buf), Fields*n, Fields, n)
	}

	cx := buf[0*n : 1*n]
	cy := buf[1*n : 2*n]
	w := buf[2*n : 3*n]
	h := buf[3*n : 4*n]
	conf := buf[4*n : 5*n]

	detections := make([]RawDetection, 0)
	for i := 0; i < n; i++ {
		c := conf[i]
		// NaN fails this comparison.
		if !(c >= opts.ConfidenceThreshold) {
			continue
		}
		detections = append(detections, RawDetection{
			CX:         cx[i],
			CY:         cy[i],
			W:          nonNegative(w[i]),
			H:          nonNegative(h[i]),
			Confidence: math32.Min(c, 1),
		})
	}

	return detections, nil
}

func nonNegative(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	return v
}
