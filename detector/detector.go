// Package detector - Pothole detector: a state machine around the letterbox,
// inference, decode, NMS and rescale pipeline.
package detector

import (
	"context"
	"image"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/images"
	"github.com/nvr-ai/go-pothole/inference"
	"github.com/nvr-ai/go-pothole/models/postprocess"
	"github.com/nvr-ai/go-pothole/models/preprocess"
)

// State is the lifecycle stage of a Detector.
type State int32

const (
	// StateUninitialized is the state of a new detector.
	StateUninitialized State = iota
	// StateInitializing is held while the model loads.
	StateInitializing
	// StateReady accepts Detect calls.
	StateReady
	// StateFailed is terminal. Create a new detector to retry.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option customizes a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Detector) {
		if log != nil {
			d.log = log
		}
	}
}

// Detector finds potholes in images.
//
// Detect calls on one Detector must be serialized by the caller. State and Config
// may be called from any goroutine.
type Detector struct {
	cfg    Config
	source inference.ModelSource
	loader inference.Loader
	log    logrus.FieldLogger

	state  atomic.Int32
	engine inference.Engine

	// tensors pools []float32 buffers of cfg's tensor length.
	tensors sync.Pool
}

// New creates an uninitialized detector.
//
// Arguments:
//   - cfg: The detector settings, checked with Config.Validate.
//   - source: Where Initialize reads the model from.
//   - loader: Builds the engine from the model bytes.
//   - opts: Optional settings.
//
// Returns:
//   - *Detector: A detector in StateUninitialized.
//   - error: An error if cfg is invalid or source or loader is nil.
//
// @example
// d, err := detector.New(detector.DefaultConfig(), inference.FileSource("pothole.onnx"),
//
//	inference.NewONNXLoader(inference.ONNXOptions{}, log))
func New(cfg Config, source inference.ModelSource, loader inference.Loader, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("model source is required")
	}
	if loader == nil {
		return nil, errors.New("model loader is required")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	d := &Detector{
		cfg:    cfg,
		source: source,
		loader: loader,
		log:    discard,
	}
	size := cfg.PreprocessOptions().TensorLen()
	d.tensors.New = func() interface{} {
		buf := make([]float32, size)
		return &buf
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Config returns the detector settings.
func (d *Detector) Config() Config {
	return d.cfg
}

// Initialize loads the model. It may be called once, from StateUninitialized.
//
// On failure the detector moves to StateFailed and stays there, and the returned
// error wraps common.ErrModelLoad.
//
// Arguments:
//   - ctx: Passed to the model source and loader.
//
// Returns:
//   - error: nil once the detector is ready.
func (d *Detector) Initialize(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return errors.Errorf("initialize called in state %s", d.State())
	}

	engine, err := d.load(ctx)
	if err != nil {
		d.state.Store(int32(StateFailed))
		d.log.WithError(err).Error("model load failed")
		return errors.Wrapf(common.ErrModelLoad, "%v", err)
	}

	d.engine = engine
	d.state.Store(int32(StateReady))
	d.log.WithFields(logrus.Fields{
		"width":     d.cfg.ModelWidth,
		"height":    d.cfg.ModelHeight,
		"num_boxes": d.cfg.NumBoxes,
	}).Info("detector ready")
	return nil
}

func (d *Detector) load(ctx context.Context) (inference.Engine, error) {
	model, err := inference.ReadModel(ctx, d.source)
	if err != nil {
		return nil, err
	}
	engine, err := d.loader.Load(ctx, model, d.cfg.ModelSpec())
	if err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("loader returned no engine")
	}
	return engine, nil
}

// Detect runs the full pipeline on one raster.
//
// Arguments:
//   - ctx: Passed to the engine.
//   - r: The source image. It is not modified.
//
// Returns:
//   - []common.BoundingBox: Detections in source pixel coordinates, highest confidence
//     first. Empty, not nil, when nothing passes the threshold.
//   - error: common.ErrNotInitialized unless the detector is ready,
//     common.ErrInvalidInput for an unreadable raster, common.ErrMalformedOutput for
//     an output of the wrong size, or the engine's error.
func (d *Detector) Detect(ctx context.Context, r images.Raster) ([]common.BoundingBox, error) {
	if state := d.State(); state != StateReady {
		return nil, errors.Wrapf(common.ErrNotInitialized, "state %s", state)
	}

	buf := d.tensors.Get().(*[]float32)
	defer d.tensors.Put(buf)

	transform, err := preprocess.PreprocessInto(r, d.cfg.PreprocessOptions(), *buf)
	if err != nil {
		return nil, err
	}

	output, err := d.engine.Run(ctx, common.WrapTensor(*buf, d.cfg.ModelWidth, d.cfg.ModelHeight))
	if err != nil {
		return nil, errors.Wrap(err, "inference")
	}

	return Postprocess(output, d.cfg, transform)
}

// DetectImage converts img to a raster and calls Detect.
func (d *Detector) DetectImage(ctx context.Context, img image.Image) ([]common.BoundingBox, error) {
	if state := d.State(); state != StateReady {
		return nil, errors.Wrapf(common.ErrNotInitialized, "state %s", state)
	}
	return d.Detect(ctx, images.FromImage(img))
}

// Close releases the engine if it holds native resources. The detector is not
// usable afterwards.
func (d *Detector) Close() error {
	if d.State() != StateReady {
		return nil
	}
	d.state.Store(int32(StateFailed))
	if closer, ok := d.engine.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Postprocess turns a raw output buffer into source-space detections: decode,
// threshold, NMS in model space, then rescale.
func Postprocess(output []float32, cfg Config, transform common.TransformParams) ([]common.BoundingBox, error) {
	candidates, err := postprocess.Decode(output, cfg.DecodeOptions())
	if err != nil {
		return nil, err
	}
	kept := postprocess.NMS(postprocess.Boxes(candidates, cfg.Label), cfg.IoUThreshold)
	return postprocess.Rescale(kept, transform), nil
}
