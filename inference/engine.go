// Package inference - Model sources, loaders and engines that run the detector network.
package inference

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pothole/common"
)

// Engine runs the network on one preprocessed tensor.
//
// Run returns the raw output buffer, which for the pothole model is [1, 5, NumBoxes]
// laid out channel-major. An Engine must not retain the tensor after Run returns,
// so that callers can reuse its buffer.
type Engine interface {
	Run(ctx context.Context, input common.Tensor) ([]float32, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, input common.Tensor) ([]float32, error)

// Run calls f(ctx, input).
func (f EngineFunc) Run(ctx context.Context, input common.Tensor) ([]float32, error) {
	return f(ctx, input)
}

// ModelSpec describes the tensor shapes a loaded engine must accept and produce.
type ModelSpec struct {
	// Width of the model input.
	Width int `json:"width" yaml:"width"`
	// Height of the model input.
	Height int `json:"height" yaml:"height"`
	// NumBoxes is the number of candidates in the output.
	NumBoxes int `json:"num_boxes" yaml:"num_boxes"`
}

// InputShape returns [1, 3, Height, Width].
func (s ModelSpec) InputShape() []int64 {
	return []int64{1, common.Channels, int64(s.Height), int64(s.Width)}
}

// CheckInput rejects tensors that are malformed or sized for a different model.
// Width and height are compared separately, so a transposed input with the right
// element count still fails.
func (s ModelSpec) CheckInput(in common.Tensor) error {
	if err := in.Validate(); err != nil {
		return errors.Wrap(common.ErrInvalidInput, err.Error())
	}
	if !in.Is(s.Width, s.Height) {
		return errors.Wrapf(common.ErrInvalidInput, "input shape %v, model expects %v", in.Shape64(), s.InputShape())
	}
	return nil
}

// OutputShape returns [1, 5, NumBoxes].
func (s ModelSpec) OutputShape() []int64 {
	return []int64{1, 5, int64(s.NumBoxes)}
}

// Loader turns model bytes into a runnable Engine.
type Loader interface {
	Load(ctx context.Context, model []byte, spec ModelSpec) (Engine, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, model []byte, spec ModelSpec) (Engine, error)

// Load calls f(ctx, model, spec).
func (f LoaderFunc) Load(ctx context.Context, model []byte, spec ModelSpec) (Engine, error) {
	return f(ctx, model, spec)
}

// ModelSource provides the model artifact. Fetching and caching remote artifacts
// is left to implementations outside this package.
type ModelSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads the model from a local file.
type FileSource string

// Open opens the file.
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(string(s))
	if err != nil {
		return nil, errors.Wrapf(err, "open model %s", string(s))
	}
	return f, nil
}

// BytesSource serves an in-memory model, for embedded models and tests.
type BytesSource []byte

// Open returns a reader over the bytes.
func (s BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(s)), nil
}

// ReadModel opens source and reads the whole artifact.
//
// Arguments:
//   - ctx: Checked before opening.
//   - source: Where the model comes from.
//
// Returns:
//   - []byte: The model bytes. Never empty on success.
//   - error: An error if the source cannot be read or is empty.
func ReadModel(ctx context.Context, source ModelSource) ([]byte, error) {
	if source == nil {
		return nil, errors.New("no model source")
	}
	rc, err := source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, "read model")
	}
	if len(data) == 0 {
		return nil, errors.New("model artifact is empty")
	}
	return data, nil
}
