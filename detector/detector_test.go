package detector

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/images"
	"github.com/nvr-ai/go-pothole/inference"
	"github.com/nvr-ai/go-pothole/models/postprocess"
)

// testConfig is a small model so the tests stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ModelWidth = 64
	cfg.ModelHeight = 64
	cfg.NumBoxes = 4
	return cfg
}

// fixedOutput lays out candidates channel-major for numBoxes slots.
func fixedOutput(numBoxes int, candidates ...postprocess.RawDetection) []float32 {
	buf := make([]float32, postprocess.Fields*numBoxes)
	for i, c := range candidates {
		buf[0*numBoxes+i] = c.CX
		buf[1*numBoxes+i] = c.CY
		buf[2*numBoxes+i] = c.W
		buf[3*numBoxes+i] = c.H
		buf[4*numBoxes+i] = c.Confidence
	}
	return buf
}

type closingEngine struct {
	inference.EngineFunc
	closed bool
}

func (e *closingEngine) Close() error {
	e.closed = true
	return nil
}

// fixedLoader returns a loader whose engine always produces output.
func fixedLoader(output []float32) inference.Loader {
	return inference.LoaderFunc(func(_ context.Context, _ []byte, _ inference.ModelSpec) (inference.Engine, error) {
		return &closingEngine{EngineFunc: func(_ context.Context, in common.Tensor) ([]float32, error) {
			if err := in.Validate(); err != nil {
				return nil, err
			}
			return output, nil
		}}, nil
	})
}

func newReadyDetector(t *testing.T, cfg Config, output []float32) *Detector {
	t.Helper()
	d, err := New(cfg, inference.BytesSource("model"), fixedLoader(output))
	require.NoError(t, err)
	require.NoError(t, d.Initialize(context.Background()))
	require.Equal(t, StateReady, d.State())
	return d
}

func opaqueRaster(width, height int) images.Raster {
	r := images.NewRaster(width, height)
	for i := 3; i < len(r.Pix); i += 4 {
		r.Pix[i] = 255
	}
	return r
}

func TestDetectBeforeInitialize(t *testing.T) {
	d, err := New(DefaultConfig(), inference.BytesSource("model"), fixedLoader(nil))
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, d.State())

	boxes, err := d.Detect(context.Background(), opaqueRaster(10, 10))
	assert.Nil(t, boxes)
	assert.True(t, errors.Is(err, common.ErrNotInitialized), "got %v", err)

	_, err = d.DetectImage(context.Background(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	assert.True(t, errors.Is(err, common.ErrNotInitialized))
}

func TestInitializeFailure(t *testing.T) {
	loadErr := errors.New("unsupported opset")
	tests := []struct {
		name   string
		source inference.ModelSource
		loader inference.Loader
	}{
		{
			name:   "missing file",
			source: inference.FileSource(filepath.Join(os.TempDir(), "does-not-exist.onnx")),
			loader: fixedLoader(nil),
		},
		{
			name:   "empty artifact",
			source: inference.BytesSource{},
			loader: fixedLoader(nil),
		},
		{
			name:   "loader error",
			source: inference.BytesSource("model"),
			loader: inference.LoaderFunc(func(context.Context, []byte, inference.ModelSpec) (inference.Engine, error) {
				return nil, loadErr
			}),
		},
		{
			name:   "nil engine",
			source: inference.BytesSource("model"),
			loader: inference.LoaderFunc(func(context.Context, []byte, inference.ModelSpec) (inference.Engine, error) {
				return nil, nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(testConfig(), tt.source, tt.loader)
			require.NoError(t, err)

			err = d.Initialize(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrModelLoad), "got %v", err)
			assert.Equal(t, StateFailed, d.State())

			// Failed is terminal.
			assert.Error(t, d.Initialize(context.Background()))
			assert.Equal(t, StateFailed, d.State())
			_, err = d.Detect(context.Background(), opaqueRaster(8, 8))
			assert.True(t, errors.Is(err, common.ErrNotInitialized))
		})
	}
}

func TestInitializeTwice(t *testing.T) {
	d := newReadyDetector(t, testConfig(), fixedOutput(4))
	assert.Error(t, d.Initialize(context.Background()))
	assert.Equal(t, StateReady, d.State(), "a second call does not disturb a ready detector")
}

func TestDetectWhileInitializing(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loader := inference.LoaderFunc(func(context.Context, []byte, inference.ModelSpec) (inference.Engine, error) {
		close(entered)
		<-release
		return inference.EngineFunc(func(context.Context, common.Tensor) ([]float32, error) {
			return fixedOutput(4), nil
		}), nil
	})
	d, err := New(testConfig(), inference.BytesSource("model"), loader)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Initialize(context.Background()) }()
	<-entered
	require.Equal(t, StateInitializing, d.State())

	boxes, err := d.Detect(context.Background(), opaqueRaster(8, 8))
	assert.Nil(t, boxes)
	assert.True(t, errors.Is(err, common.ErrNotInitialized), "got %v", err)
	_, err = d.DetectImage(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	assert.True(t, errors.Is(err, common.ErrNotInitialized), "got %v", err)

	// A concurrent Initialize loses the race and leaves loading alone.
	assert.Error(t, d.Initialize(context.Background()))
	assert.Equal(t, StateInitializing, d.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, d.State())
	_, err = d.Detect(context.Background(), opaqueRaster(8, 8))
	assert.NoError(t, err)
}

func TestInitializePassesModelSpec(t *testing.T) {
	cfg := testConfig()
	var gotModel []byte
	var gotSpec inference.ModelSpec
	loader := inference.LoaderFunc(func(_ context.Context, model []byte, spec inference.ModelSpec) (inference.Engine, error) {
		gotModel, gotSpec = model, spec
		return inference.EngineFunc(func(context.Context, common.Tensor) ([]float32, error) { return nil, nil }), nil
	})

	d, err := New(cfg, inference.BytesSource("weights"), loader)
	require.NoError(t, err)
	require.NoError(t, d.Initialize(context.Background()))

	assert.Equal(t, []byte("weights"), gotModel)
	assert.Equal(t, inference.ModelSpec{Width: 64, Height: 64, NumBoxes: 4}, gotSpec)
}

// TestDetectEndToEnd letterboxes a 128x64 frame (scale 0.5, pad 16 top and bottom)
// and maps the engine's model-space boxes back to the frame.
func TestDetectEndToEnd(t *testing.T) {
	output := fixedOutput(4,
		// Model box (10, 26)-(30, 46) maps to (20, 20)-(60, 60).
		postprocess.RawDetection{CX: 20, CY: 36, W: 20, H: 20, Confidence: 0.9},
		// Overlaps the first one heavily and is suppressed.
		postprocess.RawDetection{CX: 21, CY: 36, W: 20, H: 20, Confidence: 0.8},
		// Below threshold.
		postprocess.RawDetection{CX: 50, CY: 30, W: 10, H: 10, Confidence: 0.2},
		// Separate box.
		postprocess.RawDetection{CX: 50, CY: 30, W: 8, H: 8, Confidence: 0.6},
	)
	d := newReadyDetector(t, testConfig(), output)

	boxes, err := d.Detect(context.Background(), opaqueRaster(128, 64))
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	assert.Equal(t, common.BoundingBox{Label: "pothole", Confidence: 0.9, X1: 20, Y1: 20, X2: 60, Y2: 60}, boxes[0])
	assert.Equal(t, float32(0.6), boxes[1].Confidence)
	assert.InDelta(t, 92, boxes[1].X1, 1e-4)
	assert.InDelta(t, 20, boxes[1].Y1, 1e-4)
	assert.InDelta(t, 108, boxes[1].X2, 1e-4)
	assert.InDelta(t, 36, boxes[1].Y2, 1e-4)

	// Repeated calls reuse pooled buffers and give the same answer.
	again, err := d.Detect(context.Background(), opaqueRaster(128, 64))
	require.NoError(t, err)
	assert.Equal(t, boxes, again)
}

func TestDetectNothingAboveThreshold(t *testing.T) {
	output := fixedOutput(4,
		postprocess.RawDetection{CX: 20, CY: 20, W: 5, H: 5, Confidence: 0.1},
		postprocess.RawDetection{CX: 30, CY: 30, W: 5, H: 5, Confidence: 0.49},
	)
	d := newReadyDetector(t, testConfig(), output)

	boxes, err := d.Detect(context.Background(), opaqueRaster(64, 64))
	require.NoError(t, err)
	assert.NotNil(t, boxes)
	assert.Empty(t, boxes)
}

func TestDetectErrors(t *testing.T) {
	t.Run("malformed output", func(t *testing.T) {
		d := newReadyDetector(t, testConfig(), make([]float32, 19))
		_, err := d.Detect(context.Background(), opaqueRaster(64, 64))
		assert.True(t, errors.Is(err, common.ErrMalformedOutput), "got %v", err)
		assert.Equal(t, StateReady, d.State(), "a bad frame does not change state")
	})

	t.Run("invalid raster", func(t *testing.T) {
		d := newReadyDetector(t, testConfig(), fixedOutput(4))
		_, err := d.Detect(context.Background(), images.Raster{Width: 10, Height: 10, Stride: 40})
		assert.True(t, errors.Is(err, common.ErrInvalidInput), "got %v", err)
	})

	t.Run("engine error", func(t *testing.T) {
		engineErr := errors.New("device lost")
		loader := inference.LoaderFunc(func(context.Context, []byte, inference.ModelSpec) (inference.Engine, error) {
			return inference.EngineFunc(func(context.Context, common.Tensor) ([]float32, error) {
				return nil, engineErr
			}), nil
		})
		d, err := New(testConfig(), inference.BytesSource("model"), loader)
		require.NoError(t, err)
		require.NoError(t, d.Initialize(context.Background()))

		_, err = d.Detect(context.Background(), opaqueRaster(64, 64))
		assert.True(t, errors.Is(err, engineErr))
	})
}

func TestDetectImage(t *testing.T) {
	output := fixedOutput(4, postprocess.RawDetection{CX: 32, CY: 32, W: 16, H: 16, Confidence: 0.75})
	d := newReadyDetector(t, testConfig(), output)

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{A: 255})

	boxes, err := d.DetectImage(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, common.BoundingBox{Label: "pothole", Confidence: 0.75, X1: 24, Y1: 24, X2: 40, Y2: 40}, boxes[0])
}

func TestClose(t *testing.T) {
	var engine *closingEngine
	loader := inference.LoaderFunc(func(context.Context, []byte, inference.ModelSpec) (inference.Engine, error) {
		engine = &closingEngine{EngineFunc: func(context.Context, common.Tensor) ([]float32, error) {
			return fixedOutput(4), nil
		}}
		return engine, nil
	})
	d, err := New(testConfig(), inference.BytesSource("model"), loader)
	require.NoError(t, err)
	require.NoError(t, d.Initialize(context.Background()))

	require.NoError(t, d.Close())
	assert.True(t, engine.closed)

	_, err = d.Detect(context.Background(), opaqueRaster(64, 64))
	assert.True(t, errors.Is(err, common.ErrNotInitialized))
}

func TestNewValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IoUThreshold = 0
	_, err := New(cfg, inference.BytesSource("m"), fixedLoader(nil))
	assert.Error(t, err)

	_, err = New(DefaultConfig(), nil, fixedLoader(nil))
	assert.Error(t, err)

	_, err = New(DefaultConfig(), inference.BytesSource("m"), nil)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
