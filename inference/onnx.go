package inference

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-pothole/common"
)

// Tensor names of the exported YOLOv8 graph.
const (
	InputName  = "images"
	OutputName = "output0"
)

// ONNXOptions configures the ONNX Runtime loader.
type ONNXOptions struct {
	// SharedLibraryPath is the onnxruntime shared library. Empty uses GetSharedLibPath.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// Backend selects the execution provider.
	Backend Backend `json:"backend" yaml:"backend"`
	// IntraOpThreads is the thread count within an operator. Zero lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads is the thread count across operators. Zero lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// CUDA holds CUDA provider settings when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// OpenVINO holds OpenVINO provider settings when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// ONNXLoader creates ONNX Runtime sessions. It implements Loader.
type ONNXLoader struct {
	opts ONNXOptions
	log  logrus.FieldLogger
}

// NewONNXLoader creates a loader. A nil logger discards output.
func NewONNXLoader(opts ONNXOptions, log logrus.FieldLogger) *ONNXLoader {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &ONNXLoader{opts: opts, log: log}
}

var envMu sync.Mutex

// initEnvironment loads the shared library once per process.
func (l *ONNXLoader) initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := l.opts.SharedLibraryPath
	if libPath == "" {
		libPath = GetSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize onnxruntime environment")
	}
	l.log.WithField("library", libPath).Info("onnxruntime environment initialized")
	return nil
}

// Load creates a session from the model bytes with preallocated input and output
// tensors of the shapes in spec.
//
// Order of operations:
//  1. Environment setup: loads the native library once per process.
//  2. Tensor allocation: fixed-shape buffers bound to the session.
//  3. Session options: threading, graph optimization and execution provider.
//  4. Session creation from the in-memory model.
//
// Arguments:
//   - ctx: Checked before any native work starts.
//   - model: The .onnx file contents.
//   - spec: The expected input and output shapes.
//
// Returns:
//   - Engine: An *ONNXEngine. Close it to release native memory.
//   - error: An error if any step fails. Everything allocated so far is released.
func (l *ONNXLoader) Load(ctx context.Context, model []byte, spec ModelSpec) (Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Width <= 0 || spec.Height <= 0 || spec.NumBoxes <= 0 {
		return nil, errors.Errorf("invalid model spec %+v", spec)
	}
	if err := l.initEnvironment(); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape()...))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape()...))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	session, err := l.newSession(model, input, output)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"backend":   l.backend(),
		"input":     spec.InputShape(),
		"output":    spec.OutputShape(),
		"model_len": len(model),
	}).Info("onnx session created")

	return &ONNXEngine{
		session: session,
		input:   input,
		output:  output,
		spec:    spec,
	}, nil
}

func (l *ONNXLoader) backend() Backend {
	if l.opts.Backend == "" {
		return BackendCPU
	}
	return l.opts.Backend
}

func (l *ONNXLoader) newSession(model []byte, input, output *ort.Tensor[float32]) (*ort.AdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(l.opts.IntraOpThreads); err != nil {
		return nil, errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(l.opts.InterOpThreads); err != nil {
		return nil, errors.Wrap(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "set graph optimization level")
	}
	if err := appendProvider(options, l.backend(), l.opts.CUDA, l.opts.OpenVINO); err != nil {
		return nil, err
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		model,
		[]string{InputName},
		[]string{OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create onnx session")
	}
	return session, nil
}

// ONNXEngine runs an ONNX Runtime session with bound tensors. Run calls are
// serialized because the bound tensors are shared.
type ONNXEngine struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	spec    ModelSpec
}

// Run copies the tensor into the bound input, runs the session and returns a copy
// of the output.
func (e *ONNXEngine) Run(ctx context.Context, in common.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.spec.CheckInput(in); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("onnx engine is closed")
	}
	dst := e.input.GetData()
	if len(in.Data) != len(dst) {
		return nil, errors.Errorf("input holds %d floats, model expects %d", len(in.Data), len(dst))
	}
	copy(dst, in.Data)

	if err := e.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run onnx session")
	}

	out := e.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// Close releases the session and its tensors. It is safe to call more than once.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
	return errors.Wrap(err, "destroy onnx session")
}
