package inference

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCoreML uses Apple CoreML for macOS/iOS acceleration.
	BackendCoreML Backend = "coreml"
	// BackendCUDA uses NVIDIA CUDA for GPU acceleration.
	BackendCUDA Backend = "cuda"
	// BackendOpenVINO uses Intel OpenVINO.
	BackendOpenVINO Backend = "openvino"
)

// ParseBackend resolves a backend name, case-insensitively. Empty means CPU.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(name)); b {
	case "":
		return BackendCPU, nil
	case BackendCPU, BackendCoreML, BackendCUDA, BackendOpenVINO:
		return b, nil
	default:
		return "", errors.Errorf("unknown backend %q", name)
	}
}

// CUDAOptions configures the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. Zero leaves the default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// Use TF32 math on Ampere and later.
	UseTF32 bool `json:"use_tf32" yaml:"use_tf32"`
}

// providerOptions renders the options in the key/value form ONNX Runtime takes.
func (o CUDAOptions) providerOptions() map[string]string {
	opts := map[string]string{
		"device_id": fmt.Sprintf("%d", o.DeviceID),
		"use_tf32":  boolFlag(o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return opts
}

// OpenVINOOptions configures the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type, e.g. CPU, GPU or NPU.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Overrides the default number of inference threads.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
}

func (o OpenVINOOptions) providerOptions() map[string]string {
	opts := map[string]string{}
	if o.DeviceType != "" {
		opts["device_type"] = o.DeviceType
	}
	if o.NumOfThreads > 0 {
		opts["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	return opts
}

// appendProvider enables backend on the session options. BackendCPU needs nothing.
func appendProvider(options *ort.SessionOptions, backend Backend, cuda CUDAOptions, openvino OpenVINOOptions) error {
	switch backend {
	case BackendCPU, "":
		return nil
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "enable CoreML")
		}
	case BackendOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(openvino.providerOptions()); err != nil {
			return errors.Wrap(err, "enable OpenVINO")
		}
	case BackendCUDA:
		native, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create CUDA options")
		}
		defer native.Destroy()
		if err := native.Update(cuda.providerOptions()); err != nil {
			return errors.Wrap(err, "update CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(native); err != nil {
			return errors.Wrap(err, "enable CUDA")
		}
	default:
		return errors.Errorf("unknown backend %q", backend)
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// GetSharedLibPath returns the default path of the ONNX Runtime shared library for
// the current platform, relative to the working directory.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.1.21.0.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
