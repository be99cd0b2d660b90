package detector

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/inference"
	"github.com/nvr-ai/go-pothole/models/postprocess"
	"github.com/nvr-ai/go-pothole/models/preprocess"
)

// Config holds the detector settings. It is fixed once the detector is created.
type Config struct {
	// ModelWidth is the width of the model input.
	ModelWidth int `json:"model_width" yaml:"model_width"`
	// ModelHeight is the height of the model input.
	ModelHeight int `json:"model_height" yaml:"model_height"`
	// NumBoxes is the number of candidates in the raw output.
	NumBoxes int `json:"num_boxes" yaml:"num_boxes"`
	// ConfidenceThreshold filters candidates below this confidence.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold controls Non-Maximum Suppression.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Label is attached to every detection.
	Label string `json:"label" yaml:"label"`
	// PadValue is the gray level of the letterbox border.
	PadValue uint8 `json:"pad_value" yaml:"pad_value"`
	// Interpolation names the resampling filter used for letterboxing.
	Interpolation string `json:"interpolation" yaml:"interpolation"`
}

// DefaultConfig returns the settings of the stock 640x640 pothole model.
//
// Returns:
//   - Config: 640x640 input, 8400 candidates, confidence 0.5, IoU 0.45.
//
// @example
// cfg := DefaultConfig()
// cfg.ConfidenceThreshold = 0.35
func DefaultConfig() Config {
	return Config{
		ModelWidth:          640,
		ModelHeight:         640,
		NumBoxes:            postprocess.DefaultNumBoxes,
		ConfidenceThreshold: postprocess.DefaultConfidenceThreshold,
		IoUThreshold:        postprocess.DefaultIoUThreshold,
		Label:               common.DefaultLabel,
		PadValue:            preprocess.DefaultPadValue,
		Interpolation:       preprocess.DefaultInterpolation,
	}
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	if c.ModelWidth <= 0 || c.ModelHeight <= 0 {
		return errors.Errorf("model dimensions must be positive, got %dx%d", c.ModelWidth, c.ModelHeight)
	}
	if c.NumBoxes <= 0 {
		return errors.Errorf("num_boxes must be positive, got %d", c.NumBoxes)
	}
	if !(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1) {
		return errors.Errorf("confidence_threshold must be in [0, 1], got %v", c.ConfidenceThreshold)
	}
	if !(c.IoUThreshold > 0 && c.IoUThreshold <= 1) {
		return errors.Errorf("iou_threshold must be in (0, 1], got %v", c.IoUThreshold)
	}
	if c.Label == "" {
		return errors.New("label must not be empty")
	}
	if _, err := preprocess.ParseInterpolation(c.Interpolation); err != nil {
		return err
	}
	return nil
}

// PreprocessOptions returns the letterbox settings.
func (c Config) PreprocessOptions() preprocess.Options {
	return preprocess.Options{
		ModelWidth:    c.ModelWidth,
		ModelHeight:   c.ModelHeight,
		PadValue:      c.PadValue,
		Interpolation: c.Interpolation,
	}
}

// DecodeOptions returns the output layout and confidence filter.
func (c Config) DecodeOptions() postprocess.DecodeOptions {
	return postprocess.DecodeOptions{
		NumBoxes:            c.NumBoxes,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// ModelSpec returns the tensor shapes the engine must handle.
func (c Config) ModelSpec() inference.ModelSpec {
	return inference.ModelSpec{
		Width:    c.ModelWidth,
		Height:   c.ModelHeight,
		NumBoxes: c.NumBoxes,
	}
}

// LoadConfig reads a YAML file over DefaultConfig, so the file only needs the
// fields it changes.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged, validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
//
// @example
// # detector.yaml
// confidence_threshold: 0.35
// interpolation: bicubic
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
