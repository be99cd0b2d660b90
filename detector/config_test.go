package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 640, cfg.ModelWidth)
	assert.Equal(t, 640, cfg.ModelHeight)
	assert.Equal(t, 8400, cfg.NumBoxes)
	assert.Equal(t, float32(0.5), cfg.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), cfg.IoUThreshold)
	assert.Equal(t, "pothole", cfg.Label)
	assert.Equal(t, uint8(114), cfg.PadValue)
	assert.Equal(t, "bilinear", cfg.Interpolation)

	assert.Equal(t, 3*640*640, cfg.PreprocessOptions().TensorLen())
	assert.Equal(t, 8400, cfg.DecodeOptions().NumBoxes)
	assert.Equal(t, []int64{1, 5, 8400}, cfg.ModelSpec().OutputShape())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.ModelWidth = 0 }},
		{"negative height", func(c *Config) { c.ModelHeight = -640 }},
		{"no boxes", func(c *Config) { c.NumBoxes = 0 }},
		{"confidence above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"negative confidence", func(c *Config) { c.ConfidenceThreshold = -0.1 }},
		{"zero iou", func(c *Config) { c.IoUThreshold = 0 }},
		{"empty label", func(c *Config) { c.Label = "" }},
		{"unknown filter", func(c *Config) { c.Interpolation = "sinc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.yaml")
	yaml := "confidence_threshold: 0.35\ninterpolation: bicubic\nlabel: crack\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, float32(0.35), cfg.ConfidenceThreshold)
	assert.Equal(t, "bicubic", cfg.Interpolation)
	assert.Equal(t, "crack", cfg.Label)
	// Untouched fields keep their defaults.
	assert.Equal(t, 640, cfg.ModelWidth)
	assert.Equal(t, float32(0.45), cfg.IoUThreshold)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("model_width: [not, a, number]"))
	assert.Error(t, err, "malformed yaml")

	_, err = ParseConfig([]byte("iou_threshold: 2"))
	assert.Error(t, err, "fails validation")
}
