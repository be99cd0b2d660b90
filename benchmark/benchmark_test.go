package benchmark

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/detector"
	"github.com/nvr-ai/go-pothole/images"
	"github.com/nvr-ai/go-pothole/inference"
)

func smallConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.ModelWidth = 32
	cfg.ModelHeight = 32
	cfg.NumBoxes = 2
	return cfg
}

// oneBoxEngine reports a single confident box centred in the model input.
func oneBoxEngine(calls *int) inference.EngineFunc {
	return func(_ context.Context, in common.Tensor) ([]float32, error) {
		*calls++
		if err := in.Validate(); err != nil {
			return nil, err
		}
		// Channel-major: cx, cy, w, h, conf for 2 slots.
		return []float32{
			16, 0,
			16, 0,
			8, 0,
			8, 0,
			0.9, 0.1,
		}, nil
	}
}

func TestNewSuiteValidation(t *testing.T) {
	calls := 0
	corpus := []images.Raster{images.NewRaster(8, 8)}

	_, err := NewSuite(nil, smallConfig(), corpus, nil)
	assert.Error(t, err)

	bad := smallConfig()
	bad.IoUThreshold = 0
	_, err = NewSuite(oneBoxEngine(&calls), bad, corpus, nil)
	assert.Error(t, err)

	_, err = NewSuite(oneBoxEngine(&calls), smallConfig(), nil, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestSuiteRun(t *testing.T) {
	calls := 0
	corpus := []images.Raster{images.NewRaster(64, 32), images.NewRaster(32, 64)}
	suite, err := NewSuite(oneBoxEngine(&calls), smallConfig(), corpus, nil)
	require.NoError(t, err)

	m, err := suite.Run(context.Background(), Scenario{Name: "small", Iterations: 6, WarmupRuns: 2})
	require.NoError(t, err)

	assert.Equal(t, 8, calls, "warmup frames also reach the engine")
	assert.Equal(t, 6, m.Frames)
	assert.Equal(t, 0, m.Failures)
	assert.Equal(t, 6, m.DetectionCount)
	assert.Zero(t, m.ErrorRate)
	assert.Greater(t, m.FramesPerSecond, 0.0)
	assert.GreaterOrEqual(t, m.TotalDuration, m.InferenceDuration)
	assert.Equal(t, runtime.NumCPU(), m.CPUStats.NumCPU)

	require.Len(t, suite.Results(), 1)
	assert.Equal(t, "small", suite.Results()[0].Scenario.Name)
}

func TestSuiteRunCountsFailures(t *testing.T) {
	calls := 0
	// The second frame is invalid and fails in preprocess.
	corpus := []images.Raster{images.NewRaster(16, 16), {}}
	suite, err := NewSuite(oneBoxEngine(&calls), smallConfig(), corpus, nil)
	require.NoError(t, err)

	m, err := suite.Run(context.Background(), Scenario{Name: "mixed", Iterations: 4})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, m.Failures)
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.Equal(t, 2, m.DetectionCount)
	assert.Equal(t, m.InferenceDuration/2, m.MeanInference())
}

func TestSuiteRunRejectsBadScenario(t *testing.T) {
	calls := 0
	suite, err := NewSuite(oneBoxEngine(&calls), smallConfig(), []images.Raster{images.NewRaster(4, 4)}, nil)
	require.NoError(t, err)

	_, err = suite.Run(context.Background(), Scenario{Name: "empty"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = suite.Run(ctx, DefaultScenario("cancelled"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, suite.Results())
}

func TestSaveResults(t *testing.T) {
	calls := 0
	suite, err := NewSuite(oneBoxEngine(&calls), smallConfig(), []images.Raster{images.NewRaster(16, 16)}, nil)
	require.NoError(t, err)
	_, err = suite.Run(context.Background(), Scenario{Name: "save", Iterations: 2})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	path, err := suite.SaveResults(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "save"`)

	csvFiles, err := filepath.Glob(filepath.Join(dir, "benchmark_summary_*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)
	summary, err := os.ReadFile(csvFiles[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(summary)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "save,2,"))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteSummaryCSVReportsWriteErrors(t *testing.T) {
	results := []PerformanceMetrics{{Scenario: Scenario{Name: "a"}, Frames: 1}}
	assert.EqualError(t, writeSummaryCSV(failingWriter{}, results), "disk full")

	var sb strings.Builder
	require.NoError(t, writeSummaryCSV(&sb, results))
	assert.True(t, strings.HasPrefix(sb.String(), "scenario,frames,fps,"))
}

func TestSaveSummaryCSVCreateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "summary.csv")
	assert.Error(t, saveSummaryCSV(path, nil))
}
