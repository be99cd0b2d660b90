// Package benchmark - Per-stage timing of the pothole pipeline over a frame corpus.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/detector"
	"github.com/nvr-ai/go-pothole/images"
	"github.com/nvr-ai/go-pothole/inference"
	"github.com/nvr-ai/go-pothole/models/preprocess"
)

// Scenario defines one benchmark run.
type Scenario struct {
	Name       string `json:"name"       yaml:"name"`
	Iterations int    `json:"iterations" yaml:"iterations"`
	WarmupRuns int    `json:"warmup_runs" yaml:"warmupRuns"`
}

// DefaultScenario returns a 100 frame run with 10 warmup frames.
func DefaultScenario(name string) Scenario {
	return Scenario{Name: name, Iterations: 100, WarmupRuns: 10}
}

// Suite runs scenarios against an engine, timing the letterbox, inference and
// postprocess stages separately.
type Suite struct {
	engine inference.Engine
	cfg    detector.Config
	corpus []images.Raster
	log    logrus.FieldLogger

	mu      sync.RWMutex
	results []PerformanceMetrics
}

// stageTimes accumulates per-stage durations across frames.
type stageTimes struct {
	preprocess  time.Duration
	inference   time.Duration
	postprocess time.Duration
}

// NewSuite creates a benchmark suite.
//
// Arguments:
//   - engine: A loaded engine whose model matches cfg.
//   - cfg: Detector configuration for preprocess and postprocess.
//   - corpus: Frames cycled through during the run.
//   - log: Receives progress. Nil discards it.
//
// Returns:
//   - *Suite: The suite.
//   - error: An error if the configuration is invalid or the corpus is empty.
func NewSuite(engine inference.Engine, cfg detector.Config, corpus []images.Raster, log logrus.FieldLogger) (*Suite, error) {
	if engine == nil {
		return nil, errors.New("benchmark: nil engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		return nil, errors.Wrap(common.ErrInvalidInput, "benchmark: empty corpus")
	}
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Suite{engine: engine, cfg: cfg, corpus: corpus, log: log}, nil
}

// Run executes a scenario and records its metrics.
//
// Arguments:
//   - ctx: Cancelling it stops the run with ctx.Err().
//   - scenario: Iterations and warmup counts.
//
// Returns:
//   - PerformanceMetrics: The measured run.
//   - error: An error if the scenario is invalid or ctx is cancelled.
func (s *Suite) Run(ctx context.Context, scenario Scenario) (PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return PerformanceMetrics{}, errors.Errorf("benchmark: scenario %q needs at least one iteration", scenario.Name)
	}

	opts := s.cfg.PreprocessOptions()
	buf := make([]float32, opts.TensorLen())
	var discard stageTimes

	for i := 0; i < scenario.WarmupRuns; i++ {
		if err := ctx.Err(); err != nil {
			return PerformanceMetrics{}, err
		}
		_, _ = s.processFrame(ctx, s.corpus[i%len(s.corpus)], opts, buf, &discard)
	}

	metrics := PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
		Frames:    scenario.Iterations,
		CPUStats:  CPUMetrics{NumCPU: runtime.NumCPU(), GOMAXPROCS: runtime.GOMAXPROCS(0)},
	}

	startMem := readMemStats()
	start := time.Now()
	var times stageTimes
	failures := 0

	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return PerformanceMetrics{}, err
		}
		count, err := s.processFrame(ctx, s.corpus[i%len(s.corpus)], opts, buf, &times)
		if err != nil {
			failures++
			s.log.WithError(err).WithField("iteration", i).Debug("benchmark frame failed")
			continue
		}
		metrics.DetectionCount += count
	}

	metrics.TotalDuration = time.Since(start)
	metrics.MemoryStats = memoryDelta(startMem, readMemStats())
	metrics.PreprocessDuration = times.preprocess
	metrics.InferenceDuration = times.inference
	metrics.PostProcessDuration = times.postprocess
	if secs := metrics.TotalDuration.Seconds(); secs > 0 {
		metrics.FramesPerSecond = float64(scenario.Iterations) / secs
	}
	metrics.Failures = failures
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)

	s.mu.Lock()
	s.results = append(s.results, metrics)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"scenario":    scenario.Name,
		"fps":         fmt.Sprintf("%.2f", metrics.FramesPerSecond),
		"preprocess":  metrics.MeanPreprocess(),
		"inference":   metrics.MeanInference(),
		"postprocess": metrics.MeanPostProcess(),
		"errors":      failures,
	}).Info("scenario completed")

	return metrics, nil
}

func (s *Suite) processFrame(ctx context.Context, r images.Raster, opts preprocess.Options, buf []float32, times *stageTimes) (int, error) {
	t0 := time.Now()
	transform, err := preprocess.PreprocessInto(r, opts, buf)
	if err != nil {
		return 0, err
	}

	t1 := time.Now()
	output, err := s.engine.Run(ctx, common.WrapTensor(buf, opts.ModelWidth, opts.ModelHeight))
	if err != nil {
		return 0, errors.Wrap(err, "inference")
	}

	t2 := time.Now()
	boxes, err := detector.Postprocess(output, s.cfg, transform)
	if err != nil {
		return 0, err
	}
	t3 := time.Now()

	times.preprocess += t1.Sub(t0)
	times.inference += t2.Sub(t1)
	times.postprocess += t3.Sub(t2)
	return len(boxes), nil
}

// Results returns a copy of all recorded metrics.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]PerformanceMetrics, len(s.results))
	copy(results, s.results)
	return results
}

// SaveResults writes the recorded metrics to dir as a JSON file and a CSV
// summary, both stamped with the current time.
//
// Returns:
//   - string: The JSON file path.
//   - error: An error if the directory or files cannot be written.
func (s *Suite) SaveResults(dir string) (string, error) {
	results := s.Results()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	jsonPath := filepath.Join(dir, fmt.Sprintf("benchmark_results_%s.json", stamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write results")
	}

	csvPath := filepath.Join(dir, fmt.Sprintf("benchmark_summary_%s.csv", stamp))
	if err := saveSummaryCSV(csvPath, results); err != nil {
		return "", errors.Wrap(err, "write summary")
	}
	return jsonPath, nil
}

func saveSummaryCSV(path string, results []PerformanceMetrics) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return writeSummaryCSV(f, results)
}

var summaryHeader = []string{"scenario", "frames", "fps", "preprocess_ms", "inference_ms", "postprocess_ms", "alloc_mb", "detections", "error_rate"}

func writeSummaryCSV(out io.Writer, results []PerformanceMetrics) error {
	w := csv.NewWriter(out)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Scenario.Name,
			strconv.Itoa(r.Frames),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			millis(r.MeanPreprocess()),
			millis(r.MeanInference()),
			millis(r.MeanPostProcess()),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', 3, 64)
}
