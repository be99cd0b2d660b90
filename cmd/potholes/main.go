package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/detector"
	"github.com/nvr-ai/go-pothole/images"
	"github.com/nvr-ai/go-pothole/inference"
	"github.com/nvr-ai/go-pothole/stream"
	"github.com/nvr-ai/go-pothole/util"
)

// Report is the JSON document printed for each input.
type Report struct {
	Source string               `json:"source"`
	Width  int                  `json:"width"`
	Height int                  `json:"height"`
	Count  int                  `json:"count"`
	Boxes  []common.BoundingBox `json:"boxes"`
	Error  string               `json:"error,omitempty"`
	Frame  uint64               `json:"frame,omitempty"`
}

func newReport(source string, width, height int, boxes []common.BoundingBox, err error) Report {
	r := Report{Source: source, Width: width, Height: height, Count: len(boxes), Boxes: boxes}
	if r.Boxes == nil {
		r.Boxes = []common.BoundingBox{}
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

type app struct {
	log      *logrus.Logger
	det      *detector.Detector
	out      *json.Encoder
	annotate string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args, os.Stdout)
	stop()

	var usage usageError
	switch {
	case errors.As(err, &usage):
		fmt.Fprint(os.Stderr, usage.text)
		os.Exit(2)
	case err != nil:
		fmt.Fprintln(os.Stderr, "potholes:", err)
		os.Exit(1)
	}
}

// usageError carries argparse's usage text for a bad command line.
type usageError struct {
	text string
}

func (e usageError) Error() string {
	return e.text
}

// run parses args, sets up the detector and processes every input. Deferred
// cleanup runs before it returns, on success and on error.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	parser := argparse.NewParser("potholes", "Detect potholes in images and video with a YOLOv8 ONNX model")
	modelPath := parser.String("m", "model", &argparse.Options{Help: "ONNX model file", Required: true})
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML detector config (optional)"})
	libPath := parser.String("l", "lib", &argparse.Options{Help: "onnxruntime shared library", Default: inference.GetSharedLibPath()})
	backend := parser.String("b", "backend", &argparse.Options{Help: "Execution backend: cpu, coreml, cuda, openvino", Default: "cpu"})
	imagePaths := parser.StringList("i", "image", &argparse.Options{Help: "Image file (repeatable)"})
	dir := parser.String("d", "dir", &argparse.Options{Help: "Directory of images"})
	video := parser.String("", "video", &argparse.Options{Help: "Video file, stream URL or camera index"})
	annotate := parser.String("a", "annotate", &argparse.Options{Help: "Write annotated copies of still images to this directory"})
	bench := parser.Int("", "bench", &argparse.Options{Help: "Benchmark N iterations over the given images instead of reporting detections", Default: 0})
	benchOut := parser.String("", "bench-out", &argparse.Options{Help: "Directory for benchmark JSON and CSV results", Default: "benchmark-results"})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Debug logging"})
	if err := parser.Parse(args); err != nil {
		return usageError{text: parser.Usage(err)}
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if len(*imagePaths) == 0 && *dir == "" && *video == "" {
		return errors.New("nothing to do: pass --image, --dir or --video")
	}

	cfg := detector.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = detector.LoadConfig(*configPath); err != nil {
			return errors.Wrap(err, "config")
		}
	}

	be, err := inference.ParseBackend(*backend)
	if err != nil {
		return err
	}
	loader := inference.NewONNXLoader(inference.ONNXOptions{
		SharedLibraryPath: *libPath,
		Backend:           be,
	}, log)

	if *bench > 0 {
		return errors.Wrap(runBenchmark(ctx, log, cfg, loader, *modelPath, *imagePaths, *dir, *bench, *benchOut), "benchmark")
	}

	det, err := detector.New(cfg, inference.FileSource(*modelPath), loader, detector.WithLogger(log))
	if err != nil {
		return err
	}
	if err := det.Initialize(ctx); err != nil {
		return err
	}
	defer det.Close()

	if *annotate != "" {
		if err := os.MkdirAll(*annotate, 0o755); err != nil {
			return errors.Wrap(err, "annotate directory")
		}
	}

	a := &app{log: log, det: det, out: json.NewEncoder(stdout), annotate: *annotate}

	for _, path := range *imagePaths {
		a.detectFile(ctx, path)
	}
	if *dir != "" {
		if err := a.detectDir(ctx, *dir); err != nil {
			return errors.Wrap(err, "directory")
		}
	}
	if *video != "" {
		if err := a.detectVideo(ctx, *video); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "video")
		}
	}
	return nil
}

func (a *app) detectFile(ctx context.Context, path string) {
	img, err := images.Load(path)
	if err != nil {
		a.emit(newReport(path, 0, 0, nil, err))
		return
	}
	a.detectImage(ctx, path, img)
}

func (a *app) detectDir(ctx context.Context, dir string) error {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return err
	}
	a.log.WithField("count", len(files)).Infof("processing %s", dir)

	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		img, err := images.DecodeBytes(f.Data)
		if err != nil {
			a.emit(newReport(f.Path, 0, 0, nil, err))
			continue
		}
		a.detectImage(ctx, f.Path, img)
	}
	return nil
}

func (a *app) detectImage(ctx context.Context, source string, img image.Image) {
	raster := images.FromImage(img)
	boxes, err := a.det.Detect(ctx, raster)
	a.emit(newReport(source, raster.Width, raster.Height, boxes, err))

	if err != nil || a.annotate == "" {
		return
	}
	out := annotatedPath(a.annotate, source)
	if err := images.Save(images.Annotate(img, boxes, images.DefaultAnnotateOptions()), out); err != nil {
		a.log.WithError(err).Warn("annotate")
	}
}

// annotatedPath names the annotated copy of source. The source extension is kept
// so road.jpg and road.png in one directory do not collide.
func annotatedPath(dir, source string) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if ext != "" {
		name += "-" + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(dir, name+".annotated.png")
}

func (a *app) detectVideo(ctx context.Context, name string) error {
	src, err := stream.OpenCapture(name)
	if err != nil {
		return err
	}
	defer src.Close()

	runner := stream.NewRunner(a.det, stream.Options{
		Log: a.log,
		OnResult: func(res stream.Result) {
			report := newReport(name, res.Width, res.Height, res.Boxes, res.Err)
			report.Frame = res.Seq
			a.emit(report)
		},
	})

	err = runner.Run(ctx, src)
	stats := runner.Stats()
	a.log.WithFields(logrus.Fields{
		"submitted": stats.Submitted,
		"processed": stats.Processed,
		"dropped":   stats.Dropped,
		"errors":    stats.Errors,
		"mean":      stats.Latency.Mean,
		"max":       stats.Latency.Max,
	}).Info("video done")
	return err
}

func (a *app) emit(r Report) {
	if r.Error != "" {
		a.log.WithField("source", r.Source).Warn(r.Error)
	}
	if err := a.out.Encode(r); err != nil {
		a.log.WithError(err).Error("write report")
	}
}
