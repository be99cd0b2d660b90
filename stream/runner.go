// Package stream - Live frame sources and a frame-dropping detection runner.
package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-pothole/common"
	"github.com/nvr-ai/go-pothole/images"
)

// Detector is the part of detector.Detector the runner needs.
type Detector interface {
	Detect(ctx context.Context, r images.Raster) ([]common.BoundingBox, error)
}

// Result is the outcome of one processed frame.
type Result struct {
	// Seq is the frame's submission number, starting at 1.
	Seq uint64 `json:"seq"`
	// Boxes are the detections in frame coordinates.
	Boxes []common.BoundingBox `json:"boxes"`
	// Err is the detection error, if any.
	Err error `json:"-"`
	// Width of the frame.
	Width int `json:"width"`
	// Height of the frame.
	Height int `json:"height"`
	// Duration of the detection call.
	Duration time.Duration `json:"duration"`
}

// Options configures a Runner.
type Options struct {
	// OnResult is called from the detection goroutine after each processed frame.
	// The next frame is not accepted until it returns.
	OnResult func(Result)
	// LatencyWindow is the number of recent detections latency statistics cover.
	LatencyWindow int
	// Log receives dropped-frame and error events. Nil discards them.
	Log logrus.FieldLogger
}

// Runner feeds frames to a detector with at most one detection in flight.
//
// A frame that arrives while a detection is running is dropped, never queued, so
// results always describe a recent frame. Latest returns the newest result.
type Runner struct {
	det      Detector
	onResult func(Result)
	log      logrus.FieldLogger
	latency  *latencyTracker

	busy      atomic.Bool
	wg        sync.WaitGroup
	latest    atomic.Pointer[Result]
	seq       atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewRunner creates a runner around det.
func NewRunner(det Detector, opts Options) *Runner {
	log := opts.Log
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Runner{
		det:      det,
		onResult: opts.OnResult,
		log:      log,
		latency:  newLatencyTracker(opts.LatencyWindow),
	}
}

// Submit offers a frame. The raster must not be modified after Submit returns
// true, since detection reads it from another goroutine.
//
// Arguments:
//   - ctx: Passed to the detector.
//   - r: The frame.
//
// Returns:
//   - uint64: The frame's sequence number.
//   - bool: false if the frame was dropped because a detection is in flight.
func (rn *Runner) Submit(ctx context.Context, r images.Raster) (uint64, bool) {
	seq := rn.seq.Add(1)
	if !rn.busy.CompareAndSwap(false, true) {
		rn.dropped.Add(1)
		rn.log.WithField("seq", seq).Debug("frame dropped, detection in flight")
		return seq, false
	}

	rn.wg.Add(1)
	go func() {
		defer rn.wg.Done()
		defer rn.busy.Store(false)
		rn.process(ctx, seq, r)
	}()
	return seq, true
}

func (rn *Runner) process(ctx context.Context, seq uint64, r images.Raster) {
	start := time.Now()
	boxes, err := rn.det.Detect(ctx, r)
	res := Result{
		Seq:      seq,
		Boxes:    boxes,
		Err:      err,
		Width:    r.Width,
		Height:   r.Height,
		Duration: time.Since(start),
	}

	rn.latency.record(res.Duration)
	rn.processed.Add(1)
	if err != nil {
		rn.failed.Add(1)
		rn.log.WithError(err).WithField("seq", seq).Warn("detection failed")
	}
	rn.latest.Store(&res)

	if rn.onResult != nil {
		rn.onResult(res)
	}
}

// Latest returns the most recent result, if any frame has been processed.
func (rn *Runner) Latest() (Result, bool) {
	res := rn.latest.Load()
	if res == nil {
		return Result{}, false
	}
	return *res, true
}

// Wait blocks until the in-flight detection, if any, has finished.
func (rn *Runner) Wait() {
	rn.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (rn *Runner) Stats() Stats {
	return Stats{
		Submitted: rn.seq.Load(),
		Processed: rn.processed.Load(),
		Dropped:   rn.dropped.Load(),
		Errors:    rn.failed.Load(),
		Latency:   rn.latency.summary(),
	}
}

// Run reads src until it is exhausted or ctx is done, submitting every frame, and
// waits for the last detection before returning.
//
// Returns:
//   - error: nil when src ends with io.EOF, ctx.Err() on cancellation, or the
//     source's error.
func (rn *Runner) Run(ctx context.Context, src FrameSource) error {
	defer rn.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		rn.Submit(ctx, frame)
	}
}
