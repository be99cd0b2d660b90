package stream

import (
	"sync"
	"time"
)

// DefaultLatencyWindow is the number of recent detections latency statistics cover.
const DefaultLatencyWindow = 600

// LatencySummary describes recent detection durations.
type LatencySummary struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// latencyTracker keeps a sliding window of durations.
type latencyTracker struct {
	mu        sync.Mutex
	window    int
	durations []time.Duration
	total     time.Duration
	count     int64
}

func newLatencyTracker(window int) *latencyTracker {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &latencyTracker{window: window, durations: make([]time.Duration, 0, window)}
}

func (t *latencyTracker) record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.durations = append(t.durations, d)
	t.total += d
	if len(t.durations) > t.window {
		// Remove oldest sample.
		t.total -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

func (t *latencyTracker) summary() LatencySummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := LatencySummary{Count: t.count}
	if len(t.durations) == 0 {
		return s
	}
	s.Min, s.Max = t.durations[0], t.durations[0]
	for _, d := range t.durations[1:] {
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
	}
	s.Mean = t.total / time.Duration(len(t.durations))
	return s
}

// Stats is a snapshot of Runner counters.
type Stats struct {
	// Submitted counts every frame offered to the runner.
	Submitted uint64 `json:"submitted"`
	// Processed counts frames that went through detection, including failed ones.
	Processed uint64 `json:"processed"`
	// Dropped counts frames discarded because a detection was in flight.
	Dropped uint64 `json:"dropped"`
	// Errors counts processed frames whose detection returned an error.
	Errors uint64 `json:"errors"`
	// Latency covers recent detection durations.
	Latency LatencySummary `json:"latency"`
}
