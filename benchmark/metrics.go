package benchmark

import (
	"runtime"
	"time"
)

// PerformanceMetrics captures the outcome of one scenario run.
type PerformanceMetrics struct {
	Scenario            Scenario      `json:"scenario"`
	Timestamp           time.Time     `json:"timestamp"`
	Frames              int           `json:"frames"`
	Failures            int           `json:"failures"`
	TotalDuration       time.Duration `json:"total_duration"`
	PreprocessDuration  time.Duration `json:"preprocess_duration"`
	InferenceDuration   time.Duration `json:"inference_duration"`
	PostProcessDuration time.Duration `json:"post_process_duration"`
	FramesPerSecond     float64       `json:"frames_per_second"`
	MemoryStats         MemoryMetrics `json:"memory_stats"`
	CPUStats            CPUMetrics    `json:"cpu_stats"`
	DetectionCount      int           `json:"detection_count"`
	ErrorRate           float64       `json:"error_rate"`
}

// MeanPreprocess is the average letterbox time per successful frame.
func (m PerformanceMetrics) MeanPreprocess() time.Duration {
	return m.perFrame(m.PreprocessDuration)
}

// MeanInference is the average engine time per successful frame.
func (m PerformanceMetrics) MeanInference() time.Duration {
	return m.perFrame(m.InferenceDuration)
}

// MeanPostProcess is the average decode, NMS and rescale time per successful frame.
func (m PerformanceMetrics) MeanPostProcess() time.Duration {
	return m.perFrame(m.PostProcessDuration)
}

func (m PerformanceMetrics) perFrame(d time.Duration) time.Duration {
	ok := m.Frames - m.Failures
	if ok <= 0 {
		return 0
	}
	return d / time.Duration(ok)
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU     int `json:"num_cpu"`
	GOMAXPROCS int `json:"gomaxprocs"`
}

func readMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return m
}

func memoryDelta(start, end runtime.MemStats) MemoryMetrics {
	return MemoryMetrics{
		AllocBytes:      end.Alloc,
		TotalAllocBytes: end.TotalAlloc - start.TotalAlloc,
		SysBytes:        end.Sys,
		NumGC:           end.NumGC - start.NumGC,
		HeapAllocBytes:  end.HeapAlloc,
		HeapSysBytes:    end.HeapSys,
	}
}
