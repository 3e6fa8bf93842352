package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// RuntimeProfiler collects per-stage timings and per-frame counters of the
// fusion pipeline, samples memory use, and reports all of it through a
// logger.
//
// It satisfies fusion.Recorder and is safe for concurrent use by frame
// workers.
type RuntimeProfiler struct {
	log logs.Log

	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	memStats    runtime.MemStats
	goroutines  int
	lastGCCount uint32

	customMetrics  map[string]*MetricTracker
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks a rolling window of values for one metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (t *MetricTracker) add(value float64, maxSamples int) {
	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.values = append(t.values, value)
	t.sum += value
	if len(t.values) > maxSamples {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}
	t.count++
}

// TimeTracker tracks a rolling window of durations for one operation.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

func (t *TimeTracker) add(d time.Duration, maxSamples int) {
	if t.count == 0 || d < t.minTime {
		t.minTime = d
	}
	if t.count == 0 || d > t.maxTime {
		t.maxTime = d
	}
	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > maxSamples {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to log a report (default: 10s).
	ReportInterval time.Duration
	// SampleInterval specifies how often to sample memory (default: 500ms).
	SampleInterval time.Duration
	// MaxSamples bounds the rolling window per metric (default: 1000).
	MaxSamples int
}

// NewRuntimeProfiler creates a profiler that reports to log.
//
// Arguments:
//   - log: Destination of periodic and final reports.
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *RuntimeProfiler: A stopped profiler; call Start for periodic reports.
func NewRuntimeProfiler(log logs.Log, opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = 500 * time.Millisecond
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RuntimeProfiler{
		log:            log,
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and periodic reporting. Calling it twice is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()

	rp.wg.Add(2)
	go rp.sampleLoop()
	go func() {
		defer rp.wg.Done()

		ticker := time.NewTicker(rp.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rp.ctx.Done():
				return
			case <-ticker.C:
				rp.Report()
			}
		}
	}()
}

// Stop halts the background goroutines and waits for them.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

// RecordMetric records a value for a named metric.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.customMetrics[name]
	if !ok {
		tracker = &MetricTracker{values: make([]float64, 0, 64)}
		rp.customMetrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Returns:
//   - A function to call when the operation completes.
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.recordOperationTime(name, time.Since(start))
	}
}

func (rp *RuntimeProfiler) recordOperationTime(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.operationTimes[name]
	if !ok {
		tracker = &TimeTracker{}
		rp.operationTimes[name] = tracker
	}
	tracker.add(d, rp.maxSamples)
}

func (rp *RuntimeProfiler) sampleLoop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.sample()
		}
	}
}

func (rp *RuntimeProfiler) sample() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	runtime.ReadMemStats(&rp.memStats)
	rp.goroutines = runtime.NumGoroutine()
}

// OperationStats summarizes one timed operation.
type OperationStats struct {
	Name  string        `json:"name"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Count int64         `json:"count"`
}

// MetricStats summarizes one metric.
type MetricStats struct {
	Name  string  `json:"name"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Count int64   `json:"count"`
}

// Snapshot is a point-in-time copy of everything recorded.
type Snapshot struct {
	Uptime     time.Duration    `json:"uptime"`
	HeapAlloc  uint64           `json:"heap_alloc"`
	Goroutines int              `json:"goroutines"`
	Operations []OperationStats `json:"operations"`
	Metrics    []MetricStats    `json:"metrics"`
}

// Snapshot returns the current statistics, sorted by name. Averages and
// sums cover the rolling window; counts cover the whole run.
func (rp *RuntimeProfiler) Snapshot() Snapshot {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	s := Snapshot{
		Uptime:     time.Since(rp.startTime),
		HeapAlloc:  rp.memStats.HeapAlloc,
		Goroutines: rp.goroutines,
	}
	for name, t := range rp.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		s.Operations = append(s.Operations, OperationStats{
			Name:  name,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
			Count: t.count,
		})
	}
	for name, t := range rp.customMetrics {
		if len(t.values) == 0 {
			continue
		}
		s.Metrics = append(s.Metrics, MetricStats{
			Name:  name,
			Avg:   t.sum / float64(len(t.values)),
			Min:   t.min,
			Max:   t.max,
			Sum:   t.sum,
			Count: t.count,
		})
	}
	sort.Slice(s.Operations, func(i, j int) bool { return s.Operations[i].Name < s.Operations[j].Name })
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })
	return s
}

// Report logs the current statistics.
func (rp *RuntimeProfiler) Report() {
	s := rp.Snapshot()

	rp.mu.Lock()
	newGC := rp.memStats.NumGC - rp.lastGCCount
	rp.lastGCCount = rp.memStats.NumGC
	rp.mu.Unlock()

	rp.log.Infof("Profiler: uptime %v, heap %s, goroutines %d, %d new GC cycles",
		s.Uptime.Truncate(time.Millisecond), formatBytes(s.HeapAlloc), s.Goroutines, newGC)
	for _, op := range s.Operations {
		rp.log.Infof("  %-12s avg=%v min=%v max=%v count=%d", op.Name,
			op.Avg.Truncate(time.Microsecond), op.Min.Truncate(time.Microsecond), op.Max.Truncate(time.Microsecond), op.Count)
	}
	for _, m := range s.Metrics {
		rp.log.Infof("  %-14s avg=%.2f min=%.0f max=%.0f count=%d", m.Name, m.Avg, m.Min, m.Max, m.Count)
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
