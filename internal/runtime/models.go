package runtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// RouteStats accumulates per-route request statistics for the health
// endpoints.
type RouteStats struct {
	mu sync.Mutex

	Method  string `json:"method"`
	Pattern string `json:"pattern"`
	APIName string `json:"api_name"`

	Requests        uint64    `json:"requests"`
	Failures        uint64    `json:"failures"`
	LastStatus      int       `json:"last_status"`
	LastRequestAt   time.Time `json:"last_request_at"`
	TotalDurationNs int64     `json:"total_duration_ns"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	RequestsInWindow uint64  `json:"requests_in_window"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Timeout    uint64 `json:"timeout"`
	Aborted    uint64 `json:"aborted"`
	Handler    uint64 `json:"handler"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// ErrorCategory groups request faults for RouteStats.
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryAborted    ErrorCategory = "aborted"
	ErrorCategoryHandler    ErrorCategory = "handler"
)

func newRouteStats(route Route) *RouteStats {
	return &RouteStats{
		Method:           route.Method,
		Pattern:          route.Pattern,
		APIName:          route.APIName,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *RouteStats) record(status int, duration time.Duration, category ErrorCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.Requests++
	if category != ErrorCategoryNone {
		s.Failures++
	}
	s.LastStatus = status
	s.LastRequestAt = now.UTC()
	s.TotalDurationNs += int64(duration)

	s.latencyWindow.Add(duration)
	snapshot := s.latencyWindow.Snapshot()
	snapshot.AverageNs = s.TotalDurationNs / int64(s.Requests)
	s.Latency = snapshot

	tp := s.throughputWindow.AddAndSnapshot(now)
	s.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		RequestsInWindow: uint64(tp.Count),
	}

	s.Errors.Record(category, err)
}

func (s *RouteStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type Alias RouteStats
	return jsoncodec.Marshal((*Alias)(s))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		return
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTimeout:
		e.Timeout++
	case ErrorCategoryAborted:
		e.Aborted++
	default:
		e.Handler++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// classifyError maps a fault onto a RouteStats category. Managed errors with
// a 4xx status count as validation.
func classifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var managed *errspkg.ManagedError
	if errors.As(err, &managed) && managed.Status >= 400 && managed.Status < 500 {
		return ErrorCategoryValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryAborted
	}
	return ErrorCategoryHandler
}

// latencyWindow keeps the most recent request durations in a ring.
type latencyWindow struct {
	ring []time.Duration
	pos  int
	full bool
	last time.Duration
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]time.Duration, 0, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.last = d
	if !lw.full {
		lw.ring = append(lw.ring, d)
		lw.full = len(lw.ring) == cap(lw.ring)
		return
	}
	lw.ring[lw.pos] = d
	lw.pos = (lw.pos + 1) % len(lw.ring)
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: int64(lw.last), SampleSize: len(lw.ring)}
	if len(lw.ring) == 0 {
		return metrics
	}

	sorted := make([]int64, len(lw.ring))
	var sum int64
	for i, d := range lw.ring {
		sorted[i] = int64(d)
		sum += int64(d)
	}
	slices.Sort(sorted)

	metrics.AverageNs = sum / int64(len(sorted))
	metrics.P50Ns = percentile(sorted, 0.50)
	metrics.P95Ns = percentile(sorted, 0.95)
	metrics.P99Ns = percentile(sorted, 0.99)
	return metrics
}

// percentile interpolates linearly between the two closest ranks of an
// ascending slice.
func percentile(sorted []int64, q float64) int64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	rank := q * float64(n-1)
	lo := int(rank)
	if lo == n-1 {
		return sorted[lo]
	}
	return sorted[lo] + int64(float64(sorted[lo+1]-sorted[lo])*(rank-float64(lo)))
}

// throughputWindow counts requests in one-second buckets covering the
// horizon.
type throughputWindow struct {
	buckets []throughputBucket
}

type throughputBucket struct {
	second int64
	count  int
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	seconds := int(horizon / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &throughputWindow{buckets: make([]throughputBucket, seconds)}
}

// AddAndSnapshot counts one request at now and reports the requests seen
// from the oldest live bucket up to now.
func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	sec := now.Unix()
	b := &tw.buckets[int(sec%int64(len(tw.buckets)))]
	if b.second != sec {
		*b = throughputBucket{second: sec}
	}
	b.count++

	current := tw.current(now)
	var snap throughputSnapshot
	oldest := current
	for _, bucket := range tw.buckets {
		if bucket.count == 0 || bucket.second <= current-int64(len(tw.buckets)) || bucket.second > current {
			continue
		}
		snap.Count += bucket.count
		oldest = min(oldest, bucket.second)
	}
	snap.WindowSeconds = float64(current-oldest) + 1
	snap.CurrentRPS = float64(snap.Count) / snap.WindowSeconds
	return snap
}

func (tw *throughputWindow) current(now time.Time) int64 {
	latest := now.Unix()
	for _, bucket := range tw.buckets {
		latest = max(latest, bucket.second)
	}
	return latest
}
