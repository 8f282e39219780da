package runtime

import (
	"net/http"
	"runtime"
	"runtime/metrics"
	"strings"
	"sync"
	"time"

	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
)

// Health statuses reported by GET /health.
const (
	HealthOK       = "ok"
	HealthStarting = "starting"
	HealthStopping = "stopping"
)

// LifecycleView is the part of the supervisor the health endpoint reads.
type LifecycleView interface {
	State() State
	ServiceName() string
	Components() []ComponentStatus
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	State         string            `json:"state"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Resources     ResourceUsage     `json:"resources"`
	Components    []ComponentStatus `json:"components"`
}

type healthHandler struct {
	lifecycle   LifecycleView
	pipeline    *Pipeline
	tracker     *resourceTracker
	corsOrigins []string
	started     time.Time
	logger      *loggingpkg.Logger
}

func (h *healthHandler) report() (int, HealthReport) {
	report := HealthReport{
		Status:    HealthOK,
		Resources: h.tracker.Snapshot(),
	}
	uptime := time.Since(h.started)
	report.Uptime = uptime.Round(time.Second).String()
	report.UptimeSeconds = uptime.Seconds()

	if h.lifecycle == nil {
		report.State = StateRunning.String()
		return http.StatusOK, report
	}

	state := h.lifecycle.State()
	report.Service = h.lifecycle.ServiceName()
	report.State = state.String()
	report.Components = h.lifecycle.Components()
	switch state {
	case StateRunning:
		return http.StatusOK, report
	case StateShuttingDown, StateStopped:
		report.Status = HealthStopping
	default:
		report.Status = HealthStarting
	}
	return http.StatusServiceUnavailable, report
}

func (h *healthHandler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if h.preflight(w, r) {
		return
	}
	status, report := h.report()
	h.writeJSON(w, status, report)
}

func (h *healthHandler) serveRoutes(w http.ResponseWriter, r *http.Request) {
	if h.preflight(w, r) {
		return
	}
	var stats []*RouteStats
	if h.pipeline != nil {
		stats = h.pipeline.Stats()
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// preflight applies CORS headers and answers OPTIONS requests.
func (h *healthHandler) preflight(w http.ResponseWriter, r *http.Request) bool {
	if allowed := allowedOrigin(h.corsOrigins, r.Header.Get("Origin")); allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (h *healthHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode health response", loggingpkg.LogFields{"error": err.Error()})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin.
func allowedOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(a, origin) {
			return origin
		}
	}
	return ""
}

// resourceTracker samples coarse CPU and memory usage between calls.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

const cpuSecondsMetric = "/sched/cpu:seconds"

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuSecondsMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	sample := r.samples[0]
	now := time.Now()

	var cpuPercent float64
	if sample.Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := sample.Value.Float64()
		if !r.lastSample.IsZero() {
			wall := now.Sub(r.lastSample).Seconds()
			if wall > 0 && r.numCPU > 0 {
				cpuPercent = (cpuSeconds - r.lastCPUSeconds) / wall / r.numCPU * 100
			}
		}
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
