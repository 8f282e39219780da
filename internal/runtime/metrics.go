package runtime

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors for the request pipeline and the
// supervisor. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.Mutex

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	stageFaults      *prometheus.CounterVec
	componentStart   *prometheus.GaugeVec
	supervisorState  prometheus.Gauge
	shutdownsTotal   *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semo",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(subsystem, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "semo",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. Call Register before use.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:    registerer,
		requestsTotal: newCounterVec("http", "requests_total", "Total number of HTTP requests handled by the pipeline", []string{"api", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time from onRequest to onResponse",
			Buckets:   prometheus.DefBuckets,
		}, []string{"api", "method"}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semo",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently inside the pipeline",
		}),
		stageFaults:    newCounterVec("http", "stage_faults_total", "Requests that left the pipeline through onError, onTimeout or onAbort", []string{"stage"}),
		componentStart: newGaugeVec("lifecycle", "component_start_seconds", "Time taken by a component's Start", []string{"component"}),
		supervisorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semo",
			Subsystem: "lifecycle",
			Name:      "supervisor_state",
			Help:      "Supervisor state (0 uninitialized, 1 initialized, 2 running, 3 shutting down, 4 stopped)",
		}),
		shutdownsTotal: newCounterVec("lifecycle", "shutdown_triggers_total", "Shutdown triggers by source", []string{"source"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.stageFaults,
		m.componentStart,
		m.supervisorState,
		m.shutdownsTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

func (m *Metrics) requestFinished(api, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
	m.requestsTotal.WithLabelValues(api, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(api, method).Observe(elapsed.Seconds())
}

func (m *Metrics) stageFault(stage Stage) {
	if m == nil {
		return
	}
	m.stageFaults.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) componentStarted(name string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.componentStart.WithLabelValues(name).Set(elapsed.Seconds())
}

func (m *Metrics) stateChanged(s State) {
	if m == nil {
		return
	}
	m.supervisorState.Set(float64(s))
}

func (m *Metrics) shutdownTriggered(source string) {
	if m == nil {
		return
	}
	m.shutdownsTotal.WithLabelValues(source).Inc()
}
