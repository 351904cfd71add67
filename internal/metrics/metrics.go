// Package metrics exposes Prometheus collectors for generation, flashing and telemetry.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aquaflash/internal/flasher"
)

const (
	metricPrefix = "aquaflash_"

	resultSuccess  = "success"
	resultError    = "error"
	resultAccepted = "accepted"
	resultRejected = "rejected"
)

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	firmwareGenerated *prometheus.CounterVec
	firmwareWarnings  *prometheus.CounterVec

	flashTransitions *prometheus.CounterVec
	flashResults     *prometheus.CounterVec
	flashProgress    prometheus.Gauge
	flashDuration    *prometheus.HistogramVec
	flashBytes       prometheus.Counter

	compileLatency *prometheus.HistogramVec

	telemetryMessages *prometheus.CounterVec

	mu           sync.Mutex
	flashStarted time.Time
	now          func() time.Time
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
	}

	m.firmwareGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "firmware_generated_total",
			Help: "Total generated sketches by board",
		},
		[]string{"board"},
	)
	m.firmwareWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "firmware_warnings_total",
			Help: "Total generator warnings by board",
		},
		[]string{"board"},
	)

	m.flashTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "flash_transitions_total",
			Help: "Total flasher state transitions by target state",
		},
		[]string{"state"},
	)
	m.flashResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "flash_results_total",
			Help: "Total finished flash attempts by result",
		},
		[]string{"result"},
	)
	m.flashProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "flash_progress_percent",
			Help: "Progress of the current flash write",
		},
	)
	m.flashDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "flash_duration_seconds",
			Help:    "Time from compile start to success or error",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)
	m.flashBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "flash_bytes_total",
			Help: "Total bytes of compiled firmware images",
		},
	)

	m.compileLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "compile_latency_seconds",
			Help:    "Compile service latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	m.telemetryMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "telemetry_messages_total",
			Help: "Total device telemetry messages by result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(
		m.firmwareGenerated,
		m.firmwareWarnings,
		m.flashTransitions,
		m.flashResults,
		m.flashProgress,
		m.flashDuration,
		m.flashBytes,
		m.compileLatency,
		m.telemetryMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveGenerate records one sketch generation.
func (m *Metrics) ObserveGenerate(board string, warnings int) {
	m.firmwareGenerated.WithLabelValues(board).Inc()
	if warnings > 0 {
		m.firmwareWarnings.WithLabelValues(board).Add(float64(warnings))
	}
}

// ObserveCompile records one compile round trip.
func (m *Metrics) ObserveCompile(d time.Duration, err error) {
	m.compileLatency.WithLabelValues(result(err)).Observe(d.Seconds())
}

// ObserveFlashBytes adds written image bytes.
func (m *Metrics) ObserveFlashBytes(n int) {
	m.flashBytes.Add(float64(n))
}

// ObserveTelemetry records one device message.
func (m *Metrics) ObserveTelemetry(err error) {
	label := resultAccepted
	if err != nil {
		label = resultRejected
	}
	m.telemetryMessages.WithLabelValues(label).Inc()
}

// Observe implements flasher.Observer.
func (m *Metrics) Observe(ev flasher.Event) {
	switch ev.Type {
	case flasher.EventProgress:
		m.flashProgress.Set(float64(ev.Progress))
		return
	case flasher.EventState:
	default:
		return
	}

	m.flashTransitions.WithLabelValues(string(ev.State)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.State {
	case flasher.StateCompiling:
		m.flashStarted = m.now()
		m.flashProgress.Set(0)
	case flasher.StateSuccess, flasher.StateError:
		label := resultSuccess
		if ev.State == flasher.StateError {
			label = resultError
		}
		m.flashResults.WithLabelValues(label).Inc()
		if !m.flashStarted.IsZero() {
			m.flashDuration.WithLabelValues(label).Observe(m.now().Sub(m.flashStarted).Seconds())
			m.flashStarted = time.Time{}
		}
	}
}

// InstrumentCompiler wraps c so every compile is timed and the size of
// successful images is counted.
func (m *Metrics) InstrumentCompiler(c flasher.Compiler) flasher.Compiler {
	return &instrumentedCompiler{next: c, metrics: m}
}

type instrumentedCompiler struct {
	next    flasher.Compiler
	metrics *Metrics
}

func (c *instrumentedCompiler) Compile(ctx context.Context, req flasher.Request) ([]byte, error) {
	start := c.metrics.now()
	bin, err := c.next.Compile(ctx, req)
	c.metrics.ObserveCompile(c.metrics.now().Sub(start), err)
	if err == nil {
		c.metrics.ObserveFlashBytes(len(bin))
	}
	return bin, err
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
