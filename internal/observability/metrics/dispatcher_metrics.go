package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	DispatcherReasonDeadlineExceeded = "deadline_exceeded"
	DispatcherReasonUniqueViolation  = "unique_violation"
	DispatcherReasonDelivery         = "delivery"
	DispatcherReasonUnknown          = "unknown"
)

// DispatcherMetrics captures outbound event dispatcher health signals.
type DispatcherMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	published   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	runLoopLag  prometheus.Observer
}

var (
	dispatcherMetricsOnce sync.Once
	dispatcherMetrics     *DispatcherMetrics
)

// Dispatcher returns the singleton dispatcher metrics registry.
func Dispatcher() *DispatcherMetrics {
	return DispatcherWithConfig(Config{})
}

// DispatcherWithConfig returns the singleton dispatcher metrics registry using config labels.
func DispatcherWithConfig(cfg Config) *DispatcherMetrics {
	dispatcherMetricsOnce.Do(func() {
		dispatcherMetrics = newDispatcherMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dispatcherMetrics
}

// ResetDispatcherMetricsForTest resets the dispatcher metrics singleton for tests.
func ResetDispatcherMetricsForTest() {
	dispatcherMetricsOnce = sync.Once{}
	dispatcherMetrics = nil
}

func newDispatcherMetrics(registerer prometheus.Registerer, cfg Config) *DispatcherMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paylink"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paylink_dispatcher_runs_total",
		Help:        "Outbound event dispatcher runs by worker.",
		ConstLabels: constLabels,
	}, []string{"worker"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "paylink_dispatcher_run_duration_seconds",
		Help:        "Outbound event dispatcher run latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"worker"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paylink_dispatcher_events_published_total",
		Help:        "Outbound events successfully published by type.",
		ConstLabels: constLabels,
	}, []string{"event_type"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paylink_dispatcher_errors_total",
		Help:        "Outbound event dispatcher errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"worker", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "paylink_dispatcher_runloop_lag_seconds",
		Help:        "Dispatcher run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(runs, duration, published, errorsTotal, runLoopLag)

	return &DispatcherMetrics{
		runs:        runs,
		duration:    duration,
		published:   published,
		errorsTotal: errorsTotal,
		runLoopLag:  runLoopLag,
	}
}

// IncRun increments the run counter for a dispatcher worker.
func (m *DispatcherMetrics) IncRun(worker string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(worker).Inc()
}

// ObserveRunDuration records dispatcher run latency in seconds.
func (m *DispatcherMetrics) ObserveRunDuration(worker string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(worker).Observe(duration.Seconds())
}

// AddPublished adds to the published counter for an event type.
func (m *DispatcherMetrics) AddPublished(eventType string, n int) {
	if m == nil || m.published == nil || n <= 0 {
		return
	}
	m.published.WithLabelValues(eventType).Add(float64(n))
}

// IncError increments the error counter for the worker and reason.
func (m *DispatcherMetrics) IncError(worker, reason string) {
	if m == nil || m.errorsTotal == nil {
		return
	}
	m.errorsTotal.WithLabelValues(worker, reason).Inc()
}

// ObserveRunLoopLag records how far behind schedule the run loop fired.
func (m *DispatcherMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || m.runLoopLag == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyDispatcherReason maps an error to a low-cardinality reason label.
func ClassifyDispatcherReason(err error) string {
	switch {
	case err == nil:
		return DispatcherReasonUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return DispatcherReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return DispatcherReasonUniqueViolation
	default:
		return DispatcherReasonUnknown
	}
}
