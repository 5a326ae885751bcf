// Package metrics exposes the daemon's Prometheus collectors: HTTP traffic,
// hiring attempt outcomes, phase latencies and completion subscription health.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "nexus"

// Recorder owns a private registry so tests can inspect it in isolation.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	phaseDuration   *prometheus.HistogramVec
	completions     prometheus.Counter
	subscriptionErr prometheus.Counter
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the process-wide recorder, which also carries the Go
// runtime and process collectors.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewRecorder()
		defaultRecorder.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return defaultRecorder
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.httpRequests, r.httpErrors, r.httpLatency = newHTTPCollectors()

	r.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hire_attempts_total",
		Help:      "Hiring attempts by terminal phase and error code.",
	}, []string{"phase", "code"})
	r.attemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hire_attempt_duration_seconds",
		Help:      "Wall time from trigger to terminal phase.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"phase"})
	r.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hire_phase_duration_seconds",
		Help:      "Time spent in each non-terminal hiring phase.",
		Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120},
	}, []string{"phase"})
	r.completions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_completions_total",
		Help:      "TaskCompleted events forwarded to the feed.",
	})
	r.subscriptionErr = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_errors_total",
		Help:      "Completion subscription failures, including undecodable logs.",
	})

	r.registry.MustRegister(
		r.httpRequests, r.httpErrors, r.httpLatency,
		r.attempts, r.attemptDuration, r.phaseDuration,
		r.completions, r.subscriptionErr,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAttempt counts a terminal hiring attempt.
func (r *Recorder) ObserveAttempt(phase, code string, elapsed time.Duration) {
	r.attempts.WithLabelValues(phase, code).Inc()
	r.attemptDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// ObservePhase records how long an attempt stayed in phase.
func (r *Recorder) ObservePhase(phase string, elapsed time.Duration) {
	r.phaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// CompletionReceived counts a forwarded completion event.
func (r *Recorder) CompletionReceived() {
	r.completions.Inc()
}

// SubscriptionFailed counts a subscription or decode failure.
func (r *Recorder) SubscriptionFailed() {
	r.subscriptionErr.Inc()
}
