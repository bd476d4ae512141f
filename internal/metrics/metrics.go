// Package metrics is the concrete counter/gauge/histogram sink every other
// component reports through. Components depend on the narrow Sink
// interface, never on Prometheus types directly, so a no-op sink can stand
// in for tests that don't care about metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the capability surface the orchestrator's components depend on.
// The scheduler uses it directly; the warm pool takes it through its
// narrower BootDurationObserver interface.
type Sink interface {
	SetQueueDepth(n int)
	ObserveQueueWait(d time.Duration)
	IncStepCompletion(status string)
	ObserveVMBootDuration(d time.Duration)
}

// Prometheus is the production Sink, backed by a dedicated registry rather
// than the global default so multiple instances never collide in tests.
type Prometheus struct {
	registry *prometheus.Registry

	queueDepth      prometheus.Gauge
	queueWait       prometheus.Histogram
	stepCompletions *prometheus.CounterVec
	vmBootDuration  prometheus.Histogram
}

// New constructs a Prometheus sink and registers its collectors against a
// fresh registry.
func New() *Prometheus {
	registry := prometheus.NewRegistry()

	p := &Prometheus{
		registry: registry,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zephyr_scheduler_queue_depth",
			Help: "Number of jobs whose stored status is pending.",
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zephyr_scheduler_queue_wait_seconds",
			Help:    "Duration a job spent pending before the scheduler picked it up.",
			Buckets: prometheus.DefBuckets,
		}),
		stepCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zephyr_executor_step_completions_total",
			Help: "Number of steps that finished, labelled by outcome status.",
		}, []string{"status"}),
		vmBootDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zephyr_vmpool_boot_duration_seconds",
			Help:    "Time taken for a microVM to report started after create.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(p.queueDepth, p.queueWait, p.stepCompletions, p.vmBootDuration)
	return p
}

// Registry exposes the underlying registry so the HTTP edge can serve
// `GET /metrics` via promhttp.HandlerFor.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// SetQueueDepth reports the current count of pending jobs.
func (p *Prometheus) SetQueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

// ObserveQueueWait records how long a job waited in pending before the
// scheduler dispatched it.
func (p *Prometheus) ObserveQueueWait(d time.Duration) {
	p.queueWait.Observe(d.Seconds())
}

// IncStepCompletion increments the step-completion counter for the given
// outcome status (e.g. "success", "failure", "skipped").
func (p *Prometheus) IncStepCompletion(status string) {
	p.stepCompletions.WithLabelValues(status).Inc()
}

// ObserveVMBootDuration records the time between a microVM's create call
// and its driver reporting it started. Satisfies vmpool.BootDurationObserver.
func (p *Prometheus) ObserveVMBootDuration(d time.Duration) {
	p.vmBootDuration.Observe(d.Seconds())
}

// Nop discards every observation. Used by tests and by components wired
// without a metrics backend.
type Nop struct{}

func (Nop) SetQueueDepth(int)                    {}
func (Nop) ObserveQueueWait(time.Duration)       {}
func (Nop) IncStepCompletion(string)             {}
func (Nop) ObserveVMBootDuration(time.Duration)  {}
