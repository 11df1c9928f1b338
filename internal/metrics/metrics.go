// Package metrics exposes per-watcher pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake"

// Recorder holds the pipeline collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry        *prom.Registry
	files           *prom.CounterVec
	attemptDuration *prom.HistogramVec
	stepDuration    *prom.HistogramVec
	retries         *prom.CounterVec
	inProgress      *prom.GaugeVec
	pending         *prom.GaugeVec
}

// New builds a recorder on a dedicated registry that also carries the Go and
// process collectors.
func New() *Recorder {
	reg := prom.NewRegistry()
	r := &Recorder{
		registry: reg,
		files: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files reaching a terminal outcome",
		}, []string{"watcher", "outcome"}),
		attemptDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of a single processing attempt",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 12),
		}, []string{"watcher"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps",
			Buckets:   prom.ExponentialBuckets(0.05, 2, 14),
		}, []string{"watcher", "step"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts that failed and were scheduled again",
		}, []string{"watcher"}),
		inProgress: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "in_progress",
			Help:      "Files with an active attempt",
		}, []string{"watcher"}),
		pending: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pending",
			Help:      "Files waiting in the pending queue, including scheduled retries",
		}, []string{"watcher"}),
	}
	reg.MustRegister(r.files, r.attemptDuration, r.stepDuration, r.retries, r.inProgress, r.pending)
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Recorder) IncOutcome(watcher, outcome string) {
	if r == nil {
		return
	}
	r.files.WithLabelValues(watcher, outcome).Inc()
}

func (r *Recorder) IncRetry(watcher string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(watcher).Inc()
}

func (r *Recorder) ObserveAttempt(watcher string, d time.Duration) {
	if r == nil {
		return
	}
	r.attemptDuration.WithLabelValues(watcher).Observe(d.Seconds())
}

func (r *Recorder) ObserveStep(watcher, step string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(watcher, step).Observe(d.Seconds())
}

func (r *Recorder) SetInProgress(watcher string, n int) {
	if r == nil {
		return
	}
	r.inProgress.WithLabelValues(watcher).Set(float64(n))
}

func (r *Recorder) SetPending(watcher string, n int) {
	if r == nil {
		return
	}
	r.pending.WithLabelValues(watcher).Set(float64(n))
}
