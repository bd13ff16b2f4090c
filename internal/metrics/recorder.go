// Package metrics exposes execution, change and delivery counters on a
// dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "changewatch"

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	executions    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	changes       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	pauses        prometheus.Counter
	due           prometheus.Gauge
	sweeps        prometheus.Counter
}

// New builds a recorder with Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: reg,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Subscription executions by terminal state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of subscription executions.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"state"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Detected record changes by kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change summary deliveries by result.",
		}, []string{"result"}),
		pauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_pauses_total",
			Help:      "Subscriptions paused after reaching their error threshold.",
		}),
		due: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_subscriptions",
			Help:      "Subscriptions selected by the last sweep.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed due sweeps.",
		}),
	}
	reg.MustRegister(r.executions, r.duration, r.changes, r.notifications, r.pauses, r.due, r.sweeps)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
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
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Execution records one terminal execution.
func (r *Recorder) Execution(state string, took time.Duration) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues(state).Inc()
	r.duration.WithLabelValues(state).Observe(took.Seconds())
}

func (r *Recorder) Changes(created, modified, removed int) {
	if r == nil {
		return
	}
	if created > 0 {
		r.changes.WithLabelValues("created").Add(float64(created))
	}
	if modified > 0 {
		r.changes.WithLabelValues("modified").Add(float64(modified))
	}
	if removed > 0 {
		r.changes.WithLabelValues("removed").Add(float64(removed))
	}
}

// Notification records a delivery outcome: sent, failed or skipped.
func (r *Recorder) Notification(result string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(result).Inc()
}

func (r *Recorder) Pause() {
	if r == nil {
		return
	}
	r.pauses.Inc()
}

func (r *Recorder) Sweep(due int) {
	if r == nil {
		return
	}
	r.due.Set(float64(due))
	r.sweeps.Inc()
}
