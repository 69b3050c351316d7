// Package metrics provides Prometheus metrics for the update engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"panelup/internal/update"
)

// Recorder implements update.Metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	actionsTotal       *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	decisionsTotal     *prometheus.CounterVec
	notWritableTotal   prometheus.Counter
	updateAvailability prometheus.Gauge
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

var _ update.Metrics = (*Recorder)(nil)

// NewRecorder creates a Recorder with a fresh registry that also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelup_actions_total",
				Help: "Total update actions by action and status",
			},
			[]string{"action", "status"},
		),

		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panelup_action_duration_seconds",
				Help:    "Update action duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"action"},
		),

		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelup_reconcile_decisions_total",
				Help: "File actions recorded by reconciliation passes",
			},
			[]string{"mode", "decision"},
		),

		notWritableTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "panelup_not_writable_total",
				Help: "Destination paths that could not be written during installs",
			},
		),

		// 1 available, 0 up to date, -1 unknown.
		updateAvailability: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "panelup_update_available",
				Help: "Result of the last release check",
			},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelup_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panelup_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveAction(action update.Action, status string, d time.Duration) {
	r.actionsTotal.WithLabelValues(string(action), status).Inc()
	r.actionDuration.WithLabelValues(string(action)).Observe(d.Seconds())
}

func (r *Recorder) ObserveReport(rep *update.Report) {
	if rep == nil {
		return
	}
	mode := string(rep.Mode)
	s := rep.Stats
	for decision, n := range map[update.Decision]int{
		update.DecisionDir:    s.Dirs,
		update.DecisionCopy:   s.Copied,
		update.DecisionUpdate: s.Updated,
		update.DecisionSame:   s.Same,
		update.DecisionSkip:   s.Skipped,
		update.DecisionError:  s.NotWritable,
	} {
		if n > 0 {
			r.decisionsTotal.WithLabelValues(mode, string(decision)).Add(float64(n))
		}
	}
	if rep.Mode == update.ModeInstall && s.NotWritable > 0 {
		r.notWritableTotal.Add(float64(s.NotWritable))
	}
}

func (r *Recorder) SetAvailability(a update.Availability) {
	switch a {
	case update.AvailabilityAvailable:
		r.updateAvailability.Set(1)
	case update.AvailabilityUpToDate:
		r.updateAvailability.Set(0)
	default:
		r.updateAvailability.Set(-1)
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
