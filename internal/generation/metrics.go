package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"genstudio/internal/domain"
)

// Metrics counts task lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	submitted    *prometheus.CounterVec
	finished     *prometheus.CounterVec
	pollErrors   *prometheus.CounterVec
	inFlight     prometheus.Gauge
	saveFailures prometheus.Counter
}

// NewMetrics registers the orchestrator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genstudio_tasks_submitted_total",
			Help: "Generation tasks accepted by a provider.",
		}, []string{"kind"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genstudio_tasks_finished_total",
			Help: "Generation tasks that reached a terminal status.",
		}, []string{"kind", "status", "error_kind"}),
		pollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genstudio_poll_errors_total",
			Help: "Status checks that failed and were retried.",
		}, []string{"kind"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "genstudio_tasks_in_flight",
			Help: "Tasks currently awaiting a provider.",
		}),
		saveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "genstudio_artifact_save_failures_total",
			Help: "Completed tasks whose artifact could not be persisted.",
		}),
	}
}

func (m *Metrics) accepted(kind domain.Kind) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(string(kind)).Inc()
	m.inFlight.Inc()
}

func (m *Metrics) finish(task domain.GenerationTask, wasInFlight bool) {
	if m == nil {
		return
	}
	errKind := ""
	if task.Error != nil {
		errKind = string(task.Error.Kind)
	}
	m.finished.WithLabelValues(string(task.Kind), string(task.Status), errKind).Inc()
	if wasInFlight {
		m.inFlight.Dec()
	}
}

func (m *Metrics) pollError(kind domain.Kind) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) saveFailed() {
	if m == nil {
		return
	}
	m.saveFailures.Inc()
}
