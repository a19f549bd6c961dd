package ingestion

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/astrorag-go/internal/stage"
)

// Metrics holds the Prometheus metrics of the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// stageRunsTotal counts stage runs by stage and result: "ok",
	// "skipped", "lease_held", "content_changed" or "error".
	stageRunsTotal *prometheus.CounterVec

	// stageDurationSeconds records how long each executed stage took.
	stageDurationSeconds *prometheus.HistogramVec

	// itemFailuresTotal counts per-item failures by stage and kind.
	itemFailuresTotal *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		stageRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astrorag",
			Subsystem: "ingest",
			Name:      "stage_runs_total",
			Help:      "Total number of document stage runs, partitioned by stage and result.",
		}, []string{"stage", "result"}),

		stageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "astrorag",
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of executed document stages.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"stage"}),

		itemFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astrorag",
			Subsystem: "ingest",
			Name:      "item_failures_total",
			Help:      "Total number of per-item failures, partitioned by stage and item kind.",
		}, []string{"stage", "kind"}),
	}
}

func (m *Metrics) observe(rep *Report, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	s := string(rep.Stage)
	m.stageRunsTotal.WithLabelValues(s, result(rep, err)).Inc()
	if !rep.Skipped {
		m.stageDurationSeconds.WithLabelValues(s).Observe(elapsed.Seconds())
	}
	for _, it := range rep.Items {
		if it.Err != nil {
			m.itemFailuresTotal.WithLabelValues(s, it.Kind).Inc()
		}
	}
}

func result(rep *Report, err error) string {
	switch {
	case errors.Is(err, stage.ErrLeaseHeld):
		return "lease_held"
	case errors.Is(err, stage.ErrContentChanged):
		return "content_changed"
	case err != nil:
		return "error"
	case rep.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}
