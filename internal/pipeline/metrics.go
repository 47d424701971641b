package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "qresponder"

// Metrics holds the Prometheus instruments of the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// AttemptsTotal counts model calls by error kind ("ok" on success).
	AttemptsTotal *prometheus.CounterVec
	// RowsTotal counts terminal row outcomes by status.
	RowsTotal *prometheus.CounterVec
	// RetriesTotal counts re-enqueued tasks.
	RetriesTotal prometheus.Counter
	// WritesTotal counts source writes by result (ok, error).
	WritesTotal *prometheus.CounterVec
	// InFlight is the number of model calls currently executing.
	InFlight prometheus.Gauge
	// EvaluateSeconds is the latency of a single model call.
	EvaluateSeconds prometheus.Histogram
}

// NewMetrics creates the pipeline metrics and registers them with reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "attempts_total",
			Help:      "Model query attempts by outcome kind.",
		}, []string{"kind"}),
		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "rows_total",
			Help:      "Terminal row outcomes by status.",
		}, []string{"status"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Tasks re-enqueued after a transient failure.",
		}),
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "writeback",
			Name:      "writes_total",
			Help:      "Writes to the requirement source by result.",
		}, []string{"result"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "in_flight",
			Help:      "Model calls currently executing.",
		}),
		EvaluateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "evaluate_seconds",
			Help:      "Latency of a single model call.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.AttemptsTotal, m.RowsTotal, m.RetriesTotal, m.WritesTotal, m.InFlight, m.EvaluateSeconds} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeAttempt(kind ErrorKind, d time.Duration) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	m.AttemptsTotal.WithLabelValues(label).Inc()
	m.EvaluateSeconds.Observe(d.Seconds())
}

func (m *Metrics) inFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) row(status OutcomeStatus) {
	if m == nil {
		return
	}
	m.RowsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) write(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.WritesTotal.WithLabelValues("error").Inc()
		return
	}
	m.WritesTotal.WithLabelValues("ok").Inc()
}
