package submit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the submitter's Prometheus collectors.
type Metrics struct {
	transactions   *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	confirmLatency prometheus.Histogram
	inflight       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rdfpub_transactions_total", Help: "Transactions by terminal state"},
			[]string{"state"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rdfpub_broadcast_attempts_total", Help: "Broadcast attempts by result"},
			[]string{"result"},
		),
		confirmLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rdfpub_confirmation_seconds",
				Help:    "Time from broadcast to finality",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "rdfpub_inflight_transactions", Help: "Transactions currently owned by workers"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.attempts, m.confirmLatency, m.inflight)
	}
	return m
}

func (m *Metrics) observeAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(o.State.String()).Inc()
	if o.State == StateConfirmed {
		m.confirmLatency.Observe(o.Latency.Seconds())
	}
}

func (m *Metrics) addInflight(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}
