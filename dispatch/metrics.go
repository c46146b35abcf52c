package dispatch

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dispatch counters on a private registry, exposed at
// /metrics for the operator dashboard.
type Metrics struct {
	r            *prometheus.Registry
	JobsFinished *prometheus.CounterVec
	Attempts     *prometheus.CounterVec
	QuotaDenied  *prometheus.CounterVec
	MemberHealth *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()

	m := &Metrics{
		r: r,
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "printfleet_jobs_finished_total",
				Help: "print jobs reaching a terminal state",
			},
			[]string{"format", "state", "reason"},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "printfleet_attempts_total",
				Help: "per-printer submission attempts",
			},
			[]string{"printer", "outcome"},
		),
		QuotaDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "printfleet_quota_denied_total",
				Help: "reservations denied by quota",
			},
			[]string{"constraint"},
		),
		MemberHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "printfleet_member_health",
				Help: "pool member health (0 healthy, 1 suspect, 2 quarantined)",
			},
			[]string{"pool", "printer"},
		),
	}
	r.MustRegister(m.JobsFinished, m.Attempts, m.QuotaDenied, m.MemberHealth)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.r, promhttp.HandlerOpts{})
}
