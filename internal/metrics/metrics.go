// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "newsauth"

// Outcome label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBlocked = "blocked"
)

type Metrics struct {
	Logins          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	TheftDetections prometheus.Counter
	Revocations     *prometheus.CounterVec
	SessionsSwept   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh token rotations by result.",
		}, []string{"result"}),
		TheftDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_theft_detected_total",
			Help:      "Refresh attempts whose fingerprint did not match the stored session.",
		}),
		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Refresh sessions deleted outside normal rotation, by reason.",
		}, []string{"reason"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired refresh sessions removed by the sweeper.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Logins, m.Refreshes, m.TheftDetections, m.Revocations, m.SessionsSwept)
	}
	return m
}

func (m *Metrics) Login(result string) {
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Theft() {
	m.TheftDetections.Inc()
}

func (m *Metrics) Revoked(reason string, n int64) {
	if n > 0 {
		m.Revocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Swept(n int64) {
	if n > 0 {
		m.SessionsSwept.Add(float64(n))
	}
}
