package middleware

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rjsadow/folio/internal/plugins"
)

// Metrics holds the Prometheus collectors for credential resolution. It also
// implements plugins.FailureRecorder so adapters can count rejected
// credentials.
type Metrics struct {
	resolutions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	denials     *prometheus.CounterVec
}

// NewMetrics registers the auth collectors with reg. A nil reg means
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "auth",
			Name:      "resolutions_total",
			Help:      "Credential resolutions by credential kind and outcome",
		}, []string{"credential", "outcome"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "auth",
			Name:      "invalid_credentials_total",
			Help:      "Presented credentials the identity provider rejected",
		}, []string{"credential", "reason"}),

		denials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "auth",
			Name:      "denials_total",
			Help:      "Requests rejected by a Require* middleware",
		}, []string{"credential", "status"}),
	}
}

// RecordAuthFailure implements plugins.FailureRecorder.
func (m *Metrics) RecordAuthFailure(ctx context.Context, kind plugins.CredentialKind, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) resolved(kind plugins.CredentialKind, ok bool) {
	if m == nil {
		return
	}
	outcome := "absent"
	if ok {
		outcome = "resolved"
	}
	m.resolutions.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) denied(kind plugins.CredentialKind, status string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(string(kind), status).Inc()
}

var _ plugins.FailureRecorder = (*Metrics)(nil)
