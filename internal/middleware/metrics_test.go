package middleware

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rjsadow/folio/internal/plugins"
)

// findCounter returns the counter in family name whose labels match exactly.
func findCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("no %s sample with labels %v", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestMetrics_Gathered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAuthFailure(context.Background(), plugins.CredentialAPIKey, "RATE_LIMITED")
	m.RecordAuthFailure(context.Background(), plugins.CredentialAPIKey, "RATE_LIMITED")
	m.resolved(plugins.CredentialSession, true)
	m.denied(plugins.CredentialSession, "401")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	if got := findCounter(t, families, "folio_auth_invalid_credentials_total",
		map[string]string{"credential": "api_key", "reason": "RATE_LIMITED"}); got != 2 {
		t.Errorf("invalid credentials = %v, want 2", got)
	}
	if got := findCounter(t, families, "folio_auth_resolutions_total",
		map[string]string{"credential": "session", "outcome": "resolved"}); got != 1 {
		t.Errorf("resolutions = %v, want 1", got)
	}
	if got := findCounter(t, families, "folio_auth_denials_total",
		map[string]string{"credential": "session", "status": "401"}); got != 1 {
		t.Errorf("denials = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordAuthFailure(context.Background(), plugins.CredentialSession, "expired")
	m.resolved(plugins.CredentialSession, false)
	m.denied(plugins.CredentialAPIKey, "403")
}
