package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveScan("PHISHING", 0.9, true)
	m.ObserveScan("PHISHING", 0.8, true)
	m.ObserveScan("invalid_url", 0, false)
	m.ObserveRiskDelta("wrong_password", 10)
	m.ObserveRiskDelta("wrong_password", 10)
	m.ObserveAlert("low")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans.WithLabelValues("PHISHING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("invalid_url")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.RiskDelta.WithLabelValues("wrong_password")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Alerts.WithLabelValues("low")))

	count, err := testutil.GatherAndCount(reg, "account_security_scan_phishing_probability")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveScan("SAFE", 0.1, true)
		m.ObserveCache("hit")
		m.ObserveEvent("action")
		m.ObserveDetection("BRUTE_FORCE")
		m.ObserveRiskDelta("x", 1)
		m.ObserveAlert("high")
		m.ObserveModelLoad("ok")
		m.ObserveRateLimited()
		m.ObserveRequest("/healthz", "200", 0.01)
	})
}
