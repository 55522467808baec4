package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "account_security"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
type Metrics struct {
	Scans          *prometheus.CounterVec
	ScanCache      *prometheus.CounterVec
	PhishingProb   prometheus.Histogram
	Events         *prometheus.CounterVec
	Detections     *prometheus.CounterVec
	RiskDelta      *prometheus.CounterVec
	Alerts         *prometheus.CounterVec
	ModelLoads     *prometheus.CounterVec
	RateLimited    prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "scan", Name: "total", Help: "URL scans by outcome (PHISHING, SAFE, invalid_url, model_unavailable, model_corrupt)."},
			[]string{"outcome"},
		),
		ScanCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "scan", Name: "cache_total", Help: "Scan cache lookups by result."},
			[]string{"result"},
		),
		PhishingProb: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "scan", Name: "phishing_probability", Help: "Raw classifier phishing probability.", Buckets: prometheus.LinearBuckets(0, 0.1, 11)},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "events", Name: "appended_total", Help: "Events appended by kind (system tag or \"action\")."},
			[]string{"kind"},
		),
		Detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "detection", Name: "total", Help: "Positive anomaly detections by type."},
			[]string{"type"},
		),
		RiskDelta: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "risk", Name: "delta_total", Help: "Sum of risk deltas applied, by reason."},
			[]string{"reason"},
		),
		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "risk", Name: "alerts_total", Help: "Alerts created by severity."},
			[]string{"severity"},
		),
		ModelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "model", Name: "loads_total", Help: "Classifier artifact load attempts by result."},
			[]string{"result"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "http", Name: "rate_limited_total", Help: "Scan requests rejected by the per-user rate limiter."},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "http", Name: "requests_total", Help: "HTTP requests by route and status code."},
			[]string{"route", "code"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds", Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets},
			[]string{"route"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Scans, m.ScanCache, m.PhishingProb, m.Events, m.Detections,
			m.RiskDelta, m.Alerts, m.ModelLoads, m.RateLimited,
			m.HTTPRequests, m.RequestLatency,
		)
	}
	return m
}

// ObserveScan records a scan outcome and, for successful scans, the probability
func (m *Metrics) ObserveScan(outcome string, probability float64, ok bool) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
	if ok {
		m.PhishingProb.Observe(probability)
	}
}

// ObserveCache records a cache lookup ("hit", "miss", "error")
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.ScanCache.WithLabelValues(result).Inc()
}

// ObserveEvent counts an appended event
func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

// ObserveDetection counts a positive detection
func (m *Metrics) ObserveDetection(detectionType string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(detectionType).Inc()
}

// ObserveRiskDelta adds delta under reason
func (m *Metrics) ObserveRiskDelta(reason string, delta int) {
	if m == nil {
		return
	}
	m.RiskDelta.WithLabelValues(reason).Add(float64(delta))
}

// ObserveAlert counts a created alert
func (m *Metrics) ObserveAlert(severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(severity).Inc()
}

// ObserveModelLoad counts an artifact load attempt ("ok", "unavailable", "corrupt")
func (m *Metrics) ObserveModelLoad(result string) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(result).Inc()
}

// ObserveRateLimited counts a rejected scan
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// ObserveRequest records a finished HTTP request
func (m *Metrics) ObserveRequest(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.RequestLatency.WithLabelValues(route).Observe(seconds)
}
