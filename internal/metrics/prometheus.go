// Package metrics provides Prometheus metrics for the activation service.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "activator"

// PrometheusMetrics holds the service's registered collectors.
type PrometheusMetrics struct {
	RedemptionCounter  *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	ReminderCounter    *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	ScanEligible       prometheus.Gauge
	StoreReloads       *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		RedemptionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Completed activation dialogues by outcome.",
		}, []string{"outcome"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected dialogue inputs by field.",
		}, []string{"field"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of dialogues in progress.",
		}),
		ReminderCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_reminders_total",
			Help:      "Expiry reminders by delivery result.",
		}, []string{"result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_scan_duration_seconds",
			Help:      "Duration of expiry scans.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}),
		ScanEligible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiry_scan_eligible",
			Help:      "Licenses inside the reminder window at the last scan.",
		}),
		StoreReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_store_reloads_total",
			Help:      "License file reloads by result.",
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		m.RedemptionCounter,
		m.ValidationFailures,
		m.ActiveSessions,
		m.ReminderCounter,
		m.ScanDuration,
		m.ScanEligible,
		m.StoreReloads,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordRedemption counts a finished dialogue.
func (m *PrometheusMetrics) RecordRedemption(outcome string) {
	m.RedemptionCounter.WithLabelValues(outcome).Inc()
}

// RecordValidationFailure counts a rejected input.
func (m *PrometheusMetrics) RecordValidationFailure(field string) {
	m.ValidationFailures.WithLabelValues(field).Inc()
}

// SetActiveSessions sets the in-progress dialogue count.
func (m *PrometheusMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// RecordReminder counts a reminder delivery attempt.
func (m *PrometheusMetrics) RecordReminder(result string) {
	m.ReminderCounter.WithLabelValues(result).Inc()
}

// RecordScan records one expiry sweep.
func (m *PrometheusMetrics) RecordScan(d time.Duration, eligible int) {
	m.ScanDuration.Observe(d.Seconds())
	m.ScanEligible.Set(float64(eligible))
}

// RecordStoreReload counts a license file reload.
func (m *PrometheusMetrics) RecordStoreReload(result string) {
	m.StoreReloads.WithLabelValues(result).Inc()
}
