package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FilingMetrics exposes counters/histograms for the filing pipeline.
type FilingMetrics struct {
	filingsTotal     *prometheus.CounterVec
	filingDuration   *prometheus.HistogramVec
	sectionsTotal    *prometheus.CounterVec
	interactionTotal *prometheus.CounterVec
	oracleCalls      *prometheus.CounterVec
	activeFilings    prometheus.Gauge
	queuedFilings    prometheus.Gauge
}

func NewFilingMetrics(reg prometheus.Registerer) *FilingMetrics {
	m := &FilingMetrics{
		filingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lca",
			Subsystem: "filing",
			Name:      "filings_total",
			Help:      "Finished filings by terminal status",
		}, []string{"status"}),
		filingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lca",
			Subsystem: "filing",
			Name:      "duration_seconds",
			Help:      "Wall time from start to terminal status",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		sectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lca",
			Subsystem: "filing",
			Name:      "sections_total",
			Help:      "Form sections by outcome (clean, auto_fixed, escalated)",
		}, []string{"outcome"}),
		interactionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lca",
			Subsystem: "interaction",
			Name:      "requests_total",
			Help:      "Operator interaction requests by outcome",
		}, []string{"outcome"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lca",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Decision oracle calls by kind and result",
		}, []string{"kind", "result"}),
		activeFilings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lca",
			Subsystem: "filing",
			Name:      "active",
			Help:      "Filings currently holding a browser session",
		}),
		queuedFilings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lca",
			Subsystem: "filing",
			Name:      "waiting",
			Help:      "Filings waiting for a concurrency slot",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.filingsTotal, m.filingDuration, m.sectionsTotal, m.interactionTotal,
		m.oracleCalls, m.activeFilings, m.queuedFilings)
	return m
}

func (m *FilingMetrics) ObserveFiling(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.filingsTotal.WithLabelValues(status).Inc()
	m.filingDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *FilingMetrics) ObserveSection(outcome string) {
	if m == nil {
		return
	}
	m.sectionsTotal.WithLabelValues(outcome).Inc()
}

func (m *FilingMetrics) ObserveInteraction(outcome string) {
	if m == nil {
		return
	}
	m.interactionTotal.WithLabelValues(outcome).Inc()
}

func (m *FilingMetrics) ObserveOracleCall(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.oracleCalls.WithLabelValues(kind, result).Inc()
}

// FilingStarted and FilingDone bracket a filing that holds a slot.
func (m *FilingMetrics) FilingStarted() {
	if m == nil {
		return
	}
	m.activeFilings.Inc()
}

func (m *FilingMetrics) FilingDone() {
	if m == nil {
		return
	}
	m.activeFilings.Dec()
}

func (m *FilingMetrics) WaitingDelta(delta float64) {
	if m == nil {
		return
	}
	m.queuedFilings.Add(delta)
}
