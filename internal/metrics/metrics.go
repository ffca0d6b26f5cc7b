// Package metrics exposes Prometheus counters for scan runs
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ticker outcomes recorded by the snapshot builder.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics holds the scanner's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Tickers      *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	ScanMatches  *prometheus.GaugeVec
	ConfigErrors prometheus.Gauge
	SinkErrors   *prometheus.CounterVec
	LastRun      *prometheus.GaugeVec
}

// New creates the collectors and registers them, with the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Tickers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eodscan_tickers_total",
				Help: "Tickers seen by the snapshot builder by outcome",
			},
			[]string{"market", "outcome"},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eodscan_runs_total",
				Help: "Completed scan runs by status",
			},
			[]string{"market", "status"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eodscan_run_duration_seconds",
				Help:    "Wall time of a scan run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
			},
			[]string{"market"},
		),

		ScanMatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eodscan_scan_matches",
				Help: "Rows matched by each scan in the latest run, before the result cap",
			},
			[]string{"market", "scan"},
		),

		ConfigErrors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eodscan_config_errors",
				Help: "Catalog scans excluded for being malformed",
			},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eodscan_sink_errors_total",
				Help: "Failed publishes by sink",
			},
			[]string{"sink"},
		),

		LastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eodscan_last_run_timestamp_seconds",
				Help: "Unix time the latest run finished",
			},
			[]string{"market"},
		),
	}

	m.registry.MustRegister(
		m.Tickers,
		m.Runs,
		m.RunDuration,
		m.ScanMatches,
		m.ConfigErrors,
		m.SinkErrors,
		m.LastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTicker counts one ticker outcome.
func (m *Metrics) RecordTicker(market, outcome string) {
	if m == nil {
		return
	}
	m.Tickers.WithLabelValues(market, outcome).Inc()
}

// RecordRun records a finished run and the per-scan match counts.
func (m *Metrics) RecordRun(market string, duration time.Duration, matches map[string]int, configErrors int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Runs.WithLabelValues(market, status).Inc()
	m.RunDuration.WithLabelValues(market).Observe(duration.Seconds())
	for slug, n := range matches {
		m.ScanMatches.WithLabelValues(market, slug).Set(float64(n))
	}
	m.ConfigErrors.Set(float64(configErrors))
	m.LastRun.WithLabelValues(market).SetToCurrentTime()
}

// RecordSinkError counts a failed publish.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
