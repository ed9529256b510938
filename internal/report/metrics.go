package report

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports run results as prometheus metrics. Point a node_exporter
// textfile collector at TextfilePath, or serve Registry over HTTP.
type Metrics struct {
	registry *prometheus.Registry
	path     string

	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	ratio    *prometheus.GaugeVec
	last     *prometheus.GaugeVec
}

// NewMetrics creates a metrics sink. When textfile is non-empty the
// registry is written there on Finish.
func NewMetrics(textfile string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		path:     textfile,
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapdiff",
			Name:      "results_total",
			Help:      "Test results by project and status.",
		}, []string{"project", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "snapdiff",
			Name:      "test_duration_seconds",
			Help:      "Test duration including retries.",
			Buckets:   []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"project"}),
		ratio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapdiff",
			Name:      "diff_pixel_ratio",
			Help:      "Last observed differing pixel ratio per test.",
		}, []string{"project", "slug"}),
		last: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapdiff",
			Name:      "last_run",
			Help:      "Counts of the last finished run by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.results, m.duration, m.ratio, m.last)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Record(_ context.Context, r Result) error {
	m.results.WithLabelValues(r.Project, string(r.Status)).Inc()
	m.duration.WithLabelValues(r.Project).Observe(r.Duration.Seconds())
	m.ratio.WithLabelValues(r.Project, r.Slug).Set(r.DiffRatio)
	return nil
}

func (m *Metrics) Finish(_ context.Context, s Summary) error {
	m.last.WithLabelValues(string(StatusPassed)).Set(float64(s.Passed))
	m.last.WithLabelValues(string(StatusFailed)).Set(float64(s.Failed))
	m.last.WithLabelValues(string(StatusFlaky)).Set(float64(s.Flaky))
	m.last.WithLabelValues(string(StatusSkipped)).Set(float64(s.Skipped))
	if m.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return fmt.Errorf("report: metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) Close() error { return nil }
