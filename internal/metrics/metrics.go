// Package metrics provides Prometheus collectors for scoring and
// recalibration runs. The CLI is a batch tool, so collectors are written
// to a textfile for node_exporter rather than served over HTTP.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricEntitiesEvaluatedTotal  = "portfolio_fit_entities_evaluated_total"
	MetricContractViolationsTotal = "portfolio_fit_contract_violations_total"
	MetricDataCoveragePercent     = "portfolio_fit_data_coverage_percent"
	MetricCalibrationSpearman     = "portfolio_fit_calibration_spearman"
	MetricTuningWeightDelta       = "portfolio_fit_tuning_weight_delta"
)

// Metrics holds the collectors. A nil *Metrics ignores every observation.
type Metrics struct {
	registry           *prometheus.Registry
	entitiesEvaluated  *prometheus.CounterVec
	contractViolations *prometheus.CounterVec
	coverage           prometheus.Histogram
	spearman           *prometheus.GaugeVec
	weightDelta        *prometheus.GaugeVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		entitiesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEntitiesEvaluatedTotal,
				Help: "Repositories scored, by data quality band",
			},
			[]string{"band"},
		),
		contractViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricContractViolationsTotal,
				Help: "Evidence records rejected by the signal contract, by criterion",
			},
			[]string{"criterion"},
		),
		coverage: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricDataCoveragePercent,
				Help:    "Share of applicable weight backed by known evidence",
				Buckets: []float64{20, 40, 60, 80, 90, 100},
			},
		),
		spearman: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCalibrationSpearman,
				Help: "Rank correlation between model and expert scores at the last recalibration",
			},
			[]string{"profile"},
		),
		weightDelta: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricTuningWeightDelta,
				Help: "Suggested change of a criterion max weight at the last tuning",
			},
			[]string{"criterion"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistered returns collectors registered on a private registry, ready
// for WriteTextfile.
func NewRegistered() (*Metrics, error) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	m.registry = reg
	return m, nil
}

// ObserveEntity records one scored repository.
func (m *Metrics) ObserveEntity(band string, coverage float64) {
	if m == nil {
		return
	}
	m.entitiesEvaluated.WithLabelValues(band).Inc()
	m.coverage.Observe(coverage)
}

// IncContractViolation counts a rejected record.
func (m *Metrics) IncContractViolation(criterion string) {
	if m == nil {
		return
	}
	m.contractViolations.WithLabelValues(criterion).Inc()
}

// SetSpearman records a profile's rank correlation. Undefined correlations
// are not exported.
func (m *Metrics) SetSpearman(profile string, rho *float64) {
	if m == nil || rho == nil {
		return
	}
	m.spearman.WithLabelValues(profile).Set(*rho)
}

// SetWeightDelta records a suggested weight change.
func (m *Metrics) SetWeightDelta(criterion string, delta float64) {
	if m == nil {
		return
	}
	m.weightDelta.WithLabelValues(criterion).Set(delta)
}

// WriteTextfile writes the private registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if m.registry == nil {
		return errors.New("metrics: no private registry; use NewRegistered")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Collectors returns all collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.entitiesEvaluated,
		m.contractViolations,
		m.coverage,
		m.spearman,
		m.weightDelta,
	}
}
