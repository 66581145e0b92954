package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if got := len(m.Collectors()); got != 5 {
		t.Errorf("expected 5 collectors, got %d", got)
	}
}

func TestRegister(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() returned error: %v", err)
		}
		m.ObserveEntity("green", 95)
		m.IncContractViolation("readme")
		rho := 0.72
		m.SetSpearman("team-a", &rho)
		m.SetWeightDelta("test_coverage", 0.4)

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() returned error: %v", err)
		}
		found := map[string]bool{}
		for _, f := range families {
			found[f.GetName()] = true
		}
		for _, name := range []string{
			MetricEntitiesEvaluatedTotal,
			MetricContractViolationsTotal,
			MetricDataCoveragePercent,
			MetricCalibrationSpearman,
			MetricTuningWeightDelta,
		} {
			if !found[name] {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() returned error: %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("second Register() should have returned an error")
		}
	})
}

func TestObservations(t *testing.T) {
	m := NewMetrics()
	m.ObserveEntity("red", 30)
	m.ObserveEntity("red", 35)
	m.ObserveEntity("green", 100)
	m.IncContractViolation("docker")
	m.SetSpearman("p", nil)

	if got := testutil.ToFloat64(m.entitiesEvaluated.WithLabelValues("red")); got != 2 {
		t.Errorf("red entities = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.contractViolations.WithLabelValues("docker")); got != 1 {
		t.Errorf("docker violations = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.spearman); got != 0 {
		t.Errorf("undefined spearman exported %d series", got)
	}
}

func TestNilMetricsIgnoresObservations(t *testing.T) {
	var m *Metrics
	m.ObserveEntity("green", 100)
	m.IncContractViolation("readme")
	m.SetWeightDelta("readme", 1)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("WriteTextfile on nil: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m, err := NewRegistered()
	if err != nil {
		t.Fatalf("NewRegistered: %v", err)
	}
	m.SetWeightDelta("readme", -0.25)

	path := filepath.Join(t.TempDir(), "artifacts", "metrics.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `portfolio_fit_tuning_weight_delta{criterion="readme"} -0.25`) {
		t.Errorf("textfile missing weight delta:\n%s", data)
	}

	if err := NewMetrics().WriteTextfile(path); err == nil {
		t.Error("expected error without a private registry")
	}
}
