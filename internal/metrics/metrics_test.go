package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nao1215/jscryptoscan/internal/model"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveFetch(FetchPage, ResultOK)
	m.ObserveInference("custom", OutcomeSuccess, time.Second)
	m.ObserveCache(true)
	m.ObserveFindings([]model.AlgorithmFinding{{RiskLevel: model.RiskHigh}})
	m.ObserveRun("ok")
	m.ObserveStep("acquire", ResultOK, time.Second)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile() on nil = %v", err)
	}
	if m.Registry() != nil {
		t.Error("Registry() on nil should be nil")
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveFetch(FetchScript, ResultOK)
	m.ObserveFetch(FetchScript, ResultOK)
	m.ObserveFetch(FetchScript, ResultError)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.ObserveInference("custom", OutcomeCacheHit, 0)
	m.ObserveInference("key", OutcomeSuccess, 2*time.Second)
	m.ObserveFindings([]model.AlgorithmFinding{
		{RiskLevel: model.RiskHigh},
		{RiskLevel: model.RiskLow},
		{RiskLevel: model.RiskLow},
	})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"script ok", testutil.ToFloat64(m.fetchesTotal.WithLabelValues(FetchScript, ResultOK)), 2},
		{"script error", testutil.ToFloat64(m.fetchesTotal.WithLabelValues(FetchScript, ResultError)), 1},
		{"cache hit", testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")), 1},
		{"cache miss", testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")), 2},
		{"custom cache hit", testutil.ToFloat64(m.inferenceTotal.WithLabelValues("custom", OutcomeCacheHit)), 1},
		{"high findings", testutil.ToFloat64(m.findingsTotal.WithLabelValues("HIGH")), 1},
		{"low findings", testutil.ToFloat64(m.findingsTotal.WithLabelValues("LOW")), 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.inferenceDuration); n != 1 {
		t.Errorf("duration series = %d, want 1 (cache hits are not timed)", n)
	}
}

func TestObserveStep(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveStep("acquire", ResultOK, 200*time.Millisecond)
	m.ObserveStep("acquire", ResultOK, 300*time.Millisecond)
	m.ObserveStep("analyze", ResultError, time.Second)

	if n := testutil.CollectAndCount(m.stepDuration); n != 2 {
		t.Errorf("expected 2 step series, got %d", n)
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRun("ok")

	path := filepath.Join(t.TempDir(), "jscryptoscan.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `jscryptoscan_runs_total{outcome="ok"} 1`) {
		t.Errorf("textfile missing run counter:\n%s", data)
	}
}
