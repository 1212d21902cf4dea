package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestProcessBatch tests ordering, isolation and the concurrency bound.
func TestProcessBatch(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	slow := funcStep{name: "slow", fn: func(_ context.Context, r *model.ScanReport) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if r.Target == "bad" {
			return errors.New("unreachable")
		}
		return nil
	}}

	m := metrics.New()
	bp := NewBatchProcessor(func() *Pipeline {
		p := New()
		p.AddStep(slow)
		return p
	}, WithConcurrency(2), WithMode(model.ScanModeFile), WithBatchMetrics(m))

	targets := []string{"a", "bad", "c", "d", "e"}
	reports, err := bp.ProcessBatch(context.Background(), targets)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(reports) != len(targets) {
		t.Fatalf("len(reports) = %d", len(reports))
	}
	for i, r := range reports {
		if r.Target != targets[i] {
			t.Errorf("reports[%d].Target = %q, want %q", i, r.Target, targets[i])
		}
		if r.Mode != model.ScanModeFile {
			t.Errorf("reports[%d].Mode = %q", i, r.Mode)
		}
		if wantErr := targets[i] == "bad"; (r.Error != nil) != wantErr {
			t.Errorf("reports[%d].Error = %v", i, r.Error)
		}
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	want := `
# HELP jscryptoscan_runs_total Completed target runs by outcome.
# TYPE jscryptoscan_runs_total counter
jscryptoscan_runs_total{outcome="error"} 1
jscryptoscan_runs_total{outcome="ok"} 4
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "jscryptoscan_runs_total"); err != nil {
		t.Errorf("runs metric mismatch: %v", err)
	}
}

// TestProcessBatchCancelled tests that unstarted targets report the
// cancellation.
func TestProcessBatchCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bp := NewBatchProcessor(func() *Pipeline {
		p := New()
		p.AddStep(okStep("a"))
		return p
	})
	reports, err := bp.ProcessBatch(ctx, []string{"x", "y"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessBatch() error = %v, want context.Canceled", err)
	}
	for _, r := range reports {
		if !errors.Is(r.Error, context.Canceled) {
			t.Errorf("report %q error = %v, want context.Canceled", r.Target, r.Error)
		}
	}
}
