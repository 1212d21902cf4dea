package pipeline

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// funcStep is a Step backed by a function.
type funcStep struct {
	name string
	fn   func(ctx context.Context, report *model.ScanReport) error
}

func (s funcStep) Name() string { return s.name }

func (s funcStep) Do(ctx context.Context, report *model.ScanReport) error {
	return s.fn(ctx, report)
}

func okStep(name string) funcStep {
	return funcStep{name: name, fn: func(context.Context, *model.ScanReport) error { return nil }}
}

func failStep(name string, err error) funcStep {
	return funcStep{name: name, fn: func(context.Context, *model.ScanReport) error { return err }}
}

// TestPipelineExecute tests step ordering and error policy.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	t.Run("runs steps in order", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddSteps(okStep("a"), okStep("b"))
		p.AddStep(okStep("c"))

		report := model.NewScanReport("https://example.com/", model.ScanModeURL)
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !slices.Equal(report.PerformedSteps, []string{"a", "b", "c"}) {
			t.Errorf("PerformedSteps = %v", report.PerformedSteps)
		}
		if !slices.Equal(p.StepNames(), []string{"a", "b", "c"}) || p.StepCount() != 3 {
			t.Errorf("StepNames() = %v", p.StepNames())
		}
	})

	t.Run("stops on first error by default", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddSteps(okStep("a"), failStep("b", errBoom), okStep("c"))

		report := model.NewScanReport("https://example.com/", model.ScanModeURL)
		if err := p.Execute(context.Background(), report); !errors.Is(err, errBoom) {
			t.Fatalf("Execute() error = %v, want errBoom", err)
		}
		if !slices.Equal(report.PerformedSteps, []string{"a"}) {
			t.Errorf("PerformedSteps = %v, want [a]", report.PerformedSteps)
		}
		if report.ErrorMessage != "boom" {
			t.Errorf("ErrorMessage = %q", report.ErrorMessage)
		}
	})

	t.Run("continues on error when configured", func(t *testing.T) {
		t.Parallel()

		p := New(WithContinueOnError(true))
		p.AddSteps(failStep("a", errBoom), okStep("b"))

		report := model.NewScanReport("https://example.com/", model.ScanModeURL)
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !slices.Equal(report.PerformedSteps, []string{"a", "b"}) {
			t.Errorf("PerformedSteps = %v", report.PerformedSteps)
		}
		if !errors.Is(report.Error, errBoom) {
			t.Errorf("report.Error = %v", report.Error)
		}
	})

	t.Run("marks timeout on expired context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		<-ctx.Done()

		p := New()
		p.AddStep(okStep("a"))
		report := model.NewScanReport("https://example.com/", model.ScanModeURL)
		if err := p.Execute(ctx, report); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Execute() error = %v", err)
		}
		if !report.TimedOut || len(report.PerformedSteps) != 0 {
			t.Errorf("TimedOut = %v, PerformedSteps = %v", report.TimedOut, report.PerformedSteps)
		}
	})
}

// TestPipelineRecordsStepMetrics tests that each executed step is timed.
func TestPipelineRecordsStepMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	p := New(WithMetrics(m), WithContinueOnError(true))
	p.AddSteps(okStep("acquire"), failStep("analyze", errors.New("boom")))

	report := model.NewScanReport("https://example.com/", model.ScanModeURL)
	if err := p.Execute(context.Background(), report); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	series := map[string]uint64{}
	for _, mf := range families {
		if mf.GetName() != "jscryptoscan_step_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var step, result string
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "step":
					step = lp.GetValue()
				case "result":
					result = lp.GetValue()
				}
			}
			series[step+"/"+result] = metric.GetHistogram().GetSampleCount()
		}
	}
	if series["acquire/ok"] != 1 || series["analyze/error"] != 1 || len(series) != 2 {
		t.Errorf("step series = %v", series)
	}
}
