package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// Step is one stage of a scan. Steps run in order over the same report.
//
// A step returns an error only when later steps cannot run meaningfully,
// such as a failed acquisition. Partial failures belong in the report.
type Step interface {
	Do(ctx context.Context, report *model.ScanReport) error

	// Name identifies the step in logs, metrics and PerformedSteps.
	Name() string
}

// Pipeline runs a fixed sequence of steps for one target.
type Pipeline struct {
	steps []Step

	logger  *slog.Logger
	metrics *metrics.Metrics

	// continueOnError keeps running later steps after a failure.
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics records the duration and outcome of every step.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithContinueOnError keeps running steps after one fails.
//
// The default is to stop, because a failed acquisition leaves nothing to
// analyze.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends steps in order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs the steps over report and records the run duration.
//
// Cancellation is checked between steps; a step that is already running
// observes ctx itself. A deadline marks the report as timed out. The first
// step error is returned unless WithContinueOnError is set, and is always
// recorded on the report. A step that stops the run is not listed in
// PerformedSteps.
func (p *Pipeline) Execute(ctx context.Context, report *model.ScanReport) error {
	defer report.Finish()

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("scan interrupted", "target", report.Target, "before", step.Name(), "reason", err)
			if errors.Is(err, context.DeadlineExceeded) {
				report.TimedOut = true
			}
			report.SetError(err)
			return err
		}

		if err := p.runStep(ctx, step, report); err != nil {
			report.SetError(err)
			if !p.continueOnError {
				return err
			}
		}
		report.PerformedSteps = append(report.PerformedSteps, step.Name())
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step, report *model.ScanReport) error {
	start := time.Now()
	p.logger.Debug("step started", "step", step.Name(), "target", report.Target)

	err := step.Do(ctx, report)
	elapsed := time.Since(start)

	outcome := metrics.ResultOK
	if err != nil {
		outcome = metrics.ResultError
		p.logger.Error("step failed", "step", step.Name(), "target", report.Target, "elapsed", elapsed, "error", err)
	} else {
		p.logger.Info("step finished", "step", step.Name(), "target", report.Target, "elapsed", elapsed.Round(time.Millisecond))
	}
	p.metrics.ObserveStep(step.Name(), outcome, elapsed)
	return err
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
