// Package analyzer merges local signature matching and remote inference into
// one AnalysisReport.
//
// Every sub-analysis is isolated: an error or panic in one of them is
// recorded in the report's errors list as "<name>_error: <message>" and the
// others still complete. The returned report is always well formed.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/jscryptoscan/internal/inference"
	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
)

const (
	// DefaultMinCodeLength is the shortest code, in characters, sent for
	// remote inference.
	DefaultMinCodeLength = 100

	// localAnalysisName names local matching failures in the errors list.
	localAnalysisName = "local_analysis"

	// inferenceName names a skipped remote stage in the errors list.
	inferenceName = "inference"
)

// LocalMatcher finds algorithms by signature. signature.Matcher implements
// it.
type LocalMatcher interface {
	Match(ctx context.Context, code string) ([]model.AlgorithmFinding, error)
}

// Inferencer runs the remote analysis kinds. inference.Orchestrator
// implements it.
type Inferencer interface {
	Analyze(ctx context.Context, code string) []inference.Outcome
}

// Analyzer is the result aggregator.
type Analyzer struct {
	matcher        LocalMatcher
	inferencer     Inferencer
	disabledReason string
	minCodeLength  int
	timeout        time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithInferencer enables remote inference.
func WithInferencer(i Inferencer) Option {
	return func(a *Analyzer) {
		a.inferencer = i
	}
}

// WithDisabledReason explains why no Inferencer is configured. It is
// reported in the errors list of every report.
func WithDisabledReason(reason string) Option {
	return func(a *Analyzer) {
		a.disabledReason = reason
	}
}

// WithMinCodeLength sets the shortest code sent for remote inference.
func WithMinCodeLength(n int) Option {
	return func(a *Analyzer) {
		if n >= 0 {
			a.minCodeLength = n
		}
	}
}

// WithTimeout bounds a whole analysis. Sub-analyses still running at the
// deadline are reported as failed. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d >= 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records local findings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// New creates an Analyzer. A nil matcher disables local matching.
func New(matcher LocalMatcher, opts ...Option) *Analyzer {
	a := &Analyzer{
		matcher:       matcher,
		minCodeLength: DefaultMinCodeLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the outcome of one analysis.
type Result struct {
	Report *model.AnalysisReport

	// TimedOut is set when the analysis deadline expired before every
	// sub-analysis finished.
	TimedOut bool
}

// Analyze runs local matching and, when enabled, the remote kinds
// concurrently against code.
func (a *Analyzer) Analyze(ctx context.Context, code string) Result {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var (
		findings []model.AlgorithmFinding
		localErr error
		outcomes []inference.Outcome
	)

	skipReason := a.skipReason(code)

	var g errgroup.Group
	g.Go(func() error {
		findings, localErr = a.matchLocal(ctx, code)
		return nil
	})
	if skipReason == "" {
		g.Go(func() error {
			outcomes = a.inferencer.Analyze(ctx, code)
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	report := model.NewAnalysisReport()
	if localErr != nil {
		a.logger.Warn("local analysis failed", "error", localErr)
		report.AddError(localAnalysisName, localErr)
	} else if findings != nil {
		report.AlgorithmAnalysis.Local = findings
	}
	a.metrics.ObserveFindings(report.AlgorithmAnalysis.Local)

	if skipReason != "" {
		a.logger.Debug("remote inference skipped", "reason", skipReason)
		report.AddError(inferenceName, fmt.Errorf("remote inference disabled: %s", skipReason))
	}
	for _, out := range outcomes {
		apply(report, out)
	}

	return Result{
		Report:   report,
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
}

// skipReason returns why remote inference will not run for code, or "".
func (a *Analyzer) skipReason(code string) string {
	if a.inferencer == nil {
		if a.disabledReason != "" {
			return a.disabledReason
		}
		return "no inference client configured"
	}
	if n := utf8.RuneCountInString(code); n < a.minCodeLength {
		return fmt.Sprintf("code too short (%d < %d characters)", n, a.minCodeLength)
	}
	return ""
}

// matchLocal runs the matcher, converting a panic into an error.
func (a *Analyzer) matchLocal(ctx context.Context, code string) (findings []model.AlgorithmFinding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	if a.matcher == nil {
		return []model.AlgorithmFinding{}, nil
	}
	return a.matcher.Match(ctx, code)
}

// apply stores one kind's outcome in its report field.
func apply(report *model.AnalysisReport, out inference.Outcome) {
	switch out.Kind {
	case inference.KindAlgorithm:
		report.AlgorithmAnalysis.AI = out.Result
	case inference.KindKey:
		report.KeyAnalysis = out.Result
	case inference.KindCustom:
		report.CustomAnalysis = out.Result
	}
	if out.Err != nil {
		report.AddError(out.Kind.ReportField(), out.Err)
	}
}
