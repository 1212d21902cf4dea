package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// Run outcomes recorded in metrics.
const (
	runOK    = "ok"
	runError = "error"
)

// DefaultBatchConcurrency is the default number of targets scanned at once.
const DefaultBatchConcurrency = 4

// BatchProcessor handles concurrent processing of multiple targets.
//
// Design decision: We use a separate BatchProcessor rather than adding batch
// functionality to Pipeline because:
// 1. It keeps the Pipeline focused on single-scan execution
// 2. Each target gets a fresh pipeline (and so a fresh visited set), while
// shared state such as the inference cache lives in the steps' collaborators
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each scan.
	pipelineFactory func() *Pipeline

	mode        model.ScanMode
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent scans.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithMode sets the scan mode recorded in each report. Default is URL.
func WithMode(mode model.ScanMode) BatchOption {
	return func(b *BatchProcessor) {
		b.mode = mode
	}
}

// WithBatchMetrics counts completed runs.
func WithBatchMetrics(m *metrics.Metrics) BatchOption {
	return func(b *BatchProcessor) {
		b.metrics = m
	}
}

// NewBatchProcessor creates a new BatchProcessor.
//
// The pipelineFactory function is called for each scan to create a fresh
// pipeline instance, so pipeline state doesn't leak between scans.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		mode:            model.ScanModeURL,
		concurrency:     DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch scans multiple targets concurrently.
//
// Design decision: We use errgroup.SetLimit rather than a worker pool
// because it's simpler and errgroup handles the concurrency correctly.
//
// Reports are returned in target order, including those of failed scans.
// A target that never started because ctx was cancelled gets a report
// carrying the context error. The error return is non-nil only when ctx
// was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, targets []string) ([]*model.ScanReport, error) {
	bp.logger.Info("starting batch processing",
		"total_targets", len(targets),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	results := make([]*model.ScanReport, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, target := range targets {
		report := model.NewScanReport(target, bp.mode)
		results[i] = report

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.SetError(err)
				return nil
			}

			bp.logger.Info("scanning target", "target", target, "index", i+1, "total", len(targets))

			if err := bp.pipelineFactory().Execute(gctx, report); err != nil {
				bp.logger.Warn("scan failed", "target", target, "error", err)
				bp.metrics.ObserveRun(runError)
				return nil // recorded in the report; other scans continue
			}

			bp.logger.Info("scan completed", "target", target)
			bp.metrics.ObserveRun(runOK)
			return nil
		})
	}

	_ = g.Wait() // tasks never return errors

	bp.logger.Info("batch processing complete",
		"total_targets", len(targets),
		"elapsed", time.Since(startTime),
	)
	return results, ctx.Err()
}
