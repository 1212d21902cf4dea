package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/jscryptoscan/internal/analyzer"
	"github.com/nao1215/jscryptoscan/internal/crawler"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// EvidenceSource produces the scripts to analyze for one target.
// *crawler.Extractor and *FileSource implement it.
type EvidenceSource interface {
	Extract(ctx context.Context, target string) (*model.Evidence, error)
}

// ReportStore persists finished reports. *database.ReportDB implements it.
type ReportStore interface {
	Save(ctx context.Context, report *model.ScanReport) error
}

// AcquireStep obtains the evidence for the report's target.
// A failure here is fatal to the scan: there is no code to analyze.
type AcquireStep struct {
	source EvidenceSource
	logger *slog.Logger
}

// NewAcquireStep creates an acquisition step reading from source.
func NewAcquireStep(source EvidenceSource, logger *slog.Logger) *AcquireStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &AcquireStep{source: source, logger: logger}
}

// Name returns the step name.
func (s *AcquireStep) Name() string {
	return "acquire"
}

// Do executes the acquisition step.
func (s *AcquireStep) Do(ctx context.Context, report *model.ScanReport) error {
	if strings.TrimSpace(report.Target) == "" {
		return ErrEmptyTarget
	}
	ev, err := s.source.Extract(ctx, report.Target)
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", report.Target, err)
	}
	report.ApplyEvidence(ev)

	s.logger.Info("evidence acquired",
		"target", report.Target,
		"scripts", len(report.Scripts),
		"code_length", report.CodeLength,
	)
	return nil
}

// AnalyzeStep runs local matching and remote inference on the report's
// code. It never fails; sub-analysis failures are listed in the analysis
// report.
type AnalyzeStep struct {
	analyzer *analyzer.Analyzer
}

// NewAnalyzeStep creates an analysis step.
func NewAnalyzeStep(a *analyzer.Analyzer) *AnalyzeStep {
	return &AnalyzeStep{analyzer: a}
}

// Name returns the step name.
func (s *AnalyzeStep) Name() string {
	return "analyze"
}

// Do executes the analysis step.
func (s *AnalyzeStep) Do(ctx context.Context, report *model.ScanReport) error {
	res := s.analyzer.Analyze(ctx, report.Code)
	report.Analysis = res.Report
	if res.TimedOut {
		report.TimedOut = true
	}
	return nil
}

// PersistStep saves the report to the history database. A failed save is
// logged and does not fail the scan.
type PersistStep struct {
	store  ReportStore
	logger *slog.Logger
}

// NewPersistStep creates a persistence step.
func NewPersistStep(store ReportStore, logger *slog.Logger) *PersistStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistStep{store: store, logger: logger}
}

// Name returns the step name.
func (s *PersistStep) Name() string {
	return "persist"
}

// Do executes the persistence step.
func (s *PersistStep) Do(ctx context.Context, report *model.ScanReport) error {
	report.Finish()
	if err := s.store.Save(ctx, report); err != nil {
		s.logger.Warn("failed to save report to history", "target", report.Target, "error", err)
	}
	return nil
}

// DefaultMaxFileSize limits local script files.
const DefaultMaxFileSize = 10 * 1024 * 1024

// FileSource reads a local script file as the evidence for a target path.
type FileSource struct {
	maxSize int64
}

// NewFileSource creates a FileSource. A non-positive maxSize uses
// DefaultMaxFileSize.
func NewFileSource(maxSize int64) *FileSource {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &FileSource{maxSize: maxSize}
}

// Extract implements EvidenceSource. The file path is the provenance.
func (s *FileSource) Extract(_ context.Context, path string) (*model.Evidence, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", clean)
	}
	if info.Size() > s.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, clean, info.Size(), s.maxSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}

	provenance := clean
	if abs, err := filepath.Abs(clean); err == nil {
		provenance = abs
	}
	return &model.Evidence{
		OriginURL: path,
		Scripts:   []model.ScriptEvidence{model.NewScriptEvidence(provenance, strings.TrimSpace(string(data)))},
		Visited:   []string{provenance},
	}, nil
}

// Build assembles the standard scan pipeline: acquire, analyze and, when
// store is non-nil, persist.
func Build(source EvidenceSource, a *analyzer.Analyzer, store ReportStore, logger *slog.Logger, opts ...Option) *Pipeline {
	p := New(append([]Option{WithLogger(logger)}, opts...)...)
	p.AddSteps(NewAcquireStep(source, logger), NewAnalyzeStep(a))
	if store != nil {
		p.AddStep(NewPersistStep(store, logger))
	}
	return p
}

var _ EvidenceSource = (*crawler.Extractor)(nil)
