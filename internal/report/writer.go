package report

import (
	"io"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// Writer defines the interface for report output.
//
// Design decision: We use an interface to allow different output formats
// and destinations. This enables writing to files or stdout with the same
// API.
type Writer interface {
	// Write outputs one report.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.ScanReport) (int, error)

	// WriteAll outputs the reports of a multi-target run.
	WriteAll(reports []*model.ScanReport) (int, error)
}

// MultiWriter writes to multiple Writers.
//
// Design decision: We implement this as a separate type rather than
// using io.MultiWriter because our Writer interface is different
// from io.Writer - we write reports, not raw bytes.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *model.ScanReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteAll outputs the reports to all configured Writers.
func (m *MultiWriter) WriteAll(reports []*model.ScanReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteAll(reports)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// remoteSection is one remote analysis field in display order.
type remoteSection struct {
	title  string
	result model.InferenceResult
}

// remoteSections returns the three remote results in report field order.
func remoteSections(a *model.AnalysisReport) []remoteSection {
	return []remoteSection{
		{"Algorithm Analysis", a.AlgorithmAnalysis.AI},
		{"Key Analysis", a.KeyAnalysis},
		{"Custom Analysis", a.CustomAnalysis},
	}
}

// findingsByRisk groups local findings from the highest risk level down.
// Levels without findings are omitted.
func findingsByRisk(findings []model.AlgorithmFinding) []riskGroup {
	levels := []model.RiskLevel{model.RiskHigh, model.RiskMedium, model.RiskLow, model.RiskUnknown}
	groups := make([]riskGroup, 0, len(levels))
	for _, level := range levels {
		var matched []model.AlgorithmFinding
		for _, f := range findings {
			if f.RiskLevel == level {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			groups = append(groups, riskGroup{level: level, findings: matched})
		}
	}
	return groups
}

type riskGroup struct {
	level    model.RiskLevel
	findings []model.AlgorithmFinding
}
