package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

const ruleWidth = 70

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with nothing to show are printed.
	showEmpty bool

	// verbose adds matched patterns and the analyzed script list.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs one report in human-readable format.
func (w *SimpleWriter) Write(report *model.ScanReport) (int, error) {
	var sb strings.Builder
	w.writeReport(&sb, report)
	w.writeFooter(&sb)
	return io.WriteString(w.output, sb.String())
}

// WriteAll outputs each report in turn followed by a single footer.
func (w *SimpleWriter) WriteAll(reports []*model.ScanReport) (int, error) {
	var sb strings.Builder
	for _, r := range reports {
		w.writeReport(&sb, r)
	}
	w.writeFooter(&sb)
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeReport(sb *strings.Builder, report *model.ScanReport) {
	w.writeHeader(sb, report)
	if report.Analysis == nil {
		return
	}
	w.writeSummary(sb, report.Summary())
	w.writeFindings(sb, report.Analysis.AlgorithmAnalysis.Local)
	w.writeRemote(sb, report.Analysis)
	w.writeErrors(sb, report.Analysis.Errors)
	if w.verbose {
		w.writeScripts(sb, report.Scripts)
	}
}

// writeHeader writes the report header with scan information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.ScanReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("                        JSCRYPTOSCAN REPORT\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Target:         %s\n", report.Target)
	if report.FinalURL != "" && report.FinalURL != report.Target {
		fmt.Fprintf(sb, "Final URL:      %s\n", report.FinalURL)
	}
	fmt.Fprintf(sb, "Mode:           %s\n", report.Mode)
	fmt.Fprintf(sb, "Scan Date:      %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:       %s\n", report.Duration())
	fmt.Fprintf(sb, "Scripts:        %d (%d bytes)\n", len(report.Scripts), report.CodeLength)
	fmt.Fprintf(sb, "Status:         %s\n", statusText(report))
	sb.WriteString("\n")
}

func statusText(report *model.ScanReport) string {
	switch {
	case report.TimedOut:
		return "TIMED OUT (partial results)"
	case report.ErrorMessage != "":
		return "ERROR - " + report.ErrorMessage
	default:
		return "Complete"
	}
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

// writeSummary writes the risk summary section.
func (w *SimpleWriter) writeSummary(sb *strings.Builder, summary model.RiskSummary) {
	w.writeSection(sb, "RISK SUMMARY")
	fmt.Fprintf(sb, "  HIGH:     %d\n", summary.High)
	fmt.Fprintf(sb, "  MEDIUM:   %d\n", summary.Medium)
	fmt.Fprintf(sb, "  LOW:      %d\n", summary.Low)
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  TOTAL:    %d findings\n", summary.Total())
	sb.WriteString("\n")
}

// writeFindings writes local findings grouped by risk level.
func (w *SimpleWriter) writeFindings(sb *strings.Builder, findings []model.AlgorithmFinding) {
	if len(findings) == 0 && !w.showEmpty {
		return
	}
	w.writeSection(sb, "LOCAL FINDINGS")

	if len(findings) == 0 {
		sb.WriteString("  No known algorithm signatures matched\n\n")
		return
	}

	for _, group := range findingsByRisk(findings) {
		fmt.Fprintf(sb, "[%s] %s\n", riskIndicator(group.level), group.level)
		for _, f := range group.findings {
			fmt.Fprintf(sb, "  * %s (%s) confidence %.2f\n", f.Algorithm, f.Category, f.Confidence)
			if w.verbose {
				fmt.Fprintf(sb, "    Pattern: %s\n", f.Pattern)
			}
		}
		sb.WriteString("\n")
	}
}

// riskIndicator returns a visual indicator for the risk level.
func riskIndicator(level model.RiskLevel) string {
	switch level {
	case model.RiskHigh:
		return "!!"
	case model.RiskMedium:
		return "!"
	case model.RiskLow:
		return "-"
	default:
		return "?"
	}
}

// writeRemote writes the three remote results as indented JSON.
func (w *SimpleWriter) writeRemote(sb *strings.Builder, analysis *model.AnalysisReport) {
	sections := remoteSections(analysis)
	empty := true
	for _, s := range sections {
		if len(s.result) > 0 {
			empty = false
		}
	}
	if empty && !w.showEmpty {
		return
	}

	w.writeSection(sb, "REMOTE ANALYSIS")
	for _, s := range sections {
		fmt.Fprintf(sb, "%s:\n", s.title)
		if len(s.result) == 0 {
			sb.WriteString("  (none)\n\n")
			continue
		}
		data, err := jsonutil.MarshalIndent(s.result, "  ", "  ")
		if err != nil {
			fmt.Fprintf(sb, "  (unprintable: %v)\n\n", err)
			continue
		}
		sb.WriteString("  ")
		sb.Write(data)
		sb.WriteString("\n\n")
	}
}

func (w *SimpleWriter) writeErrors(sb *strings.Builder, errs []string) {
	if len(errs) == 0 {
		return
	}
	w.writeSection(sb, "ERRORS")
	for _, e := range errs {
		fmt.Fprintf(sb, "  [x] %s\n", e)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeScripts(sb *strings.Builder, scripts []model.ScriptEvidence) {
	if len(scripts) == 0 {
		return
	}
	w.writeSection(sb, "SCRIPTS")
	for _, s := range scripts {
		source := s.SourceURL
		if s.IsInline() {
			source = "(inline)"
		}
		fmt.Fprintf(sb, "  [+] %s  %d bytes  %s\n", source, s.Size, shortDigest(s.Digest))
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("Report generated by jscryptoscan\n")
	sb.WriteString("https://github.com/nao1215/jscryptoscan\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
}

func shortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
