package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, code blocks and mermaid charts
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs one report in Markdown format.
func (w *MarkdownWriter) Write(report *model.ScanReport) (int, error) {
	return w.WriteAll([]*model.ScanReport{report})
}

// WriteAll outputs the reports as one Markdown document.
func (w *MarkdownWriter) WriteAll(reports []*model.ScanReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("JSCryptoScan Report")
	md.PlainText("")

	for _, r := range reports {
		if len(reports) > 1 {
			md.H2(r.Target)
			md.PlainText("")
		}
		w.writeReport(md, r)
	}
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeReport(md *markdown.Markdown, report *model.ScanReport) {
	w.writeHeader(md, report)
	if report.Analysis == nil {
		return
	}
	w.writeSummary(md, report.Summary())
	w.writeFindings(md, report.Analysis.AlgorithmAnalysis.Local)
	w.writeRemote(md, report.Analysis)
	w.writeErrors(md, report.Analysis.Errors)
}

// writeHeader writes the scan information table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.ScanReport) {
	rows := [][]string{
		{"Target", "`" + report.Target + "`"},
	}
	if report.FinalURL != "" && report.FinalURL != report.Target {
		rows = append(rows, []string{"Final URL", "`" + report.FinalURL + "`"})
	}
	rows = append(rows,
		[]string{"Mode", string(report.Mode)},
		[]string{"Scan Date", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		[]string{"Duration", report.Duration().String()},
		[]string{"Scripts Analyzed", strconv.Itoa(len(report.Scripts))},
		[]string{"Status", markdownStatus(report)},
	)

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func markdownStatus(report *model.ScanReport) string {
	switch {
	case report.TimedOut:
		return "⚠️ Timed Out (partial results)"
	case report.ErrorMessage != "":
		return "❌ Error - " + report.ErrorMessage
	default:
		return "✅ Complete"
	}
}

// writeSummary writes the risk summary table, pie chart and alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, summary model.RiskSummary) {
	md.H3("Risk Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Risk", "Count"},
		Rows: [][]string{
			{"🟠 High", strconv.Itoa(summary.High)},
			{"🟡 Medium", strconv.Itoa(summary.Medium)},
			{"🔵 Low", strconv.Itoa(summary.Low)},
			{"**Total**", "**" + strconv.Itoa(summary.Total()) + "**"},
		},
	})
	md.PlainText("")

	if summary.Total() > 0 {
		w.writePieChart(md, summary)
	}
	w.writeAlert(md, summary)
}

// writePieChart writes a mermaid pie chart for the risk distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary model.RiskSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Local Finding Risk Distribution"),
		piechart.WithShowData(true),
	)

	if summary.High > 0 {
		chart.LabelAndIntValue("High", uint64(summary.High))
	}
	if summary.Medium > 0 {
		chart.LabelAndIntValue("Medium", uint64(summary.Medium))
	}
	if summary.Low > 0 {
		chart.LabelAndIntValue("Low", uint64(summary.Low))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert matching the highest risk level found.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary model.RiskSummary) {
	switch {
	case summary.High > 0:
		md.Warningf("Weak cryptography detected. %d high risk finding(s) should be addressed.", summary.High)
	case summary.Medium > 0:
		md.Importantf("Questionable parameters found. %d medium risk finding(s) should be reviewed.", summary.Medium)
	case summary.Total() > 0:
		md.Note("Only low risk algorithm usage detected.")
	default:
		md.Tip("No known algorithm signatures matched.")
	}
	md.PlainText("")
}

// writeFindings writes local findings as a table, highest risk first.
func (w *MarkdownWriter) writeFindings(md *markdown.Markdown, findings []model.AlgorithmFinding) {
	md.H3("Local Findings")
	md.PlainText("")

	if len(findings) == 0 {
		md.PlainText("No local findings.")
		md.PlainText("")
		return
	}

	var rows [][]string
	for _, group := range findingsByRisk(findings) {
		for _, f := range group.findings {
			rows = append(rows, []string{
				group.level.String(),
				f.Category,
				f.Algorithm,
				fmt.Sprintf("%.2f", f.Confidence),
				"`" + strings.ReplaceAll(truncateString(f.Pattern, 60), "|", `\|`) + "`",
			})
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Risk", "Category", "Algorithm", "Confidence", "Pattern"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeRemote writes each remote result as a JSON code block.
func (w *MarkdownWriter) writeRemote(md *markdown.Markdown, analysis *model.AnalysisReport) {
	md.H3("Remote Analysis")
	md.PlainText("")

	for _, s := range remoteSections(analysis) {
		md.PlainText("**" + s.title + "**")
		md.PlainText("")
		if len(s.result) == 0 {
			md.PlainText("_No result._")
			md.PlainText("")
			continue
		}
		data, err := jsonutil.MarshalIndent(s.result, "", "  ")
		if err != nil {
			md.PlainTextf("_Unprintable result: %v_", err)
			md.PlainText("")
			continue
		}
		md.CodeBlocks(markdown.SyntaxHighlightJSON, string(data))
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeErrors(md *markdown.Markdown, errs []string) {
	if len(errs) == 0 {
		return
	}
	md.H3("Errors")
	md.PlainText("")
	md.BulletList(errs...)
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [jscryptoscan](https://github.com/nao1215/jscryptoscan)*")
}

// truncateString truncates a string to maxLen runes with ellipsis.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
