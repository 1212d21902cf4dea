package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/jscryptoscan/internal/config"
	"github.com/nao1215/jscryptoscan/internal/database"
	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// Constants for risk direction.
const (
	riskDirectionWorsened  = "worsened"
	riskDirectionImproved  = "improved"
	riskDirectionUnchanged = "unchanged"
	noFindingsMessage      = "No findings"
)

// historyTimeFormat is used for run timestamps in text output.
const historyTimeFormat = "2006-01-02 15:04:05"

// NewHistoryCmd creates the history command.
// This command inspects reports stored by previous analyze runs.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [target]",
		Short: "Show and compare stored analysis reports",
		Long: `History inspects the reports saved by 'jscryptoscan analyze'.

Without arguments it lists every analyzed target. With a target it lists the
runs for that target, newest first. --compare shows what changed between the
latest two runs:
- Local findings that appeared or were resolved
- Algorithm fields reported differently by remote inference
- Scripts that were added or removed

Examples:
  # List analyzed targets
  jscryptoscan history

  # List runs for a target
  jscryptoscan history https://example.com/login

  # Compare the latest two runs
  jscryptoscan history --compare https://example.com/login

  # Print a stored report
  jscryptoscan history --run 6f1c2a9e-... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().Bool("compare", false,
		"Compare the latest two runs of the target")
	cmd.Flags().String("run", "",
		"Print the stored report with this run ID")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output in Markdown format")

	return cmd
}

// historyOptions are the parsed history flags.
type historyOptions struct {
	target   string
	compare  bool
	runID    string
	json     bool
	markdown bool
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	var opts historyOptions
	var err error
	if len(args) > 0 {
		opts.target = args[0]
	}
	if opts.compare, err = cmd.Flags().GetBool("compare"); err != nil {
		return err
	}
	if opts.runID, err = cmd.Flags().GetString("run"); err != nil {
		return err
	}
	if opts.json, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if opts.markdown, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	// Validate arguments before opening the database.
	if opts.json && opts.markdown {
		return config.ErrConflictingReportFormats
	}
	if opts.compare && opts.target == "" {
		return errors.New("a target is required for --compare (run 'jscryptoscan history' to list targets)")
	}

	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		if errors.Is(err, database.ErrDatabaseNotFound) {
			return fmt.Errorf("no history found in %s (run 'jscryptoscan analyze' first)", dbDir)
		}
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return runHistory(cmd.Context(), db, opts, cmd.OutOrStdout())
}

// runHistory dispatches to the selected history view.
func runHistory(ctx context.Context, db *database.ReportDB, opts historyOptions, out io.Writer) error {
	switch {
	case opts.runID != "":
		return showRun(ctx, db, opts, out)
	case opts.compare:
		return compareRuns(ctx, db, opts, out)
	case opts.target != "":
		return listRuns(ctx, db, opts, out)
	default:
		return listTargets(ctx, db, opts, out)
	}
}

// listTargets lists every target that has stored reports.
func listTargets(ctx context.Context, db *database.ReportDB, opts historyOptions, out io.Writer) error {
	targets, err := db.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	if opts.json {
		if targets == nil {
			targets = []string{}
		}
		return jsonutil.MarshalWrite(out, targets, "  ")
	}

	if len(targets) == 0 {
		fmt.Fprintln(out, "No analyzed targets found in the database.")
		fmt.Fprintln(out, "\nUse 'jscryptoscan analyze <url>' to analyze a page.")
		return nil
	}

	fmt.Fprintf(out, "Analyzed targets (%d):\n\n", len(targets))
	for _, target := range targets {
		fmt.Fprintf(out, "  • %s\n", target)
	}
	fmt.Fprintln(out, "\nUse 'jscryptoscan history <target>' to see the runs for a target.")
	return nil
}

// listRuns lists the stored runs for one target, newest first.
func listRuns(ctx context.Context, db *database.ReportDB, opts historyOptions, out io.Writer) error {
	runs, err := db.History(ctx, opts.target)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	if opts.json {
		if runs == nil {
			runs = []database.RunMetadata{}
		}
		return jsonutil.MarshalWrite(out, runs, "  ")
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No history found for %s\n", opts.target)
		return nil
	}

	fmt.Fprintf(out, "History for %s (%d runs):\n\n", opts.target, len(runs))
	fmt.Fprintf(out, "  %-36s  %-19s  %8s  %7s  %-16s  %s\n", "Run ID", "Date", "Duration", "Scripts", "Risk Summary", "Status")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 104))
	for _, run := range runs {
		fmt.Fprintf(out, "  %-36s  %-19s  %8s  %7d  %-16s  %s\n",
			run.RunID,
			run.StartedAt.Local().Format(historyTimeFormat),
			formatMillis(run.DurationMillis),
			run.ScriptCount,
			formatRiskSummary(run.RiskSummary),
			runStatus(run),
		)
	}

	fmt.Fprintf(out, "\nUse 'jscryptoscan history --compare %s' to compare the latest two runs.\n", opts.target)
	fmt.Fprintln(out, "Use 'jscryptoscan history --run <id>' to print a stored report.")
	return nil
}

// showRun prints one stored report with the report writers.
func showRun(ctx context.Context, db *database.ReportDB, opts historyOptions, out io.Writer) error {
	r, err := db.GetByRunID(ctx, opts.runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", opts.runID, err)
	}
	if r == nil {
		return fmt.Errorf("run not found: %s", opts.runID)
	}

	cfg := config.NewConfig()
	cfg.JSONReport = opts.json
	cfg.MarkdownReport = opts.markdown
	if _, err := newReportWriter(cfg, out).Write(r); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// comparisonResult is the comparison output, including risk counts of both
// runs.
type comparisonResult struct {
	*database.Comparison `json:",inline"`

	PreviousStartedAt string            `json:"previous_started_at"`
	CurrentStartedAt  string            `json:"current_started_at"`
	PreviousSummary   model.RiskSummary `json:"previous_summary"`
	CurrentSummary    model.RiskSummary `json:"current_summary"`
	RiskDirection     string            `json:"risk_direction"`
}

// compareRuns compares the latest two runs of a target.
func compareRuns(ctx context.Context, db *database.ReportDB, opts historyOptions, out io.Writer) error {
	cmp, err := db.CompareLatest(ctx, opts.target)
	if err != nil {
		if errors.Is(err, database.ErrNotEnoughRuns) {
			return fmt.Errorf("at least 2 runs are required to compare %s", opts.target)
		}
		return fmt.Errorf("failed to compare runs: %w", err)
	}

	previous, err := db.GetByRunID(ctx, cmp.Previous)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", cmp.Previous, err)
	}
	current, err := db.GetByRunID(ctx, cmp.Current)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", cmp.Current, err)
	}

	result := newComparisonResult(cmp, previous, current)

	switch {
	case opts.json:
		return jsonutil.MarshalWrite(out, result, "  ")
	case opts.markdown:
		outputComparisonMarkdown(out, result)
	default:
		outputComparisonText(out, result)
	}
	return nil
}

func newComparisonResult(cmp *database.Comparison, previous, current *model.ScanReport) *comparisonResult {
	result := &comparisonResult{Comparison: cmp}
	if previous != nil {
		result.PreviousSummary = previous.Summary()
		result.PreviousStartedAt = previous.StartedAt.Local().Format(historyTimeFormat)
	}
	if current != nil {
		result.CurrentSummary = current.Summary()
		result.CurrentStartedAt = current.StartedAt.Local().Format(historyTimeFormat)
	}
	result.RiskDirection = riskDirection(result.PreviousSummary, result.CurrentSummary)
	return result
}

// riskDirection compares two summaries, weighting higher levels first.
func riskDirection(previous, current model.RiskSummary) string {
	for _, d := range []int{
		current.High - previous.High,
		current.Medium - previous.Medium,
		current.Low - previous.Low,
	} {
		switch {
		case d > 0:
			return riskDirectionWorsened
		case d < 0:
			return riskDirectionImproved
		}
	}
	return riskDirectionUnchanged
}

// outputComparisonText outputs the comparison in human-readable text format.
func outputComparisonText(out io.Writer, result *comparisonResult) {
	fmt.Fprintf(out, "Run Comparison: %s\n", result.Target)
	fmt.Fprintln(out, strings.Repeat("=", 60))

	fmt.Fprintf(out, "\nRisk Status: %s\n", formatRiskDirection(result.RiskDirection))
	fmt.Fprintf(out, "\nPrevious run: %s (%s)\n", result.Previous, result.PreviousStartedAt)
	fmt.Fprintf(out, "Current run:  %s (%s)\n", result.Current, result.CurrentStartedAt)

	fmt.Fprintln(out, "\nFindings Summary:")
	fmt.Fprintf(out, "  %-10s  %-10s  %-10s  %-10s\n", "Risk", "Previous", "Current", "Change")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 45))
	for _, row := range summaryRows(result) {
		fmt.Fprintf(out, "  %-10s  %-10d  %-10d  %-10s\n", row.label, row.previous, row.current, formatDelta(row.current-row.previous))
	}

	if !result.HasChanges() {
		fmt.Fprintln(out, "\nNo changes between the two runs.")
		return
	}

	if len(result.NewFindings) > 0 {
		fmt.Fprintf(out, "\nNew Findings (%d):\n", len(result.NewFindings))
		for _, f := range result.NewFindings {
			fmt.Fprintf(out, "  [+] [%s] %s (%s): %s\n", f.RiskLevel, f.Algorithm, f.Category, f.Pattern)
		}
	}
	if len(result.ResolvedFindings) > 0 {
		fmt.Fprintf(out, "\nResolved Findings (%d):\n", len(result.ResolvedFindings))
		for _, f := range result.ResolvedFindings {
			fmt.Fprintf(out, "  [-] [%s] %s (%s): %s\n", f.RiskLevel, f.Algorithm, f.Category, f.Pattern)
		}
	}
	if len(result.ChangedAIFields) > 0 {
		fmt.Fprintf(out, "\nChanged Algorithm Fields (%d):\n", len(result.ChangedAIFields))
		for _, c := range result.ChangedAIFields {
			fmt.Fprintf(out, "  [~] %s: %s -> %s\n", c.Field, orNone(c.Before), orNone(c.After))
		}
	}
	if len(result.AddedScripts) > 0 || len(result.RemovedScripts) > 0 {
		fmt.Fprintf(out, "\nScripts: %d added, %d removed\n", len(result.AddedScripts), len(result.RemovedScripts))
	}
}

// outputComparisonMarkdown outputs the comparison in Markdown format.
func outputComparisonMarkdown(out io.Writer, result *comparisonResult) {
	fmt.Fprintf(out, "# Run Comparison: %s\n\n", result.Target)
	fmt.Fprintln(out, "## Summary")
	fmt.Fprintf(out, "\n**Risk Status:** %s\n\n", formatRiskDirection(result.RiskDirection))

	fmt.Fprintln(out, "| Metric | Previous | Current | Change |")
	fmt.Fprintln(out, "|--------|----------|---------|--------|")
	fmt.Fprintf(out, "| Date | %s | %s | - |\n", result.PreviousStartedAt, result.CurrentStartedAt)
	for _, row := range summaryRows(result) {
		fmt.Fprintf(out, "| %s | %d | %d | %s |\n", row.label, row.previous, row.current, formatDelta(row.current-row.previous))
	}

	if len(result.NewFindings) > 0 {
		fmt.Fprintf(out, "\n## New Findings (%d)\n\n", len(result.NewFindings))
		for _, f := range result.NewFindings {
			fmt.Fprintf(out, "- **[%s]** %s (%s): `%s`\n", f.RiskLevel, f.Algorithm, f.Category, f.Pattern)
		}
	}
	if len(result.ResolvedFindings) > 0 {
		fmt.Fprintf(out, "\n## Resolved Findings (%d)\n\n", len(result.ResolvedFindings))
		for _, f := range result.ResolvedFindings {
			fmt.Fprintf(out, "- ~~**[%s]** %s (%s)~~\n", f.RiskLevel, f.Algorithm, f.Category)
		}
	}
	if len(result.ChangedAIFields) > 0 {
		fmt.Fprintf(out, "\n## Changed Algorithm Fields (%d)\n\n", len(result.ChangedAIFields))
		for _, c := range result.ChangedAIFields {
			fmt.Fprintf(out, "- **%s**: `%s` → `%s`\n", c.Field, orNone(c.Before), orNone(c.After))
		}
	}
	if len(result.AddedScripts) > 0 || len(result.RemovedScripts) > 0 {
		fmt.Fprintf(out, "\n---\n\n*Scripts: %d added, %d removed*\n", len(result.AddedScripts), len(result.RemovedScripts))
	}
}

type summaryRow struct {
	label             string
	previous, current int
}

func summaryRows(result *comparisonResult) []summaryRow {
	p, c := result.PreviousSummary, result.CurrentSummary
	return []summaryRow{
		{"High", p.High, c.High},
		{"Medium", p.Medium, c.Medium},
		{"Low", p.Low, c.Low},
		{"Total", p.Total(), c.Total()},
	}
}

// formatRiskSummary formats a risk summary into a compact string.
func formatRiskSummary(summary model.RiskSummary) string {
	var parts []string
	if summary.High > 0 {
		parts = append(parts, fmt.Sprintf("H:%d", summary.High))
	}
	if summary.Medium > 0 {
		parts = append(parts, fmt.Sprintf("M:%d", summary.Medium))
	}
	if summary.Low > 0 {
		parts = append(parts, fmt.Sprintf("L:%d", summary.Low))
	}
	if len(parts) == 0 {
		return noFindingsMessage
	}
	return strings.Join(parts, " ")
}

// formatRiskDirection formats the risk change direction for display.
func formatRiskDirection(direction string) string {
	switch direction {
	case riskDirectionImproved:
		return "IMPROVED (risk decreased)"
	case riskDirectionWorsened:
		return "WORSENED (risk increased)"
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return strconv.FormatInt(ms, 10) + "ms"
	}
	return strconv.FormatFloat(float64(ms)/1000, 'f', 1, 64) + "s"
}

func runStatus(run database.RunMetadata) string {
	switch {
	case run.TimedOut:
		return "timed out"
	case run.Error != "":
		return "failed"
	default:
		return "ok"
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
