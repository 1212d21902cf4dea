package model

import (
	"time"

	"github.com/google/uuid"
)

// ScanMode identifies how the code under analysis was obtained.
type ScanMode string

const (
	// ScanModeURL means the code was acquired by crawling a page.
	ScanModeURL ScanMode = "url"

	// ScanModeFile means the code was read from local files.
	ScanModeFile ScanMode = "file"
)

// ScanReport is the result of one run against a single target.
// It is what the report writers print and what the history database stores.
//
// Design decision: We use a single struct for both output and persistence,
// like the analysis report it wraps. The full code blob is excluded from
// JSON because it can be tens of kilobytes; script digests identify it.
type ScanReport struct {
	// ID is a random run identifier.
	ID string `json:"id"`

	// Target is the origin URL, or the file list in file mode.
	Target string `json:"target"`

	// Mode is url or file.
	Mode ScanMode `json:"mode"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// DurationMillis is the wall-clock run time.
	DurationMillis int64 `json:"duration_ms"`

	// === Acquisition ===

	// FinalURL is the terminal document URL after redirects.
	FinalURL string `json:"final_url,omitempty"`

	// RedirectChain lists the URLs requested while resolving the target.
	RedirectChain []string `json:"redirect_chain,omitempty"`

	// Visited is the provenance of the analyzed code: fetched URLs or
	// file paths.
	Visited []string `json:"visited,omitempty"`

	// Scripts describes each script that contributed to the code blob.
	Scripts []ScriptEvidence `json:"scripts,omitempty"`

	// Code is the assembled code blob.
	Code string `json:"-"`

	// CodeLength is len(Code).
	CodeLength int `json:"code_length"`

	// === Inference ===

	// Analysis is nil when acquisition failed.
	Analysis *AnalysisReport `json:"analysis,omitempty"`

	// === Run state ===

	// TimedOut is true if the run-level timeout fired.
	TimedOut bool `json:"timed_out"`

	// PerformedSteps lists the pipeline steps that ran, in order.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Error contains any error that aborted the run.
	Error error `json:"-"`

	// ErrorMessage is the string representation of Error for serialization.
	ErrorMessage string `json:"error,omitempty"` //nolint:tagliatelle // error is conventional
}

// NewScanReport creates a report for the given target.
func NewScanReport(target string, mode ScanMode) *ScanReport {
	return &ScanReport{
		ID:        uuid.NewString(),
		Target:    target,
		Mode:      mode,
		StartedAt: time.Now(),
	}
}

// ApplyEvidence copies acquisition output into the report and assembles the
// code blob.
func (r *ScanReport) ApplyEvidence(ev *Evidence) {
	if ev == nil {
		return
	}
	r.FinalURL = ev.FinalURL
	r.RedirectChain = ev.RedirectChain
	r.Visited = ev.Visited
	r.Scripts = ev.Scripts
	r.Code = ev.Code()
	r.CodeLength = len(r.Code)
}

// SetError records a run-aborting error.
func (r *ScanReport) SetError(err error) {
	r.Error = err
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// Finish records the run duration.
func (r *ScanReport) Finish() {
	r.DurationMillis = time.Since(r.StartedAt).Milliseconds()
}

// Summary counts local findings by risk level.
func (r *ScanReport) Summary() RiskSummary {
	if r.Analysis == nil {
		return RiskSummary{}
	}
	return r.Analysis.Summary()
}

// Duration returns the run duration.
func (r *ScanReport) Duration() time.Duration {
	return time.Duration(r.DurationMillis) * time.Millisecond
}
