package model

import (
	"fmt"
	"maps"
)

// ErrorKey is the key that marks an InferenceResult as a terminal failure.
const ErrorKey = "error"

// InferenceResult is the parsed structured object returned for one
// analysis kind, or {"error": reason} on terminal failure.
//
// Design decision: The remote service returns free-form JSON whose shape
// depends on the prompt, so we keep it as a generic map instead of a struct
// per kind. Reports print it as-is and history comparison walks it by key.
type InferenceResult map[string]any

// NewErrorResult returns a result that records a terminal failure.
func NewErrorResult(reason string) InferenceResult {
	return InferenceResult{ErrorKey: reason}
}

// ErrorReason returns the failure reason if r is an error result.
func (r InferenceResult) ErrorReason() (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r[ErrorKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IsError reports whether r is an error result.
func (r InferenceResult) IsError() bool {
	_, ok := r.ErrorReason()
	return ok
}

// Clone returns a shallow copy of r. Nested objects are shared.
func (r InferenceResult) Clone() InferenceResult {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// AlgorithmAnalysis groups the local findings with the "algorithm" kind's
// remote result.
type AlgorithmAnalysis struct {
	Local []AlgorithmFinding `json:"local"`
	AI    InferenceResult    `json:"ai"`
}

// AnalysisReport is the result of analyzing one code blob.
// It always has a well-formed shape: a failing sub-analysis leaves its field
// empty (or set to an error result) and adds an entry to Errors.
type AnalysisReport struct {
	AlgorithmAnalysis AlgorithmAnalysis `json:"algorithm_analysis"`
	KeyAnalysis       InferenceResult   `json:"key_analysis"`
	CustomAnalysis    InferenceResult   `json:"custom_analysis"`
	Errors            []string          `json:"errors"`
}

// NewAnalysisReport creates an empty report with non-nil slices so that
// serialized output always contains "local": [] and "errors": [].
func NewAnalysisReport() *AnalysisReport {
	return &AnalysisReport{
		AlgorithmAnalysis: AlgorithmAnalysis{Local: []AlgorithmFinding{}},
		Errors:            []string{},
	}
}

// AddError records a sub-analysis failure as "<name>_error: <message>".
func (r *AnalysisReport) AddError(name string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, fmt.Sprintf("%s_error: %s", name, err.Error()))
}

// Summary counts local findings by risk level.
func (r *AnalysisReport) Summary() RiskSummary {
	return SummarizeFindings(r.AlgorithmAnalysis.Local)
}

// Results returns the three remote results keyed by their report field name.
func (r *AnalysisReport) Results() map[string]InferenceResult {
	return map[string]InferenceResult{
		"algorithm_analysis": r.AlgorithmAnalysis.AI,
		"key_analysis":       r.KeyAnalysis,
		"custom_analysis":    r.CustomAnalysis,
	}
}
