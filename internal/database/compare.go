package database

import (
	"context"
	"slices"
	"strings"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// FieldChange is one top-level field of the remote algorithm analysis whose
// value differs between two runs. Absent values are empty strings.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// Comparison is the difference between the two most recent runs of a target.
type Comparison struct {
	Target string `json:"target"`

	// Previous and Current are the run IDs being compared.
	Previous string `json:"previous"`
	Current  string `json:"current"`

	// NewFindings are local findings present only in the current run.
	NewFindings []model.AlgorithmFinding `json:"new_findings"`

	// ResolvedFindings are local findings present only in the previous run.
	ResolvedFindings []model.AlgorithmFinding `json:"resolved_findings"`

	// ChangedAIFields lists differing fields of the remote algorithm analysis.
	ChangedAIFields []FieldChange `json:"changed_ai_fields"`

	// AddedScripts and RemovedScripts are script digests.
	AddedScripts   []string `json:"added_scripts"`
	RemovedScripts []string `json:"removed_scripts"`
}

// HasChanges reports whether the two runs differ in anything compared.
func (c *Comparison) HasChanges() bool {
	return len(c.NewFindings) > 0 || len(c.ResolvedFindings) > 0 ||
		len(c.ChangedAIFields) > 0 || len(c.AddedScripts) > 0 || len(c.RemovedScripts) > 0
}

// CompareLatest compares the two most recent runs of target.
// It returns ErrNotEnoughRuns when fewer than two runs are stored.
func (rdb *ReportDB) CompareLatest(ctx context.Context, target string) (*Comparison, error) {
	reports, err := rdb.latest(ctx, target, 2)
	if err != nil {
		return nil, err
	}
	if len(reports) < 2 {
		return nil, ErrNotEnoughRuns
	}
	return Compare(reports[1], reports[0]), nil
}

// Compare computes the difference from previous to current.
//
// Findings are compared as multisets: two identical findings in the current
// run against one in the previous run count as one new finding.
func Compare(previous, current *model.ScanReport) *Comparison {
	prevLocal, currLocal := localFindings(previous), localFindings(current)
	prevScripts, currScripts := scriptDigests(previous), scriptDigests(current)

	return &Comparison{
		Target:           current.Target,
		Previous:         previous.ID,
		Current:          current.ID,
		NewFindings:      subtractFindings(currLocal, prevLocal),
		ResolvedFindings: subtractFindings(prevLocal, currLocal),
		ChangedAIFields:  diffFields(algorithmAI(previous), algorithmAI(current)),
		AddedScripts:     subtractStrings(currScripts, prevScripts),
		RemovedScripts:   subtractStrings(prevScripts, currScripts),
	}
}

func localFindings(r *model.ScanReport) []model.AlgorithmFinding {
	if r.Analysis == nil {
		return nil
	}
	return r.Analysis.AlgorithmAnalysis.Local
}

func algorithmAI(r *model.ScanReport) model.InferenceResult {
	if r.Analysis == nil {
		return nil
	}
	return r.Analysis.AlgorithmAnalysis.AI
}

func scriptDigests(r *model.ScanReport) []string {
	digests := make([]string, 0, len(r.Scripts))
	for _, s := range r.Scripts {
		digests = append(digests, s.Digest)
	}
	return digests
}

// subtractFindings returns a minus b as a multiset, preserving a's order.
func subtractFindings(a, b []model.AlgorithmFinding) []model.AlgorithmFinding {
	remaining := make(map[model.AlgorithmFinding]int, len(b))
	for _, f := range b {
		remaining[f]++
	}
	out := []model.AlgorithmFinding{}
	for _, f := range a {
		if remaining[f] > 0 {
			remaining[f]--
			continue
		}
		out = append(out, f)
	}
	return out
}

func subtractStrings(a, b []string) []string {
	remaining := make(map[string]int, len(b))
	for _, s := range b {
		remaining[s]++
	}
	out := []string{}
	for _, s := range a {
		if remaining[s] > 0 {
			remaining[s]--
			continue
		}
		out = append(out, s)
	}
	return out
}

// diffFields compares top-level fields by their canonical JSON encoding,
// in sorted field order.
func diffFields(before, after model.InferenceResult) []FieldChange {
	keys := make([]string, 0, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	changes := []FieldChange{}
	for _, k := range keys {
		b, bok := encodeField(before, k)
		a, aok := encodeField(after, k)
		if bok == aok && b == a {
			continue
		}
		changes = append(changes, FieldChange{Field: k, Before: b, After: a})
	}
	return changes
}

func encodeField(r model.InferenceResult, key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return "", true
	}
	return strings.TrimSpace(string(data)), true
}
