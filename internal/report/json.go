package report

import (
	"bytes"
	"io"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
//
// Design decision: We encode through internal/jsonutil so that map keys in
// the free-form remote results come out sorted, making two reports of the
// same run byte-identical and diffable.
type JSONWriter struct {
	baseWriter

	// indent is the indentation string. Empty means compact output.
	indent string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent sets the indentation string for each level.
func WithIndent(indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs one report as a JSON object.
func (w *JSONWriter) Write(report *model.ScanReport) (int, error) {
	return w.writeJSON(report)
}

// WriteAll outputs the reports as a JSON array.
func (w *JSONWriter) WriteAll(reports []*model.ScanReport) (int, error) {
	if reports == nil {
		reports = []*model.ScanReport{}
	}
	return w.writeJSON(reports)
}

// writeJSON encodes v into a buffer first so that a failed encoding never
// leaves partial output behind.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var buf bytes.Buffer
	if err := jsonutil.MarshalWrite(&buf, v, w.indent); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}

// JSONReport wraps a report with the version of the tool that produced it.
//
// Design decision: We wrap the report rather than adding a version field to
// ScanReport because the history database stores ScanReport as-is and the
// version is an output concern.
type JSONReport struct {
	// Version is the jscryptoscan version that generated this report.
	Version string `json:"version"`

	// Reports holds one entry per target.
	Reports []*model.ScanReport `json:"reports"`
}

// FullJSONWriter outputs reports with the version wrapper.
type FullJSONWriter struct {
	*JSONWriter

	version string
}

// NewFullJSONWriter creates a writer for reports with metadata.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs a single report wrapped with metadata.
func (w *FullJSONWriter) Write(report *model.ScanReport) (int, error) {
	return w.WriteAll([]*model.ScanReport{report})
}

// WriteAll outputs the reports wrapped with metadata.
func (w *FullJSONWriter) WriteAll(reports []*model.ScanReport) (int, error) {
	if reports == nil {
		reports = []*model.ScanReport{}
	}
	return w.writeJSON(&JSONReport{Version: w.version, Reports: reports})
}
