package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/onionprobe/internal/model"
)

// JSONWriter outputs the scan result as JSON.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed output.
	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the scan result as a single JSON document.
func (w *JSONWriter) Write(scan *model.ScanResult) (int, error) {
	return w.writeJSON(scan)
}

// writeJSON marshals v and writes it followed by a newline.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}

// JSONReport is the exported report document: the scan plus the version
// that produced it and per-status counts.
type JSONReport struct {
	// Version is the onionprobe version that produced the report.
	Version string `json:"version"`

	// Summary counts the results per status.
	Summary model.Summary `json:"summary"`

	// Scan is the full scan result.
	Scan *model.ScanResult `json:"scan"`
}

// NewJSONReport wraps scan with version information and its summary.
func NewJSONReport(scan *model.ScanResult, version string) *JSONReport {
	return &JSONReport{
		Version: version,
		Summary: scan.Summarize(),
		Scan:    scan,
	}
}

// FullJSONWriter outputs JSONReport documents.
type FullJSONWriter struct {
	*JSONWriter

	version string
}

// NewFullJSONWriter creates a writer for complete report documents.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the scan wrapped in a JSONReport.
func (w *FullJSONWriter) Write(scan *model.ScanResult) (int, error) {
	return w.writeJSON(NewJSONReport(scan, w.version))
}
