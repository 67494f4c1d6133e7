package report

import (
	"io"

	"github.com/nao1215/onionprobe/internal/model"
)

// Writer writes a scan result in one output format.
type Writer interface {
	// Write outputs the scan and returns the number of bytes written.
	Write(scan *model.ScanResult) (int, error)
}

// MultiWriter writes the same scan to several Writers, e.g. a file and
// the terminal.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the scan to every Writer in order and stops at the first
// error. It returns the total bytes written.
func (m *MultiWriter) Write(scan *model.ScanResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(scan)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter holds the destination shared by all writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// statusLabels are the human-readable status names used by the text and
// Markdown writers.
var statusLabels = map[model.Status]string{
	model.StatusReachable:      "Reachable",
	model.StatusUnreachable:    "Unreachable",
	model.StatusTimedOut:       "Timed out",
	model.StatusTransportError: "Error",
}

// statusLabel returns the label of status.
func statusLabel(status model.Status) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status.String()
}

// truncateString shortens s to maxLen bytes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
