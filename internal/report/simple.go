package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/onionprobe/internal/model"
)

// SimpleWriter outputs a plain-text report for the terminal.
type SimpleWriter struct {
	baseWriter

	// failuresOnly hides reachable targets from the result list.
	failuresOnly bool

	// verbose adds the scan ID and probe parameters to the header.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithFailuresOnly lists only targets that did not answer.
func WithFailuresOnly(only bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.failuresOnly = only
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
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the scan in human-readable format.
func (w *SimpleWriter) Write(scan *model.ScanResult) (int, error) {
	var sb strings.Builder
	summary := scan.Summarize()

	w.writeHeader(&sb, scan)
	w.writeSummary(&sb, summary)
	w.writeResults(&sb, scan)
	w.writeFooter(&sb, scan, summary)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the banner and scan parameters.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, scan *model.ScanResult) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                  ONION SERVICE AVAILABILITY REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Started:        %s\n", formatTime(scan.StartedAt))
	fmt.Fprintf(sb, "Duration:       %s\n", scan.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "Targets:        %d (probed %d)\n", scan.RequestedCount, scan.DispatchedCount)

	if w.verbose {
		fmt.Fprintf(sb, "Scan ID:        %s\n", scan.ID)
		fmt.Fprintf(sb, "Workers:        %d\n", scan.WorkerCount)
		fmt.Fprintf(sb, "Probe Timeout:  %s\n", scan.Timeout)
		if scan.Cap > 0 {
			fmt.Fprintf(sb, "Cap:            %d\n", scan.Cap)
		}
	}

	if scan.Partial {
		sb.WriteString("Status:         ABORTED (partial results)\n")
	} else {
		sb.WriteString("Status:         Complete\n")
	}

	sb.WriteString("\n")
}

// writeSummary writes the per-status counts.
func (w *SimpleWriter) writeSummary(sb *strings.Builder, summary model.Summary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	for _, status := range model.AllStatuses {
		fmt.Fprintf(sb, "  [%s] %-12s %d\n", statusMarker(status), statusLabel(status)+":", summary.Count(status))
	}
	fmt.Fprintf(sb, "  %-16s %d\n", "Total:", summary.Total())
	sb.WriteString("\n")
}

// writeResults writes one line per target, plus the failure detail.
func (w *SimpleWriter) writeResults(sb *strings.Builder, scan *model.ScanResult) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("RESULTS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	shown := 0
	for _, r := range scan.Results {
		status := r.Outcome.Status()
		if w.failuresOnly && status == model.StatusReachable {
			continue
		}
		shown++

		fmt.Fprintf(sb, "  [%s] %s\n", statusMarker(status), r.Target.Label())
		if r.Target.DisplayName != "" {
			fmt.Fprintf(sb, "        Address: %s\n", r.Target.Address)
		}
		fmt.Fprintf(sb, "        %s: %s\n", statusLabel(status), r.Outcome.Detail())
	}

	if shown == 0 {
		sb.WriteString("  (none)\n")
	}
	sb.WriteString("\n")
}

// writeFooter writes the closing line.
func (w *SimpleWriter) writeFooter(sb *strings.Builder, scan *model.ScanResult, summary model.Summary) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	switch {
	case scan.Partial:
		fmt.Fprintf(sb, "Scan aborted after %d result(s).\n", summary.Total())
	case summary.Total() == 0:
		sb.WriteString("No targets were probed.\n")
	default:
		fmt.Fprintf(sb, "%d of %d service(s) reachable.\n", summary.Reachable, summary.Total())
	}
}

// statusMarker returns a fixed-width ASCII marker for status.
func statusMarker(status model.Status) string {
	switch status {
	case model.StatusReachable:
		return " OK "
	case model.StatusUnreachable:
		return "DOWN"
	case model.StatusTimedOut:
		return "TIME"
	case model.StatusTransportError:
		return "ERR "
	default:
		return " ?? "
	}
}
