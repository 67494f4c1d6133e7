package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/onionprobe/internal/model"
)

// MarkdownWriter outputs the scan as a Markdown document with a status
// summary, a mermaid pie chart and one table row per target.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the scan in Markdown format.
func (w *MarkdownWriter) Write(scan *model.ScanResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	summary := scan.Summarize()

	w.writeHeader(md, scan)
	w.writeSummary(md, scan, summary)
	w.writeResults(md, scan)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the title and the scan parameters.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, scan *model.ScanResult) {
	md.H1("Onion Service Availability Report")
	md.PlainText("")

	capText := "none"
	if scan.Cap > 0 {
		capText = strconv.Itoa(scan.Cap)
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Scan ID", "`" + scan.ID + "`"},
			{"Started", formatTime(scan.StartedAt)},
			{"Duration", scan.Duration().Round(time.Millisecond).String()},
			{"Targets", strconv.Itoa(scan.RequestedCount)},
			{"Probed", strconv.Itoa(scan.DispatchedCount)},
			{"Cap", capText},
			{"Workers", strconv.Itoa(scan.WorkerCount)},
			{"Probe Timeout", scan.Timeout.String()},
			{"Status", w.getStatusText(scan)},
		},
	})
	md.PlainText("")
}

// getStatusText describes whether the scan ran to completion.
func (w *MarkdownWriter) getStatusText(scan *model.ScanResult) string {
	if scan.Partial {
		return "⚠️ Aborted (partial results)"
	}
	return "✅ Complete"
}

// writeSummary writes the per-status counts, chart and alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, scan *model.ScanResult, summary model.Summary) {
	md.H2("Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(model.AllStatuses)+1)
	for _, status := range model.AllStatuses {
		rows = append(rows, []string{statusIcon(status) + " " + statusLabel(status), strconv.Itoa(summary.Count(status))})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(summary.Total()) + "**"})

	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if summary.Total() > 0 {
		w.writePieChart(md, summary)
	}

	w.writeAlert(md, scan, summary)
}

// writePieChart writes a mermaid pie chart of the status distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary model.Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Probe Outcomes"),
		piechart.WithShowData(true),
	)

	for _, status := range model.AllStatuses {
		if n := summary.Count(status); n > 0 {
			chart.LabelAndIntValue(statusLabel(status), uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes one alert summarizing the scan.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, scan *model.ScanResult, summary model.Summary) {
	switch {
	case scan.Partial:
		md.Warningf("The scan was aborted. %d of %d dispatched targets resolved before it stopped.",
			summary.Total(), model.ExpectedDispatch(scan.RequestedCount, scan.Cap))
	case summary.Total() == 0:
		md.Note("No targets were probed.")
	case summary.Reachable == 0:
		md.Cautionf("None of the %d probed services is reachable.", summary.Total())
	case summary.Failed() > 0:
		md.Importantf("%d of %d probed services did not answer.", summary.Failed(), summary.Total())
	default:
		md.Tip("All probed services are reachable.")
	}
	md.PlainText("")
}

// writeResults writes one row per probed target in dispatch order.
func (w *MarkdownWriter) writeResults(md *markdown.Markdown, scan *model.ScanResult) {
	md.H2("Results")
	md.PlainText("")

	if len(scan.Results) == 0 {
		md.PlainText("No results.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(scan.Results))
	for i, r := range scan.Results {
		name := r.Target.DisplayName
		if name == "" {
			name = "-"
		}
		rows[i] = []string{
			strconv.Itoa(r.Index + 1),
			truncateString(name, 40),
			"`" + r.Target.Address + "`",
			statusIcon(r.Outcome.Status()) + " " + statusLabel(r.Outcome.Status()),
			truncateString(r.Outcome.Detail(), 60),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"#", "Name", "Address", "Status", "Detail"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [onionprobe](https://github.com/nao1215/onionprobe)*")
}

// statusIcon returns the emoji marking status.
func statusIcon(status model.Status) string {
	switch status {
	case model.StatusReachable:
		return "🟢"
	case model.StatusUnreachable:
		return "🔴"
	case model.StatusTimedOut:
		return "🟡"
	case model.StatusTransportError:
		return "⚪"
	default:
		return "❔"
	}
}

// formatTime formats t for reports, or "-" when unset.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}
