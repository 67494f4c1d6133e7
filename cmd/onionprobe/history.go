package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/nao1215/onionprobe/internal/config"
	"github.com/nao1215/onionprobe/internal/database"
	"github.com/nao1215/onionprobe/internal/report"
)

// defaultHistoryLimit is how many scans are listed by default.
const defaultHistoryLimit = 20

// historyDateLayout formats timestamps in history listings.
const historyDateLayout = "2006-01-02 15:04:05"

// NewHistoryCmd creates the history command.
// This command reads scans stored by "scan --history".
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [onion-address]",
		Short: "Show stored scans and the availability of an address",
		Long: `History displays scans saved with 'onionprobe scan --history'.

Without arguments, the most recent scans are listed. With --scan, a stored
scan is shown as a full report. With an onion address, every stored probe
of that address is shown together with its availability ratio.

Examples:
  # List the 20 most recent scans
  onionprobe history

  # Show a stored scan as Markdown
  onionprobe history --scan 3f0c9a4e-... --markdown

  # Show how often an address answered
  onionprobe history exampleonion.onion`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().StringP("scan", "s", "",
		"Show the stored scan with this ID")
	cmd.Flags().IntP("limit", "l", defaultHistoryLimit,
		"Maximum number of scans to list (0 lists every scan)")
	cmd.Flags().String("history-dir", "",
		"Directory of the history database (default: XDG data directory)")

	// Output format flags
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output in Markdown format (mutually exclusive with --json)")

	return cmd
}

// outputFormat selects how command output is rendered.
type outputFormat int

const (
	formatText outputFormat = iota
	formatJSON
	formatMarkdown
)

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	scanID, err := cmd.Flags().GetString("scan")
	if err != nil {
		return err
	}
	if scanID != "" && len(args) > 0 {
		return errors.New("--scan cannot be combined with an onion address")
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	format, err := readOutputFormat(cmd)
	if err != nil {
		return err
	}

	dbDir, err := cmd.Flags().GetString("history-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	// History never creates a database; an absent one means nothing was saved.
	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false})
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	switch {
	case scanID != "":
		return showStoredScan(ctx, out, db, scanID, format)
	case len(args) == 1:
		return showAddressHistory(ctx, out, db, args[0], format)
	default:
		return listStoredScans(ctx, out, db, limit, format)
	}
}

// readOutputFormat reads the --json and --markdown flags.
func readOutputFormat(cmd *cobra.Command) (outputFormat, error) {
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return formatText, err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return formatText, err
	}

	switch {
	case jsonOutput && markdownOutput:
		return formatText, config.ErrConflictingReportFormats
	case jsonOutput:
		return formatJSON, nil
	case markdownOutput:
		return formatMarkdown, nil
	default:
		return formatText, nil
	}
}

// listStoredScans prints the most recent scans.
func listStoredScans(ctx context.Context, out io.Writer, db *database.HistoryDB, limit int, format outputFormat) error {
	records, err := db.ListScans(ctx, limit)
	if err != nil {
		return err
	}

	switch format {
	case formatJSON:
		return writeJSON(out, newScanRecordsJSON(records))
	case formatMarkdown:
		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{
				"`" + rec.ID + "`",
				rec.StartedAt.Local().Format(historyDateLayout),
				rec.Duration().Round(time.Second).String(),
				fmt.Sprintf("%d/%d", rec.Summary.Reachable, rec.DispatchedCount),
				partialText(rec.Partial),
			})
		}
		return markdown.NewMarkdown(out).
			H1("Scan History").
			Table(markdown.TableSet{
				Header: []string{"Scan ID", "Started", "Duration", "Reachable", "Complete"},
				Rows:   rows,
			}).
			Build()
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No scans stored yet (run 'onionprobe scan --history' first)")
		return nil
	}

	fmt.Fprintf(out, "Stored scans (%d):\n\n", len(records))
	fmt.Fprintf(out, "  %-36s  %-19s  %-10s  %-9s  %s\n", "ID", "Started", "Duration", "Reachable", "Complete")
	for _, rec := range records {
		fmt.Fprintf(out, "  %-36s  %-19s  %-10s  %-9s  %s\n",
			rec.ID,
			rec.StartedAt.Local().Format(historyDateLayout),
			rec.Duration().Round(time.Second),
			fmt.Sprintf("%d/%d", rec.Summary.Reachable, rec.DispatchedCount),
			partialText(rec.Partial),
		)
	}
	return nil
}

// scanRecordJSON is the JSON form of a listed scan.
type scanRecordJSON struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	RequestedCount  int       `json:"requested_count"`
	DispatchedCount int       `json:"dispatched_count"`
	Partial         bool      `json:"partial"`
	Reachable       int       `json:"reachable"`
	Unreachable     int       `json:"unreachable"`
	TimedOut        int       `json:"timed_out"`
	TransportError  int       `json:"transport_error"`
}

// newScanRecordsJSON converts listed scans to their JSON form.
func newScanRecordsJSON(records []database.ScanRecord) []scanRecordJSON {
	out := make([]scanRecordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, scanRecordJSON{
			ID:              rec.ID,
			StartedAt:       rec.StartedAt,
			FinishedAt:      rec.FinishedAt,
			RequestedCount:  rec.RequestedCount,
			DispatchedCount: rec.DispatchedCount,
			Partial:         rec.Partial,
			Reachable:       rec.Summary.Reachable,
			Unreachable:     rec.Summary.Unreachable,
			TimedOut:        rec.Summary.TimedOut,
			TransportError:  rec.Summary.TransportError,
		})
	}
	return out
}

// showStoredScan prints one stored scan with the report writers.
func showStoredScan(ctx context.Context, out io.Writer, db *database.HistoryDB, id string, format outputFormat) error {
	scan, err := db.GetScan(ctx, id)
	if err != nil {
		return err
	}

	var w report.Writer
	switch format {
	case formatJSON:
		w = report.NewFullJSONWriter(out, getVersion(), report.WithPrettyPrint())
	case formatMarkdown:
		w = report.NewMarkdownWriter(out)
	default:
		w = report.NewSimpleWriter(out, report.WithVerbose(true))
	}
	_, err = w.Write(scan)
	return err
}

// showAddressHistory prints the probe timeline of one address.
func showAddressHistory(ctx context.Context, out io.Writer, db *database.HistoryDB, address string, format outputFormat) error {
	history, err := db.AddressHistory(ctx, address)
	if err != nil {
		return err
	}

	switch format {
	case formatJSON:
		return writeJSON(out, newAddressHistoryJSON(history))
	case formatMarkdown:
		rows := make([][]string, 0, len(history.Probes))
		for _, p := range history.Probes {
			rows = append(rows, []string{
				p.ProbedAt.Local().Format(historyDateLayout),
				p.Status.String(),
				p.Detail,
				"`" + p.ScanID + "`",
			})
		}
		return markdown.NewMarkdown(out).
			H1("Probe History: "+history.Address).
			PlainTextf("Availability: **%s** over %d probes", formatPercent(history.Availability()), len(history.Probes)).
			PlainText("").
			Table(markdown.TableSet{
				Header: []string{"Probed", "Status", "Detail", "Scan ID"},
				Rows:   rows,
			}).
			Build()
	}

	if len(history.Probes) == 0 {
		fmt.Fprintf(out, "No probes stored for %s\n", history.Address)
		return nil
	}

	fmt.Fprintf(out, "Probe history for %s (%d probes):\n", history.Address, len(history.Probes))
	fmt.Fprintf(out, "Availability: %s\n\n", formatPercent(history.Availability()))
	fmt.Fprintf(out, "  %-19s  %-15s  %s\n", "Probed", "Status", "Detail")
	for _, p := range history.Probes {
		fmt.Fprintf(out, "  %-19s  %-15s  %s\n",
			p.ProbedAt.Local().Format(historyDateLayout),
			p.Status,
			p.Detail,
		)
	}
	return nil
}

// addressHistoryJSON is the JSON form of an address timeline.
type addressHistoryJSON struct {
	Address      string            `json:"address"`
	Availability float64           `json:"availability"`
	Probes       []probeRecordJSON `json:"probes"`
}

// probeRecordJSON is the JSON form of one stored probe.
type probeRecordJSON struct {
	ScanID   string    `json:"scan_id"`
	ProbedAt time.Time `json:"probed_at"`
	Status   string    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
}

// newAddressHistoryJSON converts an address timeline to its JSON form.
func newAddressHistoryJSON(h *database.AddressHistory) addressHistoryJSON {
	out := addressHistoryJSON{
		Address:      h.Address,
		Availability: h.Availability(),
		Probes:       make([]probeRecordJSON, 0, len(h.Probes)),
	}
	for _, p := range h.Probes {
		out.Probes = append(out.Probes, probeRecordJSON{
			ScanID:   p.ScanID,
			ProbedAt: p.ProbedAt,
			Status:   p.Status.String(),
			Detail:   p.Detail,
		})
	}
	return out
}

// writeJSON writes v as indented JSON.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatPercent formats a ratio in [0, 1] as a percentage.
func formatPercent(ratio float64) string {
	return strconv.FormatFloat(ratio*100, 'f', 1, 64) + "%"
}

// partialText describes whether a scan ran to completion.
func partialText(partial bool) string {
	if partial {
		return "aborted"
	}
	return "yes"
}
