package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nao1215/onionprobe/internal/config"
	"github.com/nao1215/onionprobe/internal/database"
	"github.com/nao1215/onionprobe/internal/directory"
	"github.com/nao1215/onionprobe/internal/metrics"
	"github.com/nao1215/onionprobe/internal/model"
	"github.com/nao1215/onionprobe/internal/probe"
	"github.com/nao1215/onionprobe/internal/report"
	"github.com/nao1215/onionprobe/internal/source"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	return newScanCmd(connectTor)
}

// newScanCmd creates the scan command with the given Tor connector.
func newScanCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe a list of onion services",
		Long: `Scan checks whether each listed onion service answers through Tor.

Targets come from exactly one source: a file with one onion address per
line (--file), or the SecureDrop directory (--directory). Every target is
probed once by a fixed pool of workers and the results are reported in
source order.

Examples:
  # Probe the addresses in a file
  onionprobe scan -f onions.txt

  # Probe the first 20 SecureDrop instances with 10 workers
  onionprobe scan --directory -n 20 -w 10

  # Use an external Tor proxy instead of the embedded daemon
  onionprobe scan -f onions.txt --external-tor 127.0.0.1:9150

  # Save a Markdown report and keep the scan in the history database
  onionprobe scan -d -m -o reports/securedrop.md --history`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScanCmd(cmd, connect)
		},
	}

	// Target source flags
	cmd.Flags().StringP("file", "f", "",
		"File with one onion address per line (mutually exclusive with --directory)")
	cmd.Flags().BoolP("directory", "d", false,
		"Probe the instances listed in the SecureDrop directory")

	// Scheduling flags
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of concurrent probes")
	cmd.Flags().IntP("num", "n", 0,
		"Probe only the first N targets (0 probes every target)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Deadline of each probe")
	cmd.Flags().Float64("rate", 0,
		"Maximum probes started per second (0 means no limit)")
	cmd.Flags().Int("port", config.DefaultProbePort,
		"Port dialed on each onion service")

	// Tor connection flags
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address (e.g., 127.0.0.1:9150)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .onionprobe.yaml or XDG config directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().BoolP("quiet", "q", false,
		"Do not print progress while probing")

	// History and metrics flags
	cmd.Flags().Bool("history", false,
		"Save the scan to the history database")
	cmd.Flags().String("history-dir", "",
		"Directory of the history database (default: XDG data directory)")
	cmd.Flags().String("metrics-file", "",
		"Write Prometheus metrics to this file after the scan")

	return cmd
}

// runScanCmd executes the scan command.
func runScanCmd(cmd *cobra.Command, connect connectFunc) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &scanRunner{
		cfg:     cfg,
		connect: connect,
		logger:  logger,
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
	}
	return r.run(ctx)
}

// buildConfig creates a Config from defaults, the configuration file and
// the flags set on the command line, in that order.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicitly named config file must exist; the default locations
	// are optional.
	if configPath := config.FindConfigFile(cfg.ConfigFilePath); configPath != "" {
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	if flags.Changed("file") {
		if cfg.TargetFile, err = flags.GetString("file"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("directory") {
		if cfg.UseDirectory, err = flags.GetBool("directory"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("workers") {
		if cfg.Workers, err = flags.GetInt("workers"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("num") {
		if cfg.Cap, err = flags.GetInt("num"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("rate") {
		if cfg.RateLimit, err = flags.GetFloat64("rate"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("port") {
		if cfg.Port, err = flags.GetInt("port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("external-tor") {
		externalTor, err := flags.GetString("external-tor")
		if err != nil {
			return nil, err
		}
		cfg.UseExternalTor = externalTor != ""
		if cfg.UseExternalTor {
			cfg.TorProxyAddress = externalTor
		}
	}
	if flags.Changed("tor-timeout") {
		if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("history") {
		if cfg.SaveHistory, err = flags.GetBool("history"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("history-dir") {
		if cfg.DBDir, err = flags.GetString("history-dir"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("metrics-file") {
		if cfg.MetricsFile, err = flags.GetString("metrics-file"); err != nil {
			return nil, err
		}
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.Quiet, err = flags.GetBool("quiet"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	return cfg, nil
}

// scanRunner carries one validated scan from target acquisition to export.
type scanRunner struct {
	cfg     *config.Config
	connect connectFunc
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer
}

// run executes the scan. A scan that was interrupted or faulted is still
// reported, recorded and exported before its error is returned.
func (r *scanRunner) run(ctx context.Context) error {
	cfg := r.cfg

	// A local list is read before Tor starts so a bad path fails fast.
	var targets []model.Target
	if cfg.TargetFile != "" {
		var err error
		targets, err = source.NewFile(cfg.TargetFile).ListTargets(ctx)
		if err != nil {
			return err
		}
	}

	var history *database.HistoryDB
	if cfg.SaveHistory {
		var err error
		history, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer history.Close()
		r.logger.Info("history database opened", "path", history.Path())
	}

	var recorder *metrics.Recorder
	if cfg.MetricsFile != "" {
		var err error
		recorder, err = metrics.NewRecorder()
		if err != nil {
			return fmt.Errorf("failed to create metrics recorder: %w", err)
		}
	}

	session, err := r.connect(ctx, cfg, r.logger, r.stderr)
	if err != nil {
		return err
	}
	defer session.close()

	if cfg.UseDirectory {
		client := directory.NewClient(session.httpClient,
			directory.WithDirectoryURL(cfg.DirectoryURL),
			directory.WithRetry(cfg.DirectoryRetries, directory.DefaultRetryDelay),
			directory.WithLogger(r.logger),
		)
		targets, err = source.NewDirectory(client, r.logger).ListTargets(ctx)
		if err != nil {
			return err
		}
	}

	opts := []probe.Option{probe.WithLogger(r.logger)}
	if !cfg.Quiet {
		opts = append(opts, probe.WithProgress(newProgressPrinter(r.stderr).print))
	}
	if recorder != nil {
		opts = append(opts, probe.WithObserver(recorder))
	}

	scheduler, err := probe.NewScheduler(session.transport, cfg.SchedulerConfig(), opts...)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	scan, runErr := scheduler.Run(ctx, targets)
	if scan == nil {
		return runErr
	}

	if recorder != nil {
		recorder.ObserveScan(scan)
		if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
			r.logger.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	if err := r.writeReport(scan); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
	}

	if history != nil {
		// The scan context may already be cancelled; the finished result
		// is stored regardless.
		if err := history.SaveScan(context.WithoutCancel(ctx), scan); err != nil {
			r.logger.Error("failed to save scan", "scan_id", scan.ID, "error", err)
		} else {
			r.logger.Info("scan saved to history", "scan_id", scan.ID)
		}
	}

	return runErr
}

// writeReport outputs scan in the requested format.
//
// With --output the report goes to the file (JSON unless --markdown) and a
// short summary of failed targets is printed to stdout.
func (r *scanRunner) writeReport(scan *model.ScanResult) error {
	cfg := r.cfg

	if cfg.ReportFile == "" {
		_, err := r.stdoutWriter().Write(scan)
		return err
	}

	// Create directories if they don't exist
	if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	var fileWriter report.Writer
	if cfg.MarkdownReport {
		fileWriter = report.NewMarkdownWriter(f)
	} else {
		fileWriter = report.NewFullJSONWriter(f, getVersion(), report.WithPrettyPrint())
	}

	w := report.NewMultiWriter(
		fileWriter,
		report.NewSimpleWriter(r.stdout, report.WithFailuresOnly(true)),
	)
	if _, err := w.Write(scan); err != nil {
		return err
	}

	fmt.Fprintf(r.stdout, "Report written to %s\n", cfg.ReportFile)
	return nil
}

// stdoutWriter returns the writer used when no output file is set.
func (r *scanRunner) stdoutWriter() report.Writer {
	switch {
	case r.cfg.JSONReport:
		return report.NewFullJSONWriter(r.stdout, getVersion(), report.WithPrettyPrint())
	case r.cfg.MarkdownReport:
		return report.NewMarkdownWriter(r.stdout)
	default:
		return report.NewSimpleWriter(r.stdout, report.WithVerbose(r.cfg.Verbose))
	}
}

// progressPrinter prints one line per recorded outcome.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer

	reachable *color.Color
	failed    *color.Color
	timedOut  *color.Color
}

// newProgressPrinter creates a progressPrinter. Colors are used only when
// out is a terminal.
func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{
		out:       out,
		reachable: color.New(color.FgGreen),
		failed:    color.New(color.FgRed),
		timedOut:  color.New(color.FgYellow),
	}
	if !isTerminal(out) {
		p.reachable.DisableColor()
		p.failed.DisableColor()
		p.timedOut.DisableColor()
	}
	return p
}

// print implements probe.ProgressFunc.
func (p *progressPrinter) print(done, total int, result model.Result) {
	var c *color.Color
	switch result.Outcome.Status() {
	case model.StatusReachable:
		c = p.reachable
	case model.StatusTimedOut:
		c = p.timedOut
	default:
		c = p.failed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%d/%d] %s %s: %s\n",
		done, total, result.Target.Address,
		c.Sprint(result.Outcome.Status()), result.Outcome.Detail())
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
