package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/nao1215/onionprobe/internal/config"
	"github.com/nao1215/onionprobe/internal/directory"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	return newStatsCmd(connectTor)
}

// newStatsCmd creates the stats command with the given Tor connector.
func newStatsCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show SecureDrop translation statistics",
		Long: `Stats fetches the per-language translation progress of SecureDrop
through Tor and prints it, most complete languages first.

Examples:
  # Show translation statistics
  onionprobe stats

  # Only languages at least 80% translated, as Markdown
  onionprobe stats --min 80 --markdown`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsCmd(cmd, connect)
		},
	}

	cmd.Flags().Float64("min", 0,
		"Only show languages with at least this translated percentage")
	cmd.Flags().String("stats-url", "",
		"Translation statistics endpoint (default: SecureDrop Weblate)")

	// Tor connection flags
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address (e.g., 127.0.0.1:9150)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout of each request")

	// Output format flags
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output in Markdown format (mutually exclusive with --json)")

	return cmd
}

// languageRow is one printed language.
type languageRow struct {
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Translated        int     `json:"translated"`
	Total             int     `json:"total"`
	TranslatedPercent float64 `json:"translated_percent"`
}

// runStatsCmd executes the stats command.
func runStatsCmd(cmd *cobra.Command, connect connectFunc) error {
	cfg, err := buildStatsConfig(cmd)
	if err != nil {
		return err
	}

	minPercent, err := cmd.Flags().GetFloat64("min")
	if err != nil {
		return err
	}
	format, err := readOutputFormat(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := connect(ctx, cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer session.close()

	client := directory.NewClient(session.httpClient,
		directory.WithStatsURL(cfg.StatsURL),
		directory.WithRetry(cfg.DirectoryRetries, directory.DefaultRetryDelay),
		directory.WithLogger(logger),
	)

	stats, err := client.TranslationStats(ctx)
	if err != nil {
		return err
	}

	rows := languageRows(stats, minPercent)
	out := cmd.OutOrStdout()

	switch format {
	case formatJSON:
		return writeJSON(out, rows)
	case formatMarkdown:
		return writeStatsMarkdown(out, rows)
	default:
		writeStatsText(out, rows)
		return nil
	}
}

// buildStatsConfig creates the Tor and directory settings of the stats
// command from defaults, the configuration file and flags.
func buildStatsConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	if configPath := config.FindConfigFile(""); configPath != "" {
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	}

	var err error
	if flags.Changed("stats-url") {
		if cfg.StatsURL, err = flags.GetString("stats-url"); err != nil {
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
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("configuration error: %w", config.ErrInvalidTimeout)
	}
	if !cfg.UseExternalTor && cfg.TorStartupTimeout <= 0 {
		return nil, fmt.Errorf("configuration error: %w", config.ErrInvalidTorStartupTimeout)
	}
	return cfg, nil
}

// languageRows filters stats by minPercent and orders them by translated
// percentage, highest first, then by code.
func languageRows(stats []directory.LanguageStats, minPercent float64) []languageRow {
	names := display.English.Languages()

	rows := make([]languageRow, 0, len(stats))
	for _, s := range stats {
		if s.TranslatedPercent < minPercent {
			continue
		}
		rows = append(rows, languageRow{
			Code:              s.Code,
			Name:              languageName(names, s),
			Translated:        s.Translated,
			Total:             s.Total,
			TranslatedPercent: s.TranslatedPercent,
		})
	}

	slices.SortFunc(rows, func(a, b languageRow) int {
		if c := cmp.Compare(b.TranslatedPercent, a.TranslatedPercent); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return rows
}

// languageName returns the English name of a Weblate language code such as
// "pt_BR", falling back to the name reported by the server.
func languageName(names display.Namer, s directory.LanguageStats) string {
	tag, err := language.Parse(strings.ReplaceAll(s.Code, "_", "-"))
	if err == nil {
		if name := names.Name(tag); name != "" {
			return name
		}
	}
	if s.Name != "" {
		return s.Name
	}
	return s.Code
}

// writeStatsText prints rows as an aligned table.
func writeStatsText(out io.Writer, rows []languageRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No languages found")
		return
	}

	fmt.Fprintf(out, "Translation statistics (%d languages):\n\n", len(rows))
	fmt.Fprintf(out, "  %-8s  %-28s  %8s  %s\n", "Code", "Language", "Done", "Strings")
	for _, r := range rows {
		fmt.Fprintf(out, "  %-8s  %-28s  %7.1f%%  %d/%d\n",
			r.Code, r.Name, r.TranslatedPercent, r.Translated, r.Total)
	}
}

// writeStatsMarkdown prints rows as a Markdown table.
func writeStatsMarkdown(out io.Writer, rows []languageRow) error {
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{
			"`" + r.Code + "`",
			r.Name,
			strconv.FormatFloat(r.TranslatedPercent, 'f', 1, 64) + "%",
			fmt.Sprintf("%d/%d", r.Translated, r.Total),
		})
	}

	return markdown.NewMarkdown(out).
		H1("SecureDrop Translation Statistics").
		Table(markdown.TableSet{
			Header: []string{"Code", "Language", "Translated", "Strings"},
			Rows:   table,
		}).
		Build()
}
