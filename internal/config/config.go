package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/onionprobe/internal/directory"
	"github.com/nao1215/onionprobe/internal/probe"
	"github.com/nao1215/onionprobe/internal/tor"
)

// Default configuration values.
const (
	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	// 127.0.0.1 avoids resolving localhost to ::1 on some systems.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultWorkers is the number of concurrent probes.
	DefaultWorkers = probe.DefaultWorkers

	// DefaultTimeout is the per-probe deadline. Building a rendezvous
	// circuit to an onion service regularly takes tens of seconds.
	DefaultTimeout = 60 * time.Second

	// DefaultProbePort is the port probed on each onion service.
	DefaultProbePort = tor.DefaultProbePort

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = tor.DefaultStartupTimeout

	// DefaultDirectoryRetries is how many times a directory fetch is tried.
	DefaultDirectoryRetries uint = directory.DefaultMaxAttempts

	// AppName is the application name used for XDG directory paths.
	AppName = "onionprobe"
)

// Config holds all options of a scan.
// It is a single flat struct populated from defaults, the config file and
// CLI flags, then passed down explicitly.
type Config struct {
	// TargetFile is the path of a newline-separated list of onion addresses.
	// Mutually exclusive with UseDirectory.
	TargetFile string

	// UseDirectory takes targets from the remote SecureDrop directory.
	// Mutually exclusive with TargetFile.
	UseDirectory bool

	// DirectoryURL is the directory API endpoint.
	DirectoryURL string

	// StatsURL is the translation statistics endpoint used by "stats".
	StatsURL string

	// DirectoryRetries is how many times a directory fetch is attempted.
	DirectoryRetries uint

	// Workers is the number of concurrent probes.
	Workers int

	// Cap limits the scan to the first Cap targets. Zero probes every target.
	Cap int

	// Timeout is the deadline of each probe.
	Timeout time.Duration

	// RateLimit caps probe starts per second. Zero means unlimited.
	RateLimit float64

	// Port is the port dialed on each onion service.
	Port int

	// TorProxyAddress is the external Tor SOCKS5 proxy in "host:port" form.
	// Only used when UseExternalTor is true.
	TorProxyAddress string

	// UseExternalTor disables the embedded Tor daemon.
	UseExternalTor bool

	// TorStartupTimeout is how long the embedded daemon may take to bootstrap.
	TorStartupTimeout time.Duration

	// JSONReport selects JSON output. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown output. Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path. When set, the report is written
	// there instead of stdout. Parent directories are created.
	ReportFile string

	// SaveHistory stores the finished scan in the history database.
	SaveHistory bool

	// DBDir is the directory of the history database.
	DBDir string

	// MetricsFile is the path of a Prometheus textfile written after the scan.
	MetricsFile string

	// Quiet suppresses per-probe progress lines.
	Quiet bool

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the config file given with --config.
	ConfigFilePath string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		DirectoryURL:      directory.DefaultDirectoryURL,
		StatsURL:          directory.DefaultStatsURL,
		DirectoryRetries:  DefaultDirectoryRetries,
		Workers:           DefaultWorkers,
		Timeout:           DefaultTimeout,
		Port:              DefaultProbePort,
		TorProxyAddress:   DefaultTorProxyAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
		DBDir:             XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for onionprobe.
// On Linux: ~/.local/share/onionprobe
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for onionprobe.
// On Linux: ~/.config/onionprobe
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first violated rule; nothing is probed before this passes.
func (c *Config) Validate() error {
	if c.TargetFile == "" && !c.UseDirectory {
		return ErrNoSource
	}
	if c.TargetFile != "" && c.UseDirectory {
		return ErrConflictingSources
	}
	if c.Workers < 1 {
		return ErrInvalidWorkerCount
	}
	if c.Cap < 0 {
		return ErrInvalidCap
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if !c.UseExternalTor && c.TorStartupTimeout <= 0 {
		return ErrInvalidTorStartupTimeout
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

// SchedulerConfig returns the scheduler settings of c.
func (c *Config) SchedulerConfig() probe.Config {
	return probe.Config{
		Workers:   c.Workers,
		Cap:       c.Cap,
		Timeout:   c.Timeout,
		RateLimit: c.RateLimit,
	}
}
