package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name looked up in the working directory.
const DefaultConfigFile = ".onionprobe.yaml"

// xdgConfigFile is the config file name inside XDGConfigDir.
const xdgConfigFile = "config.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the structure of the YAML configuration file.
// Every field is optional; unset fields keep the value they already had.
type File struct {
	// Workers is the number of concurrent probes.
	Workers *int `yaml:"workers,omitempty"`

	// Cap limits how many targets are probed.
	Cap *int `yaml:"cap,omitempty"`

	// Timeout is the per-probe deadline, e.g. "45s".
	Timeout *time.Duration `yaml:"timeout,omitempty"`

	// Rate caps probe starts per second.
	Rate *float64 `yaml:"rate,omitempty"`

	// Port is the port dialed on each onion service.
	Port *int `yaml:"port,omitempty"`

	// Tor configures how Tor is reached.
	Tor TorFile `yaml:"tor,omitempty"`

	// Directory configures the remote directory source.
	Directory DirectoryFile `yaml:"directory,omitempty"`

	// History enables saving scans to the history database.
	History *bool `yaml:"history,omitempty"`

	// HistoryDir overrides the history database directory.
	HistoryDir string `yaml:"historyDir,omitempty"`

	// MetricsFile is the Prometheus textfile path.
	MetricsFile string `yaml:"metricsFile,omitempty"`
}

// TorFile is the tor section of the configuration file.
type TorFile struct {
	// ExternalProxy is an existing SOCKS5 proxy; setting it disables the
	// embedded daemon.
	ExternalProxy string `yaml:"externalProxy,omitempty"`

	// StartupTimeout bounds the embedded daemon's bootstrap.
	StartupTimeout *time.Duration `yaml:"startupTimeout,omitempty"`
}

// DirectoryFile is the directory section of the configuration file.
type DirectoryFile struct {
	// URL is the directory API endpoint.
	URL string `yaml:"url,omitempty"`

	// StatsURL is the translation statistics endpoint.
	StatsURL string `yaml:"statsUrl,omitempty"`

	// Retries is how many times a fetch is attempted.
	Retries *uint `yaml:"retries,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cf, nil
}

// Apply overlays the fields set in the file onto cfg.
func (cf *File) Apply(cfg *Config) {
	if cf.Workers != nil {
		cfg.Workers = *cf.Workers
	}
	if cf.Cap != nil {
		cfg.Cap = *cf.Cap
	}
	if cf.Timeout != nil {
		cfg.Timeout = *cf.Timeout
	}
	if cf.Rate != nil {
		cfg.RateLimit = *cf.Rate
	}
	if cf.Port != nil {
		cfg.Port = *cf.Port
	}
	if cf.Tor.ExternalProxy != "" {
		cfg.UseExternalTor = true
		cfg.TorProxyAddress = cf.Tor.ExternalProxy
	}
	if cf.Tor.StartupTimeout != nil {
		cfg.TorStartupTimeout = *cf.Tor.StartupTimeout
	}
	if cf.Directory.URL != "" {
		cfg.DirectoryURL = cf.Directory.URL
	}
	if cf.Directory.StatsURL != "" {
		cfg.StatsURL = cf.Directory.StatsURL
	}
	if cf.Directory.Retries != nil {
		cfg.DirectoryRetries = *cf.Directory.Retries
	}
	if cf.History != nil {
		cfg.SaveHistory = *cf.History
	}
	if cf.HistoryDir != "" {
		cfg.DBDir = cf.HistoryDir
	}
	if cf.MetricsFile != "" {
		cfg.MetricsFile = cf.MetricsFile
	}
}

// FindConfigFile searches for the configuration file in the following order:
//  1. configPath, if given
//  2. .onionprobe.yaml in the current directory
//  3. config.yaml in the XDG config directory
//
// It returns an empty string if no file is found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	xdgConfig := filepath.Join(XDGConfigDir(), xdgConfigFile)
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}

	return ""
}
