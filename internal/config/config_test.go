package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig verifies the documented defaults.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default Workers is 5", func(t *testing.T) {
		t.Parallel()
		if cfg.Workers != 5 {
			t.Errorf("expected Workers to be 5, got %d", cfg.Workers)
		}
	})

	t.Run("default Cap is unlimited", func(t *testing.T) {
		t.Parallel()
		if cfg.Cap != 0 {
			t.Errorf("expected Cap to be 0, got %d", cfg.Cap)
		}
	})

	t.Run("default Timeout is 60 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 60*time.Second {
			t.Errorf("expected Timeout to be 60s, got %v", cfg.Timeout)
		}
	})

	t.Run("default Port is 80", func(t *testing.T) {
		t.Parallel()
		if cfg.Port != 80 {
			t.Errorf("expected Port to be 80, got %d", cfg.Port)
		}
	})

	t.Run("default TorProxyAddress is 127.0.0.1:9050", func(t *testing.T) {
		t.Parallel()
		if cfg.TorProxyAddress != "127.0.0.1:9050" {
			t.Errorf("expected TorProxyAddress to be '127.0.0.1:9050', got '%s'", cfg.TorProxyAddress)
		}
	})

	t.Run("default UseExternalTor is false", func(t *testing.T) {
		t.Parallel()
		if cfg.UseExternalTor {
			t.Error("expected UseExternalTor to be false")
		}
	})

	t.Run("default TorStartupTimeout is 3 minutes", func(t *testing.T) {
		t.Parallel()
		if cfg.TorStartupTimeout != 3*time.Minute {
			t.Errorf("expected TorStartupTimeout to be 3m, got %v", cfg.TorStartupTimeout)
		}
	})

	t.Run("default directory endpoints are set", func(t *testing.T) {
		t.Parallel()
		if !strings.HasPrefix(cfg.DirectoryURL, "https://") || !strings.HasPrefix(cfg.StatsURL, "https://") {
			t.Errorf("unexpected endpoints %q %q", cfg.DirectoryURL, cfg.StatsURL)
		}
		if cfg.DirectoryRetries != 3 {
			t.Errorf("expected 3 retries, got %d", cfg.DirectoryRetries)
		}
	})

	t.Run("history is opt-in", func(t *testing.T) {
		t.Parallel()
		if cfg.SaveHistory {
			t.Error("expected SaveHistory to be false")
		}
		if cfg.DBDir != XDGDataDir() {
			t.Errorf("expected DBDir %q, got %q", XDGDataDir(), cfg.DBDir)
		}
	})
}

// TestConfigValidate tests the Validate method one rule at a time.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	// validConfig returns a minimal valid configuration.
	validConfig := func() *Config {
		cfg := NewConfig()
		cfg.TargetFile = "targets.txt"
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{name: "valid file source", modify: func(*Config) {}, want: nil},
		{name: "valid directory source", modify: func(c *Config) { c.TargetFile = ""; c.UseDirectory = true }, want: nil},
		{name: "no source", modify: func(c *Config) { c.TargetFile = "" }, want: ErrNoSource},
		{name: "both sources", modify: func(c *Config) { c.UseDirectory = true }, want: ErrConflictingSources},
		{name: "zero workers", modify: func(c *Config) { c.Workers = 0 }, want: ErrInvalidWorkerCount},
		{name: "negative workers", modify: func(c *Config) { c.Workers = -1 }, want: ErrInvalidWorkerCount},
		{name: "negative cap", modify: func(c *Config) { c.Cap = -3 }, want: ErrInvalidCap},
		{name: "positive cap", modify: func(c *Config) { c.Cap = 10 }, want: nil},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, want: ErrInvalidTimeout},
		{name: "negative rate", modify: func(c *Config) { c.RateLimit = -1 }, want: ErrInvalidRateLimit},
		{name: "zero port", modify: func(c *Config) { c.Port = 0 }, want: ErrInvalidPort},
		{name: "port too large", modify: func(c *Config) { c.Port = 70000 }, want: ErrInvalidPort},
		{name: "zero tor startup timeout", modify: func(c *Config) { c.TorStartupTimeout = 0 }, want: ErrInvalidTorStartupTimeout},
		{
			name:   "zero tor startup timeout with external tor",
			modify: func(c *Config) { c.TorStartupTimeout = 0; c.UseExternalTor = true },
			want:   nil,
		},
		{
			name:   "json and markdown",
			modify: func(c *Config) { c.JSONReport = true; c.MarkdownReport = true },
			want:   ErrConflictingReportFormats,
		},
		{name: "source checked before workers", modify: func(c *Config) { c.TargetFile = ""; c.Workers = 0 }, want: ErrNoSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestSchedulerConfig tests the conversion to scheduler settings.
func TestSchedulerConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Workers = 8
	cfg.Cap = 20
	cfg.Timeout = 30 * time.Second
	cfg.RateLimit = 2.5

	sc := cfg.SchedulerConfig()
	if sc.Workers != 8 || sc.Cap != 20 || sc.Timeout != 30*time.Second || sc.RateLimit != 2.5 {
		t.Errorf("unexpected scheduler config: %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("expected valid scheduler config, got %v", err)
	}
}

// TestLoadConfigFile tests reading the YAML file.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for non-existent file", func(t *testing.T) {
		t.Parallel()

		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("loads and applies every field", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `workers: 8
cap: 25
timeout: 45s
rate: 1.5
port: 443
tor:
  externalProxy: 127.0.0.1:9150
  startupTimeout: 5m
directory:
  url: https://directory.example/api/
  statsUrl: https://stats.example/api/
  retries: 5
history: true
historyDir: /tmp/onionprobe-history
metricsFile: /tmp/onionprobe.prom
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		cf.Apply(cfg)

		if cfg.Workers != 8 || cfg.Cap != 25 || cfg.Port != 443 {
			t.Errorf("unexpected scheduler fields: workers=%d cap=%d port=%d", cfg.Workers, cfg.Cap, cfg.Port)
		}
		if cfg.Timeout != 45*time.Second {
			t.Errorf("expected timeout 45s, got %v", cfg.Timeout)
		}
		if cfg.RateLimit != 1.5 {
			t.Errorf("expected rate 1.5, got %v", cfg.RateLimit)
		}
		if !cfg.UseExternalTor || cfg.TorProxyAddress != "127.0.0.1:9150" {
			t.Errorf("expected external tor at 127.0.0.1:9150, got %v %q", cfg.UseExternalTor, cfg.TorProxyAddress)
		}
		if cfg.TorStartupTimeout != 5*time.Minute {
			t.Errorf("expected startup timeout 5m, got %v", cfg.TorStartupTimeout)
		}
		if cfg.DirectoryURL != "https://directory.example/api/" || cfg.StatsURL != "https://stats.example/api/" {
			t.Errorf("unexpected endpoints %q %q", cfg.DirectoryURL, cfg.StatsURL)
		}
		if cfg.DirectoryRetries != 5 {
			t.Errorf("expected 5 retries, got %d", cfg.DirectoryRetries)
		}
		if !cfg.SaveHistory || cfg.DBDir != "/tmp/onionprobe-history" {
			t.Errorf("unexpected history settings %v %q", cfg.SaveHistory, cfg.DBDir)
		}
		if cfg.MetricsFile != "/tmp/onionprobe.prom" {
			t.Errorf("unexpected metrics file %q", cfg.MetricsFile)
		}
	})

	t.Run("unset fields keep current values", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("workers: 2\n"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		cf.Apply(cfg)

		if cfg.Workers != 2 {
			t.Errorf("expected workers 2, got %d", cfg.Workers)
		}
		if cfg.Timeout != DefaultTimeout || cfg.UseExternalTor || cfg.SaveHistory {
			t.Errorf("expected defaults kept, got %+v", cfg)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("workers: [unclosed"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("returns error for invalid duration", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("timeout: soon\n"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected error for invalid duration")
		}
	})
}

// TestFindConfigFile tests config file lookup.
func TestFindConfigFile(t *testing.T) {
	t.Run("returns explicit path if exists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(path, []byte("workers: 1\n"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if got := FindConfigFile(path); got != path {
			t.Errorf("expected %q, got %q", path, got)
		}
	})

	t.Run("returns empty for non-existent explicit path", func(t *testing.T) {
		if got := FindConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); got != "" {
			t.Errorf("expected empty path, got %q", got)
		}
	})

	t.Run("finds file in working directory", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("workers: 1\n"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Chdir(dir)

		got := FindConfigFile("")
		if filepath.Base(got) != DefaultConfigFile {
			t.Errorf("expected %s in working directory, got %q", DefaultConfigFile, got)
		}
	})
}

// TestXDGDirs tests the XDG directory helpers.
func TestXDGDirs(t *testing.T) {
	t.Parallel()

	for name, dir := range map[string]string{"data": XDGDataDir(), "config": XDGConfigDir()} {
		if dir == "" {
			t.Errorf("expected non-empty %s dir", name)
		}
		if filepath.Base(dir) != AppName {
			t.Errorf("expected %s dir to end with %s, got %q", name, AppName, dir)
		}
	}
}
