// Package config provides the configuration of an onionprobe scan: where
// targets come from, how the scheduler runs, how Tor is reached and where
// results go.
//
// Values are resolved in three layers: NewConfig defaults, an optional YAML
// file (see LoadConfigFile) and finally command-line flags.
package config
