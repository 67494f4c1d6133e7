package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so that callers can use
// errors.Is() while users still get a readable message.
var (
	// ErrNoSource is returned when neither a target file nor the remote
	// directory is selected.
	ErrNoSource = errors.New("no target source specified: use --file or --directory")

	// ErrConflictingSources is returned when both sources are selected.
	ErrConflictingSources = errors.New("conflicting target sources: --file and --directory cannot be used together")

	// ErrInvalidWorkerCount is returned when the worker count is not positive.
	ErrInvalidWorkerCount = errors.New("invalid worker count: must be at least 1")

	// ErrInvalidCap is returned when the target cap is negative.
	ErrInvalidCap = errors.New("invalid target cap: must be positive")

	// ErrInvalidTimeout is returned when the probe timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRateLimit is returned when the probe rate is negative.
	ErrInvalidRateLimit = errors.New("invalid rate: must be non-negative")

	// ErrInvalidPort is returned when the probe port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrInvalidTorStartupTimeout is returned when the embedded Tor startup
	// timeout is not positive.
	ErrInvalidTorStartupTimeout = errors.New("invalid tor startup timeout: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
