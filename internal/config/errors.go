package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoTarget is returned when neither a URL nor a file is given.
	ErrNoTarget = errors.New("no target specified: provide --url or --file")

	// ErrConflictingTargets is returned when URLs and files are mixed in one
	// run. The two modes produce different report provenance.
	ErrConflictingTargets = errors.New("conflicting targets: --url and --file cannot be used together")

	// ErrInvalidTimeout is returned when a request timeout is not positive
	// or the run timeout is negative.
	ErrInvalidTimeout = errors.New("invalid timeout: request timeouts must be positive and the run timeout non-negative")

	// ErrInvalidWorkers is returned when the fetch worker count or the batch
	// size is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidMaxRedirects is returned when the redirect cap is not positive.
	ErrInvalidMaxRedirects = errors.New("invalid max redirects: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidCacheSize is returned when the inference cache capacity or
	// TTL is not positive.
	ErrInvalidCacheSize = errors.New("invalid cache settings: size and ttl must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidRateLimit is returned when a rate limit is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
