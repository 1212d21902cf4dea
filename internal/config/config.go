package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/jscryptoscan/internal/analyzer"
	"github.com/nao1215/jscryptoscan/internal/cache"
	"github.com/nao1215/jscryptoscan/internal/crawler"
	"github.com/nao1215/jscryptoscan/internal/inference"
	"github.com/nao1215/jscryptoscan/internal/pipeline"
	"github.com/nao1215/jscryptoscan/internal/transport"
)

// Default configuration values.
// Component packages own their defaults; the values are repeated here so
// that this list documents everything a configuration file can change.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "jscryptoscan"

	// DefaultUserAgent mimics desktop Chrome so sites serve their normal
	// markup and scripts.
	DefaultUserAgent = transport.DefaultUserAgent

	// DefaultAcceptLanguage is sent as the Accept-Language header.
	DefaultAcceptLanguage = transport.DefaultAcceptLanguage

	// DefaultMaxRedirects caps the number of requests made while resolving
	// an origin URL, counting the first one.
	DefaultMaxRedirects = crawler.DefaultMaxRedirects

	// DefaultFetchWorkers is the maximum number of concurrent script fetches.
	DefaultFetchWorkers = crawler.DefaultWorkers

	// DefaultFetchTimeout bounds each page or script request.
	DefaultFetchTimeout = 600 * time.Second

	// DefaultMaxBodySize limits pages and scripts read from the network.
	DefaultMaxBodySize = crawler.DefaultMaxBodySize

	// DefaultAPIBaseURL is the chat-completions service root.
	DefaultAPIBaseURL = inference.DefaultBaseURL

	// DefaultModel is the chat model name.
	DefaultModel = inference.DefaultModel

	// DefaultAPIKeyEnv is the environment variable holding the API key.
	DefaultAPIKeyEnv = "DEEPSEEK_API_KEY"

	// DefaultInferenceTimeout bounds each chat-completions request.
	DefaultInferenceTimeout = inference.DefaultTimeout

	// DefaultMaxCodeLength is the number of characters of code sent in a
	// prompt. Longer code is truncated.
	DefaultMaxCodeLength = inference.DefaultMaxCodeLength

	// DefaultTemperature is the chat sampling temperature.
	DefaultTemperature = inference.DefaultTemperature

	// DefaultMaxTokens bounds each completion.
	DefaultMaxTokens = inference.DefaultMaxTokens

	// DefaultMinCodeLength is the shortest code blob worth a remote call.
	DefaultMinCodeLength = analyzer.DefaultMinCodeLength

	// DefaultCacheSize is the inference cache capacity.
	DefaultCacheSize = cache.DefaultMaxEntries

	// DefaultCacheTTL is how long a cached inference result stays valid.
	DefaultCacheTTL = cache.DefaultTTL

	// DefaultRunTimeout of zero disables the per-target run timeout.
	DefaultRunTimeout time.Duration = 0

	// DefaultBatchSize is the number of targets analyzed concurrently.
	DefaultBatchSize = pipeline.DefaultBatchConcurrency
)

// DefaultBlocklist returns a copy of the default script URL blocklist.
func DefaultBlocklist() []string {
	return append([]string(nil), crawler.DefaultBlocklist...)
}

// Config holds all configuration options for jscryptoscan.
// It is populated from defaults, the configuration file, the environment
// and CLI flags, then passed through the application explicitly.
//
// Design decision: We use a single flat struct instead of nested structs
// for simplicity. The file format is nested (see File) because that reads
// better in YAML; File.Apply flattens it.
type Config struct {
	// URLs are origin pages to analyze.
	URLs []string

	// Files are local script files to analyze. Mutually exclusive with URLs.
	Files []string

	// Timeout bounds one target's whole run. Zero disables it.
	Timeout time.Duration

	// FetchTimeout bounds each page or script request.
	FetchTimeout time.Duration

	// MaxRedirects caps redirect resolution per origin.
	MaxRedirects int

	// FetchWorkers is the script fetch concurrency.
	FetchWorkers int

	// FetchRateLimit paces script requests per second across all workers.
	// Zero is unlimited.
	FetchRateLimit float64

	// MaxBodySize is the maximum page or script size in bytes.
	MaxBodySize int64

	// UserAgent is the User-Agent header for page and script requests.
	UserAgent string

	// AcceptLanguage is the Accept-Language header for page and script
	// requests.
	AcceptLanguage string

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// Proxy is an explicit http(s):// or socks5:// proxy URL. Empty means
	// HTTP_PROXY/HTTPS_PROXY from the environment.
	Proxy string

	// Blocklist holds script URL substrings that are never fetched.
	Blocklist []string

	// APIBaseURL is the chat-completions service root.
	APIBaseURL string

	// Model is the chat model name.
	Model string

	// APIKeyEnv names the environment variable read by ApplyEnv.
	APIKeyEnv string

	// APIKey authenticates inference requests. Empty disables remote
	// inference.
	APIKey string

	// InferenceTimeout bounds each chat-completions request.
	InferenceTimeout time.Duration

	// APIRateLimit paces inference requests per second. Zero is unlimited.
	APIRateLimit float64

	// SystemPrompt replaces the built-in system instruction when set.
	SystemPrompt string

	// Temperature is the chat sampling temperature.
	Temperature float64

	// MaxTokens bounds each completion.
	MaxTokens int

	// MaxCodeLength is the prompt code truncation limit in characters.
	MaxCodeLength int

	// MinCodeLength is the shortest code blob sent for remote inference.
	MinCodeLength int

	// DisableInference turns remote inference off even with an API key.
	DisableInference bool

	// SignaturesPath is a YAML or JSON signature table. Empty uses the
	// built-in table.
	SignaturesPath string

	// Prompts overrides prompt templates by kind name.
	Prompts map[string]string

	// CacheSize and CacheTTL configure the in-memory inference cache.
	CacheSize int
	CacheTTL  time.Duration

	// RedisAddr selects a shared Redis inference cache instead of the
	// in-memory one.
	RedisAddr string

	// BatchSize is the number of targets analyzed concurrently.
	BatchSize int

	// Verbose enables debug logging.
	Verbose bool

	// LogJSON switches log output to JSON.
	LogJSON bool

	// JSONReport and MarkdownReport select the report format. Mutually
	// exclusive; neither means the simple text report.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile is written instead of stdout when set.
	ReportFile string

	// MetricsFile receives Prometheus metrics after the run when set.
	MetricsFile string

	// DBDir is the scan history database directory.
	DBDir string

	// SaveToDB stores every report in the history database.
	SaveToDB bool

	// ConfigFilePath is an explicit configuration file. Empty searches the
	// current and home directories.
	ConfigFilePath string

	// SiteConfigs holds per-host cookies and headers from the file.
	SiteConfigs *File
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero. This also serves as
// documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		Timeout:          DefaultRunTimeout,
		FetchTimeout:     DefaultFetchTimeout,
		MaxRedirects:     DefaultMaxRedirects,
		FetchWorkers:     DefaultFetchWorkers,
		MaxBodySize:      DefaultMaxBodySize,
		UserAgent:        DefaultUserAgent,
		AcceptLanguage:   DefaultAcceptLanguage,
		Blocklist:        DefaultBlocklist(),
		APIBaseURL:       DefaultAPIBaseURL,
		Model:            DefaultModel,
		APIKeyEnv:        DefaultAPIKeyEnv,
		InferenceTimeout: DefaultInferenceTimeout,
		Temperature:      DefaultTemperature,
		MaxTokens:        DefaultMaxTokens,
		MaxCodeLength:    DefaultMaxCodeLength,
		MinCodeLength:    DefaultMinCodeLength,
		CacheSize:        DefaultCacheSize,
		CacheTTL:         DefaultCacheTTL,
		BatchSize:        DefaultBatchSize,
		DBDir:            XDGDataDir(),
		SaveToDB:         true,
	}
}

// ApplyEnv reads the API key from the environment variable named by
// APIKeyEnv, using lookup (os.LookupEnv in production). An unset or empty
// variable leaves APIKey unchanged.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	name := c.APIKeyEnv
	if name == "" {
		name = DefaultAPIKeyEnv
	}
	if v, ok := lookup(name); ok && v != "" {
		c.APIKey = v
	}
}

// InferenceEnabled reports whether remote inference can run, and the
// reason when it cannot.
func (c *Config) InferenceEnabled() (bool, string) {
	switch {
	case c.DisableInference:
		return false, "disabled by configuration"
	case c.APIKey == "":
		return false, "no API key (set " + c.apiKeyEnvName() + ")"
	default:
		return true, ""
	}
}

func (c *Config) apiKeyEnvName() string {
	if c.APIKeyEnv == "" {
		return DefaultAPIKeyEnv
	}
	return c.APIKeyEnv
}

// XDGDataDir returns the XDG data directory for jscryptoscan, where the
// history database lives.
// On Linux: ~/.local/share/jscryptoscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for jscryptoscan.
// On Linux: ~/.config/jscryptoscan
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for jscryptoscan, the
// default location for the metrics textfile.
// On Linux: ~/.cache/jscryptoscan
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 && len(c.Files) == 0 {
		return ErrNoTarget
	}
	if len(c.URLs) > 0 && len(c.Files) > 0 {
		return ErrConflictingTargets
	}
	if c.FetchTimeout <= 0 || c.InferenceTimeout <= 0 || c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.FetchWorkers <= 0 || c.BatchSize <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxRedirects <= 0 {
		return ErrInvalidMaxRedirects
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.CacheSize <= 0 || c.CacheTTL <= 0 {
		return ErrInvalidCacheSize
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.APIRateLimit < 0 || c.FetchRateLimit < 0 {
		return ErrInvalidRateLimit
	}
	return nil
}
