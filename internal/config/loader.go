package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".jscryptoscan"

// File represents the structure of the .jscryptoscan configuration file.
//
// A zero value means unset, so Apply only overrides what the file
// actually sets.
type File struct {
	// API configures the remote inference service.
	API APISection `yaml:"api,omitempty"`

	// Crawler configures page and script acquisition.
	Crawler CrawlerSection `yaml:"crawler,omitempty"`

	// Signatures is the path of a custom signature table.
	Signatures string `yaml:"signatures,omitempty"`

	// Prompts overrides prompt templates by kind name
	// (algorithm, key, custom).
	Prompts map[string]string `yaml:"prompts,omitempty"`

	// Cache configures the inference cache.
	Cache CacheSection `yaml:"cache,omitempty"`

	// History configures the scan history database.
	History HistorySection `yaml:"history,omitempty"`

	// Sites maps host names to their site-specific configurations.
	// Keys are host names without the scheme (e.g., "app.example.com").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains default site configuration applied to all hosts
	// unless overridden in the site-specific configuration.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// APISection is the api: block of the configuration file.
type APISection struct {
	BaseURL   string        `yaml:"base_url,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	KeyEnv    string        `yaml:"api_key_env,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	RateLimit float64       `yaml:"rate_limit,omitempty"`
	System    string        `yaml:"system_prompt,omitempty"`

	// Temperature is a pointer so that an explicit 0 is kept.
	Temperature *float64 `yaml:"temperature,omitempty"`

	MaxTokens int  `yaml:"max_tokens,omitempty"`
	MaxCode   int  `yaml:"max_code_length,omitempty"`
	MinCode   int  `yaml:"min_code_length,omitempty"`
	Disabled  bool `yaml:"disabled,omitempty"`
}

// CrawlerSection is the crawler: block of the configuration file.
type CrawlerSection struct {
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxRedirects int           `yaml:"max_redirects,omitempty"`
	Workers      int           `yaml:"workers,omitempty"`
	RateLimit    float64       `yaml:"rate_limit,omitempty"`
	MaxBodySize  int64         `yaml:"max_body_size,omitempty"`
	UserAgent    string        `yaml:"user_agent,omitempty"`
	Proxy        string        `yaml:"proxy,omitempty"`
	Blocklist    []string      `yaml:"blocklist,omitempty"`
}

// CacheSection is the cache: block of the configuration file.
type CacheSection struct {
	Size  int           `yaml:"size,omitempty"`
	TTL   time.Duration `yaml:"ttl,omitempty"`
	Redis string        `yaml:"redis_addr,omitempty"`
}

// HistorySection is the history: block of the configuration file.
type HistorySection struct {
	Dir      string `yaml:"dir,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// LoadConfigFile loads a configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
// Callers should handle this error appropriately based on whether
// the config file path was explicitly specified by the user.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}

	return &cf, nil
}

// Apply copies every value set in the file onto cfg. Zero values leave cfg
// unchanged. Command-line flags are applied afterwards by the caller.
func (cf *File) Apply(cfg *Config) {
	if cf == nil || cfg == nil {
		return
	}

	setString(&cfg.APIBaseURL, cf.API.BaseURL)
	setString(&cfg.Model, cf.API.Model)
	setString(&cfg.APIKeyEnv, cf.API.KeyEnv)
	setPositive(&cfg.InferenceTimeout, cf.API.Timeout)
	setPositive(&cfg.APIRateLimit, cf.API.RateLimit)
	setString(&cfg.SystemPrompt, cf.API.System)
	if cf.API.Temperature != nil {
		cfg.Temperature = *cf.API.Temperature
	}
	setPositive(&cfg.MaxTokens, cf.API.MaxTokens)
	setPositive(&cfg.MaxCodeLength, cf.API.MaxCode)
	setPositive(&cfg.MinCodeLength, cf.API.MinCode)
	if cf.API.Disabled {
		cfg.DisableInference = true
	}

	setPositive(&cfg.FetchTimeout, cf.Crawler.Timeout)
	setPositive(&cfg.MaxRedirects, cf.Crawler.MaxRedirects)
	setPositive(&cfg.FetchWorkers, cf.Crawler.Workers)
	setPositive(&cfg.FetchRateLimit, cf.Crawler.RateLimit)
	setPositive(&cfg.MaxBodySize, cf.Crawler.MaxBodySize)
	setString(&cfg.UserAgent, cf.Crawler.UserAgent)
	setString(&cfg.Proxy, cf.Crawler.Proxy)
	if cf.Crawler.Blocklist != nil {
		cfg.Blocklist = append([]string(nil), cf.Crawler.Blocklist...)
	}

	setString(&cfg.SignaturesPath, cf.Signatures)
	if len(cf.Prompts) > 0 {
		cfg.Prompts = cf.Prompts
	}

	setPositive(&cfg.CacheSize, cf.Cache.Size)
	setPositive(&cfg.CacheTTL, cf.Cache.TTL)
	setString(&cfg.RedisAddr, cf.Cache.Redis)

	setString(&cfg.DBDir, cf.History.Dir)
	if cf.History.Disabled {
		cfg.SaveToDB = false
	}

	cfg.SiteConfigs = cf
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPositive[T int | int64 | float64 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .jscryptoscan in the current directory
// 3. Look for .jscryptoscan in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	candidates := make([]string, 0, 3)
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
