package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/jscryptoscan/internal/transport"
)

// TestNewConfig verifies that NewConfig returns a Config with all expected default values.
// Changes to defaults should be intentional, so each one is pinned here.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("request timeouts are 600 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.FetchTimeout != 600*time.Second {
			t.Errorf("expected FetchTimeout to be 600s, got %v", cfg.FetchTimeout)
		}
		if cfg.InferenceTimeout != 600*time.Second {
			t.Errorf("expected InferenceTimeout to be 600s, got %v", cfg.InferenceTimeout)
		}
	})

	t.Run("run timeout is disabled", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 0 {
			t.Errorf("expected Timeout to be 0, got %v", cfg.Timeout)
		}
	})

	t.Run("acquisition limits", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxRedirects != 5 {
			t.Errorf("expected MaxRedirects to be 5, got %d", cfg.MaxRedirects)
		}
		if cfg.FetchWorkers != 10 {
			t.Errorf("expected FetchWorkers to be 10, got %d", cfg.FetchWorkers)
		}
		if cfg.MaxBodySize != 10*1024*1024 {
			t.Errorf("expected MaxBodySize to be 10MiB, got %d", cfg.MaxBodySize)
		}
		if len(cfg.Blocklist) == 0 {
			t.Error("expected a default blocklist")
		}
	})

	t.Run("inference settings", func(t *testing.T) {
		t.Parallel()
		if cfg.APIKeyEnv != "DEEPSEEK_API_KEY" {
			t.Errorf("expected APIKeyEnv to be DEEPSEEK_API_KEY, got %q", cfg.APIKeyEnv)
		}
		if cfg.MaxCodeLength != 60000 {
			t.Errorf("expected MaxCodeLength to be 60000, got %d", cfg.MaxCodeLength)
		}
		if cfg.MinCodeLength != 100 {
			t.Errorf("expected MinCodeLength to be 100, got %d", cfg.MinCodeLength)
		}
		if cfg.APIKey != "" {
			t.Error("expected no API key by default")
		}
	})

	t.Run("cache is 1000 entries for one hour", func(t *testing.T) {
		t.Parallel()
		if cfg.CacheSize != 1000 || cfg.CacheTTL != time.Hour {
			t.Errorf("expected 1000 entries / 1h, got %d / %v", cfg.CacheSize, cfg.CacheTTL)
		}
	})

	t.Run("history is saved", func(t *testing.T) {
		t.Parallel()
		if !cfg.SaveToDB {
			t.Error("expected SaveToDB to be true")
		}
		if cfg.DBDir != XDGDataDir() {
			t.Errorf("expected DBDir to be %q, got %q", XDGDataDir(), cfg.DBDir)
		}
	})
}

// TestDefaultBlocklistIsACopy tests that callers cannot mutate the shared default.
func TestDefaultBlocklistIsACopy(t *testing.T) {
	t.Parallel()

	a := DefaultBlocklist()
	a[0] = "changed"
	if DefaultBlocklist()[0] == "changed" {
		t.Error("DefaultBlocklist returned shared storage")
	}
}

// TestConfigValidate tests the Validate method with various configurations.
// Each test case is designed to test one specific validation rule.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	validConfig := func() *Config {
		cfg := NewConfig()
		cfg.URLs = []string{"https://example.com/"}
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"valid url config", func(*Config) {}, nil},
		{"valid file config", func(c *Config) { c.URLs = nil; c.Files = []string{"a.js"} }, nil},
		{"run timeout may be zero", func(c *Config) { c.Timeout = 0 }, nil},
		{"no target", func(c *Config) { c.URLs = nil }, ErrNoTarget},
		{"urls and files", func(c *Config) { c.Files = []string{"a.js"} }, ErrConflictingTargets},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }, ErrInvalidTimeout},
		{"zero inference timeout", func(c *Config) { c.InferenceTimeout = 0 }, ErrInvalidTimeout},
		{"negative run timeout", func(c *Config) { c.Timeout = -time.Second }, ErrInvalidTimeout},
		{"zero workers", func(c *Config) { c.FetchWorkers = 0 }, ErrInvalidWorkers},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, ErrInvalidWorkers},
		{"zero redirects", func(c *Config) { c.MaxRedirects = 0 }, ErrInvalidMaxRedirects},
		{"both report formats", func(c *Config) { c.JSONReport = true; c.MarkdownReport = true }, ErrConflictingReportFormats},
		{"zero cache size", func(c *Config) { c.CacheSize = 0 }, ErrInvalidCacheSize},
		{"zero cache ttl", func(c *Config) { c.CacheTTL = 0 }, ErrInvalidCacheSize},
		{"negative body size", func(c *Config) { c.MaxBodySize = -1 }, ErrInvalidMaxBodySize},
		{"negative rate limit", func(c *Config) { c.APIRateLimit = -1 }, ErrInvalidRateLimit},
		{"negative fetch rate limit", func(c *Config) { c.FetchRateLimit = -0.5 }, ErrInvalidRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestApplyEnv tests reading the API key from the environment.
func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"DEEPSEEK_API_KEY": "sk-from-default-env",
		"CUSTOM_KEY":       "sk-from-custom-env",
		"EMPTY_KEY":        "",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	tests := []struct {
		name    string
		keyEnv  string
		initial string
		want    string
	}{
		{"default variable", "", "", "sk-from-default-env"},
		{"custom variable", "CUSTOM_KEY", "", "sk-from-custom-env"},
		{"empty variable keeps existing key", "EMPTY_KEY", "sk-existing", "sk-existing"},
		{"unset variable keeps existing key", "MISSING", "sk-existing", "sk-existing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			cfg.APIKeyEnv = tt.keyEnv
			cfg.APIKey = tt.initial
			cfg.ApplyEnv(lookup)
			if cfg.APIKey != tt.want {
				t.Errorf("expected APIKey %q, got %q", tt.want, cfg.APIKey)
			}
		})
	}
}

// TestInferenceEnabled tests the reasons reported when remote inference is off.
func TestInferenceEnabled(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if ok, reason := cfg.InferenceEnabled(); ok || !strings.Contains(reason, "DEEPSEEK_API_KEY") {
		t.Errorf("expected disabled with env hint, got %v %q", ok, reason)
	}

	cfg.APIKey = "sk-test"
	if ok, reason := cfg.InferenceEnabled(); !ok || reason != "" {
		t.Errorf("expected enabled, got %v %q", ok, reason)
	}

	cfg.DisableInference = true
	if ok, reason := cfg.InferenceEnabled(); ok || reason != "disabled by configuration" {
		t.Errorf("expected disabled by configuration, got %v %q", ok, reason)
	}
}

// TestFileGetSiteConfig tests merging site configuration over defaults.
func TestFileGetSiteConfig(t *testing.T) {
	t.Parallel()

	cf := &File{
		Defaults: SiteConfig{
			Cookie:  "default=1",
			Headers: map[string]string{"X-Default": "d", "X-Shared": "default"},
		},
		Sites: map[string]SiteConfig{
			"app.example.com": {
				Cookie:  "session=abc",
				Headers: map[string]string{"X-Shared": "site"},
			},
			"headers.example.com": {
				Headers: map[string]string{"X-Only": "h"},
			},
		},
	}

	t.Run("unknown host gets defaults", func(t *testing.T) {
		t.Parallel()
		sc := cf.GetSiteConfig("other.example.com")
		if sc.Cookie != "default=1" || sc.Headers["X-Default"] != "d" {
			t.Errorf("unexpected config %+v", sc)
		}
	})

	t.Run("site overrides defaults", func(t *testing.T) {
		t.Parallel()
		sc := cf.GetSiteConfig("App.Example.com")
		if sc.Cookie != "session=abc" {
			t.Errorf("expected site cookie, got %q", sc.Cookie)
		}
		if sc.Headers["X-Shared"] != "site" || sc.Headers["X-Default"] != "d" {
			t.Errorf("unexpected headers %v", sc.Headers)
		}
	})

	t.Run("empty site cookie keeps default", func(t *testing.T) {
		t.Parallel()
		sc := cf.GetSiteConfig("headers.example.com")
		if sc.Cookie != "default=1" || sc.Headers["X-Only"] != "h" {
			t.Errorf("unexpected config %+v", sc)
		}
	})

	t.Run("merging does not modify defaults", func(t *testing.T) {
		t.Parallel()
		_ = cf.GetSiteConfig("app.example.com")
		if cf.Defaults.Headers["X-Shared"] != "default" {
			t.Error("defaults were modified")
		}
	})
}

// TestTransportSites tests the conversion to transport sites.
func TestTransportSites(t *testing.T) {
	t.Parallel()

	t.Run("defaults become the wildcard site", func(t *testing.T) {
		t.Parallel()
		cf := &File{
			Defaults: SiteConfig{Cookie: "d=1"},
			Sites:    map[string]SiteConfig{"A.example.com": {Headers: map[string]string{"X": "y"}}},
		}
		sites := cf.TransportSites()
		if got := sites[transport.AnySite].Cookie; got != "d=1" {
			t.Errorf("wildcard cookie = %q", got)
		}
		site, ok := sites["a.example.com"]
		if !ok {
			t.Fatalf("host missing from %v", sites)
		}
		if site.Cookie != "d=1" || site.Headers["X"] != "y" {
			t.Errorf("unexpected site %+v", site)
		}
	})

	t.Run("empty defaults add no wildcard", func(t *testing.T) {
		t.Parallel()
		cf := &File{Sites: map[string]SiteConfig{}}
		if _, ok := cf.TransportSites()[transport.AnySite]; ok {
			t.Error("unexpected wildcard site")
		}
	})

	t.Run("nil file", func(t *testing.T) {
		t.Parallel()
		var cf *File
		if cf.TransportSites() != nil {
			t.Error("expected nil map")
		}
	})
}

// TestLoadConfigFile tests loading configuration files.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("full file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), ".jscryptoscan")
		content := `api:
  base_url: https://llm.example.com/v1
  model: custom-model
  api_key_env: MY_KEY
  timeout: 30s
  rate_limit: 2
  system_prompt: "Be terse."
  temperature: 0
  max_tokens: 2048
  max_code_length: 1000
crawler:
  timeout: 15s
  max_redirects: 3
  workers: 4
  rate_limit: 5
  blocklist:
    - tracker.example
signatures: /etc/jscryptoscan/signatures.yaml
prompts:
  algorithm: "Look at {code}"
cache:
  size: 50
  ttl: 10m
  redis_addr: localhost:6379
history:
  disabled: true
defaults:
  cookie: "consent=yes"
sites:
  app.example.com:
    cookie: "session=abc"
    headers:
      Authorization: "Bearer token"
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		cf.Apply(cfg)

		if cfg.APIBaseURL != "https://llm.example.com/v1" || cfg.Model != "custom-model" || cfg.APIKeyEnv != "MY_KEY" {
			t.Errorf("api section not applied: %q %q %q", cfg.APIBaseURL, cfg.Model, cfg.APIKeyEnv)
		}
		if cfg.InferenceTimeout != 30*time.Second || cfg.APIRateLimit != 2 || cfg.MaxCodeLength != 1000 {
			t.Errorf("api limits not applied: %v %v %d", cfg.InferenceTimeout, cfg.APIRateLimit, cfg.MaxCodeLength)
		}
		if cfg.SystemPrompt != "Be terse." || cfg.Temperature != 0 || cfg.MaxTokens != 2048 {
			t.Errorf("chat settings not applied: %q %v %d", cfg.SystemPrompt, cfg.Temperature, cfg.MaxTokens)
		}
		if cfg.MinCodeLength != DefaultMinCodeLength {
			t.Errorf("unset min_code_length changed to %d", cfg.MinCodeLength)
		}
		if cfg.FetchTimeout != 15*time.Second || cfg.MaxRedirects != 3 || cfg.FetchWorkers != 4 {
			t.Errorf("crawler section not applied: %v %d %d", cfg.FetchTimeout, cfg.MaxRedirects, cfg.FetchWorkers)
		}
		if cfg.FetchRateLimit != 5 {
			t.Errorf("expected FetchRateLimit 5, got %v", cfg.FetchRateLimit)
		}
		if len(cfg.Blocklist) != 1 || cfg.Blocklist[0] != "tracker.example" {
			t.Errorf("blocklist = %v", cfg.Blocklist)
		}
		if cfg.SignaturesPath != "/etc/jscryptoscan/signatures.yaml" {
			t.Errorf("signatures = %q", cfg.SignaturesPath)
		}
		if cfg.Prompts["algorithm"] != "Look at {code}" {
			t.Errorf("prompts = %v", cfg.Prompts)
		}
		if cfg.CacheSize != 50 || cfg.CacheTTL != 10*time.Minute || cfg.RedisAddr != "localhost:6379" {
			t.Errorf("cache section not applied: %d %v %q", cfg.CacheSize, cfg.CacheTTL, cfg.RedisAddr)
		}
		if cfg.SaveToDB {
			t.Error("expected history to be disabled")
		}
		if cfg.SiteConfigs != cf {
			t.Error("expected SiteConfigs to reference the file")
		}
		if got := cf.GetSiteConfig("app.example.com").Headers["Authorization"]; got != "Bearer token" {
			t.Errorf("site header = %q", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("api: [unclosed"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("empty file initialises sites", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "empty.yaml")
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cf.Sites == nil {
			t.Error("expected non-nil Sites")
		}
		cfg := NewConfig()
		cf.Apply(cfg)
		if cfg.APIBaseURL != DefaultAPIBaseURL || !cfg.SaveToDB {
			t.Error("empty file changed defaults")
		}
	})
}

// TestFindConfigFile tests explicit config path lookup.
func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := FindConfigFile(path); got != path {
		t.Errorf("expected %q, got %q", path, got)
	}
	if got := FindConfigFile(path + ".missing"); got != "" {
		t.Errorf("expected empty path, got %q", got)
	}
}

// TestXDGDirs tests that every XDG directory ends with the application name.
func TestXDGDirs(t *testing.T) {
	t.Parallel()

	for name, dir := range map[string]string{
		"data":   XDGDataDir(),
		"config": XDGConfigDir(),
		"cache":  XDGCacheDir(),
	} {
		if filepath.Base(dir) != AppName {
			t.Errorf("%s dir %q does not end with %q", name, dir, AppName)
		}
	}
}
