package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/jscryptoscan/internal/config"
	"github.com/nao1215/jscryptoscan/internal/database"
	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
	"github.com/nao1215/jscryptoscan/internal/report"
)

// fakeEnv returns a lookup function over a fixed environment.
func fakeEnv(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

// writeConfig writes a configuration file into a temporary directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".jscryptoscan")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// executeAnalyze runs the analyze command and returns its stdout.
func executeAnalyze(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()

	var stdout bytes.Buffer
	cmd := newAnalyzeCmd(fakeEnv(env))
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), err
}

// TestNewAnalyzeCmd tests the analyze command flags.
func TestNewAnalyzeCmd(t *testing.T) {
	t.Parallel()

	cmd := NewAnalyzeCmd()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"url", "u", "[]"},
		{"file", "f", "[]"},
		{"json", "j", "false"},
		{"markdown", "m", "false"},
		{"output", "o", ""},
		{"batch", "b", "4"},
		{"timeout", "t", "0s"},
		{"workers", "w", "10"},
		{"config", "c", ""},
		{"max-redirects", "", "5"},
		{"metrics-file", "", ""},
		{"no-history", "", "false"},
		{"no-inference", "", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

// TestBuildConfig tests the precedence of defaults, file, environment and flags.
func TestBuildConfig(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, `api:
  model: file-model
  api_key_env: TEST_KEY
crawler:
  workers: 4
  max_redirects: 3
cache:
  ttl: 5m
`)

	t.Run("flags override file values", func(t *testing.T) {
		t.Parallel()

		cmd := newAnalyzeCmd(nil)
		if err := cmd.ParseFlags([]string{"-c", configPath, "--model", "flag-model", "-u", "https://b.example", "-j"}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, []string{"https://a.example"}, fakeEnv(map[string]string{"TEST_KEY": "sk-env"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Model != "flag-model" {
			t.Errorf("expected flag model, got %q", cfg.Model)
		}
		if cfg.FetchWorkers != 4 || cfg.MaxRedirects != 3 {
			t.Errorf("expected file crawler values, got %d / %d", cfg.FetchWorkers, cfg.MaxRedirects)
		}
		if cfg.CacheTTL != 5*time.Minute {
			t.Errorf("expected file cache ttl, got %v", cfg.CacheTTL)
		}
		if cfg.APIKey != "sk-env" {
			t.Errorf("expected key from the file-selected variable, got %q", cfg.APIKey)
		}
		if got := strings.Join(cfg.URLs, ","); got != "https://a.example,https://b.example" {
			t.Errorf("URLs = %q", got)
		}
		if !cfg.JSONReport {
			t.Error("expected JSON report")
		}
	})

	t.Run("unchanged flags keep file values", func(t *testing.T) {
		t.Parallel()

		cmd := newAnalyzeCmd(nil)
		if err := cmd.ParseFlags([]string{"-c", configPath}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, nil, fakeEnv(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Model != "file-model" {
			t.Errorf("expected file model, got %q", cfg.Model)
		}
		if cfg.FetchTimeout != config.DefaultFetchTimeout {
			t.Errorf("expected default fetch timeout, got %v", cfg.FetchTimeout)
		}
	})

	t.Run("no-history disables the database", func(t *testing.T) {
		t.Parallel()

		cmd := newAnalyzeCmd(nil)
		if err := cmd.ParseFlags([]string{"-c", configPath, "--no-history", "--db-dir", "/tmp/x"}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, nil, fakeEnv(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.SaveToDB {
			t.Error("expected SaveToDB to be false")
		}
		if cfg.DBDir != "/tmp/x" {
			t.Errorf("expected db dir from flag, got %q", cfg.DBDir)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		cmd := newAnalyzeCmd(nil)
		if err := cmd.ParseFlags([]string{"-c", configPath + ".missing"}); err != nil {
			t.Fatal(err)
		}
		_, err := buildConfig(cmd, nil, fakeEnv(nil))
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})
}

// TestAnalyzeValidation tests that invalid flag combinations fail before any work.
func TestAnalyzeValidation(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, "{}\n")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no target", []string{"-c", configPath}, config.ErrNoTarget},
		{"url and file", []string{"-c", configPath, "https://a.example", "-f", "a.js"}, config.ErrConflictingTargets},
		{"both formats", []string{"-c", configPath, "https://a.example", "-j", "-m"}, config.ErrConflictingReportFormats},
		{"zero workers", []string{"-c", configPath, "https://a.example", "-w", "0"}, config.ErrInvalidWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := executeAnalyze(t, nil, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// paddedScript returns an inline script long enough for remote inference.
func paddedScript(body string) string {
	return body + strings.Repeat(" function noop(){}", 10)
}

// newChatServer returns a fake chat-completions API that answers every prompt
// with content and counts requests.
func newChatServer(t *testing.T, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	envelope, err := jsonutil.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(envelope)
	}))
	t.Cleanup(server.Close)
	return server
}

// TestAnalyzeURLEndToEnd runs the whole command against a fake site and a
// fake inference API.
func TestAnalyzeURLEndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head>
			<script>%s</script>
			<script src="/static/app.js"></script>
			<script src="/static/jquery.min.js"></script>
		</head></html>`, paddedScript("var c = CryptoJS.AES.encrypt(p, k);"))
	})
	mux.HandleFunc("/static/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "var rsa = new JSEncrypt(); rsa.setPublicKey(pub);")
	})
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)

	var calls atomic.Int32
	chat := newChatServer(t, "```json\n{\"对称加密\":{\"算法\":\"AES\",\"模式\":\"ECB\"}}\n```", &calls)

	siteURL, err := url.Parse(site.URL)
	if err != nil {
		t.Fatal(err)
	}
	dbDir := t.TempDir()
	configPath := writeConfig(t, fmt.Sprintf(`api:
  base_url: %s
sites:
  %s:
    cookie: "session=abc"
`, chat.URL, siteURL.Host))

	outDir := t.TempDir()
	reportPath := filepath.Join(outDir, "reports", "report.json")
	metricsPath := filepath.Join(outDir, "metrics.prom")

	summary, err := executeAnalyze(t, map[string]string{"DEEPSEEK_API_KEY": "sk-test"},
		site.URL+"/", "-c", configPath, "-j", "-o", reportPath,
		"--metrics-file", metricsPath, "--db-dir", dbDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(summary, "JSCRYPTOSCAN REPORT") {
		t.Errorf("expected a text summary on stdout, got:\n%s", summary)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var got model.ScanReport
	if err := jsonutil.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid report JSON: %v\n%s", err, data)
	}

	if got.FinalURL != site.URL+"/login" {
		t.Errorf("FinalURL = %q", got.FinalURL)
	}
	if len(got.Scripts) != 2 {
		t.Errorf("expected inline and app.js scripts, got %d", len(got.Scripts))
	}
	if got.Analysis == nil {
		t.Fatal("expected an analysis")
	}

	algorithms := map[string]bool{}
	for _, f := range got.Analysis.AlgorithmAnalysis.Local {
		algorithms[f.Algorithm] = true
	}
	if !algorithms["AES"] || !algorithms["RSA"] {
		t.Errorf("local findings = %+v, want AES and RSA", got.Analysis.AlgorithmAnalysis.Local)
	}
	if _, ok := got.Analysis.AlgorithmAnalysis.AI["对称加密"]; !ok {
		t.Errorf("AI result = %v", got.Analysis.AlgorithmAnalysis.AI)
	}
	if len(got.Analysis.Errors) != 0 {
		t.Errorf("unexpected errors: %v", got.Analysis.Errors)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected one call per analysis kind, got %d", n)
	}

	metricsText, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	if !strings.Contains(string(metricsText), `jscryptoscan_runs_total{outcome="ok"} 1`) {
		t.Errorf("metrics missing run counter:\n%s", metricsText)
	}

	db, err := database.Open(dbDir, database.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.History(context.Background(), site.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != got.ID {
		t.Errorf("history = %+v, want the reported run", runs)
	}
}

// TestAnalyzeFileMode tests local file analysis without network access.
func TestAnalyzeFileMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "bundle.js")
	if err := os.WriteFile(script, []byte("  var h = CryptoJS.AES.decrypt(c, k);\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	configPath := writeConfig(t, "{}\n")

	out, err := executeAnalyze(t, map[string]string{"DEEPSEEK_API_KEY": "sk-unused"},
		"-c", configPath, "-f", script, "--no-history", "--no-inference")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"AES", "bundle.js", "disabled by configuration"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

// TestAnalyzeReportsFailedTargets tests that failed targets are reported and
// turn into a command error.
func TestAnalyzeReportsFailedTargets(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<script>var x = 1;</script>`)
	})
	mux.HandleFunc("/missing", http.NotFound)
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)

	configPath := writeConfig(t, "{}\n")
	out, err := executeAnalyze(t, nil,
		site.URL+"/ok", site.URL+"/missing", "-c", configPath, "-j", "--no-history")
	if !errors.Is(err, errTargetsFailed) {
		t.Fatalf("expected errTargetsFailed, got %v", err)
	}

	var wrapped report.JSONReport
	if err := jsonutil.Unmarshal([]byte(out), &wrapped); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if wrapped.Version != getVersion() {
		t.Errorf("version = %q, want %q", wrapped.Version, getVersion())
	}
	reports := wrapped.Reports
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].ErrorMessage != "" {
		t.Errorf("first target failed: %s", reports[0].ErrorMessage)
	}
	if !strings.Contains(reports[1].ErrorMessage, "404") {
		t.Errorf("second target error = %q, want a 404", reports[1].ErrorMessage)
	}
}

// TestNewInferenceCacheWarnsAboutSizeWithRedis tests that a configured cache
// size is reported as unused when the cache lives in Redis.
func TestNewInferenceCacheWarnsAboutSizeWithRedis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		size     int
		wantWarn bool
	}{
		{"default size", config.DefaultCacheSize, false},
		{"custom size", 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))

			cfg := config.NewConfig()
			cfg.CacheSize = tt.size
			// Nothing listens on port 1, so the dial fails after the check.
			cfg.RedisAddr = "127.0.0.1:1"

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, _, err := newInferenceCache(ctx, cfg, logger); err == nil {
				t.Fatal("expected a connection error")
			}
			if got := strings.Contains(logs.String(), "cache size does not apply"); got != tt.wantWarn {
				t.Errorf("warning logged = %v, want %v; logs:\n%s", got, tt.wantWarn, logs.String())
			}
		})
	}
}
