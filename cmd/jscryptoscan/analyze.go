package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nao1215/jscryptoscan/internal/analyzer"
	"github.com/nao1215/jscryptoscan/internal/cache"
	"github.com/nao1215/jscryptoscan/internal/config"
	"github.com/nao1215/jscryptoscan/internal/crawler"
	"github.com/nao1215/jscryptoscan/internal/database"
	"github.com/nao1215/jscryptoscan/internal/inference"
	securelog "github.com/nao1215/jscryptoscan/internal/log"
	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
	"github.com/nao1215/jscryptoscan/internal/pipeline"
	"github.com/nao1215/jscryptoscan/internal/report"
	"github.com/nao1215/jscryptoscan/internal/signature"
	"github.com/nao1215/jscryptoscan/internal/transport"
)

// errTargetsFailed is returned when at least one target produced no analysis.
// The reports of every target are still written.
var errTargetsFailed = errors.New("some targets failed")

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	return newAnalyzeCmd(os.LookupEnv)
}

// newAnalyzeCmd creates the analyze command reading the environment through
// lookupEnv.
func newAnalyzeCmd(lookupEnv func(string) (string, bool)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [url...]",
		Short: "Analyze the JavaScript of web pages or local files",
		Long: `Analyze resolves each URL to its final document, collects the inline and
external scripts it loads, and reports the cryptographic algorithms they use.

Local signature matching always runs. Remote inference runs when the API key
environment variable (DEEPSEEK_API_KEY by default) is set and the collected
code is long enough; it reports algorithms, key derivation and custom
routines separately. A failure in one analysis never hides the others.

Examples:
  # Analyze a login page
  jscryptoscan analyze https://example.com/login

  # Analyze several pages, four at a time
  jscryptoscan analyze -b 4 https://a.example https://b.example

  # Analyze local bundles without fetching anything
  jscryptoscan analyze --file app.js --file vendor.js

  # Write a Markdown report and Prometheus metrics
  jscryptoscan analyze -m -o report.md --metrics-file metrics.prom https://example.com

  # Route traffic through a SOCKS5 proxy
  jscryptoscan analyze --proxy socks5://127.0.0.1:1080 https://example.com

Configuration file (.jscryptoscan) example:
  api:
    model: deepseek-chat
    rate_limit: 1
  sites:
    app.example.com:
      cookie: "session_id=abc123"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyzeCmd(cmd, args, lookupEnv)
		},
	}

	// Target flags
	cmd.Flags().StringArrayP("url", "u", nil,
		"Origin URL to analyze (repeatable; positional arguments are URLs too)")
	cmd.Flags().StringArrayP("file", "f", nil,
		"Local script file to analyze instead of a URL (repeatable)")

	// Acquisition flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultRunTimeout,
		"Overall time limit per target (0 disables)")
	cmd.Flags().Duration("fetch-timeout", config.DefaultFetchTimeout,
		"Timeout for each page or script request")
	cmd.Flags().IntP("workers", "w", config.DefaultFetchWorkers,
		"Maximum concurrent script fetches per target")
	cmd.Flags().Float64("fetch-rate-limit", 0,
		"Maximum script requests per second (0 is unlimited)")
	cmd.Flags().Int("max-redirects", config.DefaultMaxRedirects,
		"Maximum requests made while resolving redirects")
	cmd.Flags().String("proxy", "",
		"Proxy URL (http://, https:// or socks5://); default uses HTTP(S)_PROXY")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header for page and script requests")
	cmd.Flags().Bool("insecure", false,
		"Skip TLS certificate verification")

	// Inference flags
	cmd.Flags().String("api-base-url", config.DefaultAPIBaseURL,
		"Chat-completions API base URL")
	cmd.Flags().String("model", config.DefaultModel,
		"Chat model name")
	cmd.Flags().Float64("rate-limit", 0,
		"Maximum inference requests per second (0 is unlimited)")
	cmd.Flags().Bool("no-inference", false,
		"Run local signature matching only")
	cmd.Flags().String("signatures", "",
		"Signature table file (YAML or JSON); default is the built-in table")
	cmd.Flags().String("redis", "",
		"Redis address for a shared inference cache (default in-memory)")

	// Batch flags
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of targets analyzed concurrently")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .jscryptoscan in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("metrics-file", "",
		"Write Prometheus metrics in text format to this file after the run")

	// History flags
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")
	cmd.Flags().Bool("no-history", false,
		"Do not save reports to the history database")

	return cmd
}

// runAnalyzeCmd executes the analyze command.
func runAnalyzeCmd(cmd *cobra.Command, args []string, lookupEnv func(string) (string, bool)) error {
	cfg, err := buildConfig(cmd, args, lookupEnv)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose, cfg.LogJSON)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runAnalyze(ctx, cfg, logger, cmd.OutOrStdout())
}

// boolFlag reads a boolean flag that may be defined on a parent command.
// It returns false when the flag does not exist.
func boolFlag(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		return false
	}
	return f.Value.String() == "true"
}

// buildConfig creates a Config from defaults, the configuration file, the
// environment and cobra command flags, in increasing order of precedence.
// Flags only override file values when given explicitly.
func buildConfig(cmd *cobra.Command, args []string, lookupEnv func(string) (string, bool)) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// If the user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cf, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cf.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	}

	cfg.ApplyEnv(lookupEnv)

	urls, err := flags.GetStringArray("url")
	if err != nil {
		return nil, err
	}
	cfg.URLs = append(append([]string(nil), args...), urls...)

	if cfg.Files, err = flags.GetStringArray("file"); err != nil {
		return nil, err
	}

	if err := applyChangedFlags(cmd, cfg); err != nil {
		return nil, err
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.MetricsFile, err = flags.GetString("metrics-file"); err != nil {
		return nil, err
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	if noHistory {
		cfg.SaveToDB = false
	}

	cfg.Verbose = boolFlag(cmd, "verbose")
	cfg.LogJSON = boolFlag(cmd, "log-json")

	return cfg, nil
}

// applyChangedFlags copies every explicitly set tuning flag onto cfg.
func applyChangedFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	setters := []struct {
		name  string
		apply func() error
	}{
		{"timeout", func() error { cfg.Timeout, err = flags.GetDuration("timeout"); return err }},
		{"fetch-timeout", func() error { cfg.FetchTimeout, err = flags.GetDuration("fetch-timeout"); return err }},
		{"workers", func() error { cfg.FetchWorkers, err = flags.GetInt("workers"); return err }},
		{"fetch-rate-limit", func() error { cfg.FetchRateLimit, err = flags.GetFloat64("fetch-rate-limit"); return err }},
		{"max-redirects", func() error { cfg.MaxRedirects, err = flags.GetInt("max-redirects"); return err }},
		{"proxy", func() error { cfg.Proxy, err = flags.GetString("proxy"); return err }},
		{"user-agent", func() error { cfg.UserAgent, err = flags.GetString("user-agent"); return err }},
		{"insecure", func() error { cfg.InsecureSkipVerify, err = flags.GetBool("insecure"); return err }},
		{"api-base-url", func() error { cfg.APIBaseURL, err = flags.GetString("api-base-url"); return err }},
		{"model", func() error { cfg.Model, err = flags.GetString("model"); return err }},
		{"rate-limit", func() error { cfg.APIRateLimit, err = flags.GetFloat64("rate-limit"); return err }},
		{"no-inference", func() error { cfg.DisableInference, err = flags.GetBool("no-inference"); return err }},
		{"signatures", func() error { cfg.SignaturesPath, err = flags.GetString("signatures"); return err }},
		{"redis", func() error { cfg.RedisAddr, err = flags.GetString("redis"); return err }},
		{"batch", func() error { cfg.BatchSize, err = flags.GetInt("batch"); return err }},
		{"db-dir", func() error { cfg.DBDir, err = flags.GetString("db-dir"); return err }},
	}
	for _, s := range setters {
		if !flags.Changed(s.name) {
			continue
		}
		if err := s.apply(); err != nil {
			return err
		}
	}
	return nil
}

// setupLogger creates a structured logger that redacts secrets.
func setupLogger(w io.Writer, verbose, jsonFormat bool) *slog.Logger {
	if jsonFormat {
		return securelog.NewSecureJSONLogger(w, verbose)
	}
	return securelog.NewSecureLogger(w, verbose)
}

// runAnalyze wires the components for cfg, analyzes every target and writes
// the reports to out (or cfg.ReportFile).
func runAnalyze(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	m := metrics.New()

	client, err := transport.NewClient(
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithAcceptLanguage(cfg.AcceptLanguage),
		transport.WithTimeout(cfg.FetchTimeout),
		transport.WithProxy(cfg.Proxy),
		transport.WithSites(cfg.SiteConfigs.TransportSites()),
		transport.WithMaxConnsPerHost(cfg.FetchWorkers),
		transport.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	a, closeAnalyzer, err := newAnalyzer(ctx, cfg, client, logger, m)
	if err != nil {
		return err
	}
	defer closeAnalyzer()

	// store stays a nil interface when history is disabled.
	var store pipeline.ReportStore
	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "path", db.Path())
		store = db
	}

	source, mode, targets := newEvidenceSource(cfg, client, logger, m)

	logger.Info("starting analysis",
		"targets", len(targets),
		"mode", mode,
		"batch", cfg.BatchSize,
		"proxy", client.ProxyDescription(),
		"history", cfg.SaveToDB,
	)

	bp := pipeline.NewBatchProcessor(
		func() *pipeline.Pipeline { return pipeline.Build(source, a, store, logger, pipeline.WithMetrics(m)) },
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithMode(mode),
		pipeline.WithBatchLogger(logger),
		pipeline.WithBatchMetrics(m),
	)

	startTime := time.Now()
	reports, batchErr := bp.ProcessBatch(ctx, targets)
	logger.Info("analysis finished", "elapsed", time.Since(startTime).Round(time.Millisecond))

	if err := outputReports(cfg, reports, out); err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		if err := writeMetrics(m, cfg.MetricsFile); err != nil {
			return err
		}
	}

	if batchErr != nil {
		return batchErr
	}
	if failed := countFailed(reports); failed > 0 {
		return fmt.Errorf("%w: %d of %d", errTargetsFailed, failed, len(reports))
	}
	return nil
}

// newEvidenceSource returns the acquisition stage for cfg: the crawler for
// URLs, or direct file reads.
func newEvidenceSource(cfg *config.Config, client *transport.Client, logger *slog.Logger, m *metrics.Metrics) (pipeline.EvidenceSource, model.ScanMode, []string) {
	if len(cfg.Files) > 0 {
		return pipeline.NewFileSource(cfg.MaxBodySize), model.ScanModeFile, cfg.Files
	}

	pageClient := client.PageClient()
	scriptClient := client.ScriptClient()

	var limiter *rate.Limiter
	if cfg.FetchRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FetchRateLimit), 1)
	}
	extractor := crawler.NewExtractor(pageClient, scriptClient,
		crawler.WithResolver(crawler.NewResolver(pageClient,
			crawler.WithMaxRedirects(cfg.MaxRedirects),
			crawler.WithResolverMaxBodySize(cfg.MaxBodySize),
			crawler.WithResolverLogger(logger),
			crawler.WithResolverMetrics(m),
		)),
		crawler.WithDiscoverer(crawler.NewDiscoverer(crawler.WithBlocklist(cfg.Blocklist))),
		crawler.WithFetcher(crawler.NewFetcher(scriptClient,
			crawler.WithWorkers(cfg.FetchWorkers),
			crawler.WithFetchRateLimit(limiter),
			crawler.WithFetcherMaxBodySize(cfg.MaxBodySize),
			crawler.WithFetcherLogger(logger),
			crawler.WithFetcherMetrics(m),
		)),
		crawler.WithExtractorLogger(logger),
	)
	return extractor, model.ScanModeURL, cfg.URLs
}

// newAnalyzer builds the local matcher and, when enabled, the remote
// inference orchestrator. The returned function releases the cache backend.
func newAnalyzer(ctx context.Context, cfg *config.Config, client *transport.Client, logger *slog.Logger, m *metrics.Metrics) (*analyzer.Analyzer, func(), error) {
	table := signature.LoadTable(cfg.SignaturesPath, logger)
	matcher := signature.NewMatcher(table, signature.WithMatcherLogger(logger))

	opts := []analyzer.Option{
		analyzer.WithMinCodeLength(cfg.MinCodeLength),
		analyzer.WithTimeout(cfg.Timeout),
		analyzer.WithLogger(logger),
		analyzer.WithMetrics(m),
	}

	enabled, reason := cfg.InferenceEnabled()
	if !enabled {
		logger.Info("remote inference disabled", "reason", reason)
		return analyzer.New(matcher, append(opts, analyzer.WithDisabledReason(reason))...), func() {}, nil
	}

	if !inference.LooksLikeAPIKey(cfg.APIKey) {
		logger.Warn("API key does not start with sk-; requests may be rejected", "env", cfg.APIKeyEnv)
	}

	overrides, err := inference.ParseTemplates(cfg.Prompts)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid prompt configuration: %w", err)
	}

	store, closeStore, err := newInferenceCache(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	chatOpts := []inference.ChatOption{
		inference.WithHTTPClient(client.APIClient(cfg.InferenceTimeout)),
		inference.WithModel(cfg.Model),
		inference.WithSystemPrompt(cfg.SystemPrompt),
		inference.WithTemperature(cfg.Temperature),
		inference.WithMaxTokens(cfg.MaxTokens),
	}
	if cfg.APIRateLimit > 0 {
		chatOpts = append(chatOpts, inference.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.APIRateLimit), 1)))
	}
	chat := inference.NewChatClient(cfg.APIBaseURL, cfg.APIKey, chatOpts...)

	orchestrator := inference.NewOrchestrator(chat,
		inference.WithTemplates(inference.DefaultTemplates().Merge(overrides)),
		inference.WithMaxCodeLength(cfg.MaxCodeLength),
		inference.WithCache(store),
		inference.WithLogger(logger),
		inference.WithMetrics(m),
	)

	return analyzer.New(matcher, append(opts, analyzer.WithInferencer(orchestrator))...), closeStore, nil
}

// newInferenceCache returns the Redis store when configured, otherwise a
// bounded in-memory store shared by every target of the run.
func newInferenceCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryStore(cfg.CacheSize, cfg.CacheTTL), func() {}, nil
	}

	// Redis keys only expire by TTL; capacity follows the server's
	// maxmemory-policy.
	if cfg.CacheSize != config.DefaultCacheSize {
		logger.Warn("cache size does not apply to the redis cache", "size", cfg.CacheSize, "addr", cfg.RedisAddr)
	}

	rdb, err := cache.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis inference cache", "addr", cfg.RedisAddr)
	return cache.NewRedisStore(rdb, cfg.CacheTTL), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}, nil
}

// outputReports writes reports in the requested format.
func outputReports(cfg *config.Config, reports []*model.ScanReport, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		f, err := createOutputFile(cfg.ReportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}

	w := newReportWriter(cfg, output)
	if cfg.JSONReport && len(reports) > 1 {
		w = report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
	}
	// A structured report written to a file still gets a text summary on
	// the terminal.
	if cfg.ReportFile != "" && (cfg.JSONReport || cfg.MarkdownReport) {
		w = report.NewMultiWriter(w, report.NewSimpleWriter(stdout))
	}

	var err error
	if len(reports) == 1 {
		_, err = w.Write(reports[0])
	} else {
		_, err = w.WriteAll(reports)
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// newReportWriter selects the writer for the configured format.
func newReportWriter(cfg *config.Config, output io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(output, report.WithPrettyPrint())
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(output)
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}
}

// createOutputFile creates path and its parent directories.
// Reports may contain session-derived URLs, so the file is readable by the
// owner only.
func createOutputFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// writeMetrics exports the run's metrics as a node_exporter textfile.
func writeMetrics(m *metrics.Metrics, path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	return m.WriteTextfile(path)
}

func countFailed(reports []*model.ScanReport) int {
	n := 0
	for _, r := range reports {
		if r.Error != nil {
			n++
		}
	}
	return n
}
