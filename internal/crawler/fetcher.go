package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
	"github.com/nao1215/jscryptoscan/internal/retry"
)

const (
	// DefaultWorkers is the maximum number of concurrent script fetches.
	DefaultWorkers = 10

	// DefaultFetchAttempts is the number of attempts per script.
	DefaultFetchAttempts = 3

	// DefaultFetchBaseDelay is the first retry delay; it doubles per attempt.
	DefaultFetchBaseDelay = 500 * time.Millisecond
)

// DefaultFetchPolicy returns the retry policy used for script fetches.
func DefaultFetchPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: DefaultFetchAttempts,
		BaseDelay:   DefaultFetchBaseDelay,
		Backoff:     retry.Exponential,
	}
}

// FetchResult is the outcome of fetching a set of script URLs.
type FetchResult struct {
	// Scripts holds fetched scripts in the order their URLs were given.
	Scripts []model.ScriptEvidence

	// Failures maps each URL that could not be fetched to its last error.
	Failures map[string]error

	// Discarded lists URLs whose response was not a script.
	Discarded []string
}

// Fetcher downloads external scripts concurrently.
//
// Design decision: We use a plain errgroup.Group (not WithContext) because
// one script's failure must not cancel its siblings. Each task reports its
// outcome into an indexed slot, so results never depend on completion order.
type Fetcher struct {
	// client should follow redirects (see transport.Client.ScriptClient).
	client *http.Client

	workers     int
	policy      retry.Policy
	limiter     *rate.Limiter
	maxBodySize int64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithWorkers sets the maximum number of concurrent fetches.
func WithWorkers(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithFetchPolicy sets the per-URL retry policy.
func WithFetchPolicy(p retry.Policy) FetcherOption {
	return func(f *Fetcher) {
		f.policy = p
	}
}

// WithFetchRateLimit paces requests. Nil disables pacing.
func WithFetchRateLimit(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithFetcherMaxBodySize sets the maximum script size to read.
func WithFetcherMaxBodySize(size int64) FetcherOption {
	return func(f *Fetcher) {
		if size > 0 {
			f.maxBodySize = size
		}
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFetcherMetrics records script fetch outcomes.
func WithFetcherMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// NewFetcher creates a Fetcher that issues requests with client.
func NewFetcher(client *http.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      client,
		workers:     DefaultWorkers,
		policy:      DefaultFetchPolicy(),
		maxBodySize: DefaultMaxBodySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fetches every URL not already in visited, using at most
// min(workers, len(urls)) concurrent requests. Successfully fetched URLs are
// added to visited. Failures are recorded per URL and never abort siblings.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, visited *VisitedSet) *FetchResult {
	result := &FetchResult{
		Scripts:  []model.ScriptEvidence{},
		Failures: make(map[string]error),
	}

	pending := make([]string, 0, len(urls))
	queued := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		key := NormalizeURL(u)
		if _, ok := queued[key]; ok {
			continue
		}
		queued[key] = struct{}{}
		if visited.Contains(u) {
			f.metrics.ObserveFetch(metrics.FetchScript, metrics.ResultSkipped)
			continue
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return result
	}

	slots := make([]*model.ScriptEvidence, len(pending))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(min(f.workers, len(pending)))

	for i, u := range pending {
		g.Go(func() error {
			content, err := f.fetchWithRetry(ctx, u)
			switch {
			case errors.Is(err, errNotScript):
				f.logger.Debug("discarded non-script response", "url", u)
				f.metrics.ObserveFetch(metrics.FetchScript, metrics.ResultDiscarded)
				mu.Lock()
				result.Discarded = append(result.Discarded, u)
				mu.Unlock()
			case err != nil:
				f.logger.Warn("script fetch failed", "url", u, "error", err)
				f.metrics.ObserveFetch(metrics.FetchScript, metrics.ResultError)
				mu.Lock()
				result.Failures[u] = err
				mu.Unlock()
			default:
				visited.Add(u)
				f.logger.Debug("script fetched", "url", u, "size", len(content))
				f.metrics.ObserveFetch(metrics.FetchScript, metrics.ResultOK)
				ev := model.NewScriptEvidence(u, content)
				slots[i] = &ev
			}
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	for _, ev := range slots {
		if ev != nil {
			result.Scripts = append(result.Scripts, *ev)
		}
	}
	slices.Sort(result.Discarded)
	return result
}

// fetchWithRetry fetches one script under the retry policy. The returned
// error is the last attempt's error.
func (f *Fetcher) fetchWithRetry(ctx context.Context, scriptURL string) (string, error) {
	var content string
	policy := f.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		f.logger.Debug("retrying script fetch", "url", scriptURL, "attempt", attempt+1, "delay", delay, "error", err)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return retry.Stop(&FetchError{URL: scriptURL, Err: err})
			}
		}
		body, err := f.fetchOnce(ctx, scriptURL)
		if err != nil {
			return err
		}
		content = body
		return nil
	})
	return content, err
}

// fetchOnce performs a single request. Transient failures (network errors,
// 429 and 5xx) are returned as-is so they are retried; everything else is
// wrapped with retry.Stop.
func (f *Fetcher) fetchOnce(ctx context.Context, scriptURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return "", retry.Stop(&FetchError{URL: scriptURL, Err: err})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: scriptURL, Err: err}
	}
	defer resp.Body.Close()

	// The content type is checked before the status so that HTML error
	// pages are discarded rather than retried.
	if !isScriptContentType(resp.Header.Get("Content-Type")) {
		return "", retry.Stop(errNotScript)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fe := &FetchError{URL: scriptURL, StatusCode: resp.StatusCode}
		if isRetryableStatus(resp.StatusCode) {
			return "", fe
		}
		return "", retry.Stop(fe)
	}

	body, _, err := readDecoded(resp, f.maxBodySize)
	if err != nil {
		return "", &FetchError{URL: scriptURL, StatusCode: resp.StatusCode, Err: err}
	}
	return strings.TrimSpace(body), nil
}

// isScriptContentType accepts any media type mentioning javascript (e.g.
// application/javascript, text/javascript, application/x-javascript) and
// text/plain.
func isScriptContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "javascript") || strings.Contains(lower, "text/plain")
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
