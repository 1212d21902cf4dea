package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/nao1215/jscryptoscan/internal/metrics"
)

const (
	// DefaultMaxRedirects is the maximum number of requests in one chain.
	DefaultMaxRedirects = 5

	// DefaultMaxBodySize limits how much of a page or script is read.
	DefaultMaxBodySize = 10 * 1024 * 1024
)

var (
	// htmlComment matches HTML comments, including multi-line ones.
	htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)

	// refreshContent matches the content attribute of a meta refresh tag,
	// e.g. "0;url=/next" or "5; URL='/next'".
	refreshContent = regexp.MustCompile(`(?i)^\s*\d+\s*;\s*url\s*=\s*['"]?([^'"]+)['"]?\s*$`)

	// scriptNavigation matches an immediate window.location assignment.
	scriptNavigation = regexp.MustCompile(`(?i)window\.location(?:\.href)?\s*=\s*["']([^"']+)["']`)
)

// Document is the terminal HTML document of a redirect chain.
type Document struct {
	// URL is the final URL the document was served from.
	URL string

	// Body is the decoded HTML.
	Body string

	// ContentType is the response Content-Type (sniffed when absent).
	ContentType string

	// Chain lists every URL requested, ending with URL.
	Chain []string
}

// Resolver follows redirects for a single origin URL.
//
// Design decision: The Resolver never follows redirects through the HTTP
// client. It needs to see each hop to detect loops and to apply page-level
// redirects (meta refresh, window.location) with the same cap and loop
// rules as HTTP 3xx responses.
type Resolver struct {
	// client must not follow redirects (see transport.Client.PageClient).
	client *http.Client

	// maxRedirects caps the number of requests in one chain.
	maxRedirects int

	// maxBodySize limits the size of response bodies to read.
	maxBodySize int64

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxRedirects sets the chain length cap.
func WithMaxRedirects(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxRedirects = n
		}
	}
}

// WithResolverMaxBodySize sets the maximum page size to read.
func WithResolverMaxBodySize(size int64) ResolverOption {
	return func(r *Resolver) {
		if size > 0 {
			r.maxBodySize = size
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverMetrics records page fetch outcomes.
func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a Resolver that issues requests with client.
func NewResolver(client *http.Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:       client,
		maxRedirects: DefaultMaxRedirects,
		maxBodySize:  DefaultMaxBodySize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve follows the redirect chain starting at origin and returns the
// terminal HTML document.
//
// A 3xx response continues the chain at its Location. A 200 HTML response
// continues the chain at its meta refresh URL, or failing that at an
// immediate window.location assignment; otherwise it is terminal. A chain
// that revisits a URL fails with ErrRedirectLoop. A chain still redirecting
// after maxRedirects requests fails with ErrRedirectLimitExceeded. Any other
// response fails with a *FetchError.
func (r *Resolver) Resolve(ctx context.Context, origin string) (*Document, error) {
	current, err := parseHTTPURL(origin)
	if err != nil {
		return nil, err
	}

	chain := make([]string, 0, r.maxRedirects)
	seen := make(map[string]struct{}, r.maxRedirects)

	for len(chain) < r.maxRedirects {
		currentURL := current.String()
		chain = append(chain, currentURL)
		seen[NormalizeURL(currentURL)] = struct{}{}

		r.logger.Debug("fetching page", "url", currentURL, "hop", len(chain))

		next, doc, err := r.step(ctx, current)
		if err != nil {
			r.metrics.ObserveFetch(metrics.FetchPage, metrics.ResultError)
			return nil, err
		}
		r.metrics.ObserveFetch(metrics.FetchPage, metrics.ResultOK)

		if doc != nil {
			doc.Chain = chain
			return doc, nil
		}

		if _, ok := seen[NormalizeURL(next.String())]; ok {
			return nil, fmt.Errorf("%w: %s -> %s (chain: %s)",
				ErrRedirectLoop, currentURL, next, strings.Join(chain, " -> "))
		}
		r.logger.Debug("following redirect", "from", currentURL, "to", next.String())
		current = next
	}

	return nil, fmt.Errorf("%w: still redirecting after %d requests (chain: %s)",
		ErrRedirectLimitExceeded, r.maxRedirects, strings.Join(chain, " -> "))
}

// step performs one request. It returns either the next URL to visit or the
// terminal document.
func (r *Resolver) step(ctx context.Context, current *url.URL) (*url.URL, *Document, error) {
	currentURL := current.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
	if err != nil {
		return nil, nil, &FetchError{URL: currentURL, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, &FetchError{URL: currentURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, nil, &FetchError{URL: currentURL, StatusCode: resp.StatusCode, Err: ErrMissingLocation}
		}
		next, err := current.Parse(location)
		if err != nil {
			return nil, nil, &FetchError{URL: currentURL, StatusCode: resp.StatusCode, Err: err}
		}
		return next, nil, nil

	case resp.StatusCode == http.StatusOK:
		body, contentType, err := readDecoded(resp, r.maxBodySize)
		if err != nil {
			return nil, nil, &FetchError{URL: currentURL, StatusCode: resp.StatusCode, Err: err}
		}
		if !isHTML(contentType) {
			return nil, nil, &FetchError{URL: currentURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrNotHTML, contentType)}
		}

		if target, ok := detectPageRedirect(body); ok {
			if next, err := current.Parse(target); err == nil {
				return next, nil, nil
			}
			r.logger.Debug("ignoring unparsable page redirect", "url", currentURL, "target", target)
		}

		return nil, &Document{URL: currentURL, Body: body, ContentType: contentType}, nil

	default:
		return nil, nil, &FetchError{URL: currentURL, StatusCode: resp.StatusCode}
	}
}

// detectPageRedirect looks for a page-level redirect, meta refresh first.
func detectPageRedirect(body string) (string, bool) {
	stripped := htmlComment.ReplaceAllString(body, "")

	if target, ok := metaRefreshTarget(stripped); ok {
		return target, true
	}
	if m := scriptNavigation.FindStringSubmatch(stripped); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// metaRefreshTarget returns the URL of the first meta refresh tag that
// carries one. Refresh tags without a URL only reload the page and are
// ignored.
func metaRefreshTarget(body string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			if !strings.EqualFold(strings.TrimSpace(tokenAttr(tok, "http-equiv")), "refresh") {
				continue
			}
			if m := refreshContent.FindStringSubmatch(tokenAttr(tok, "content")); m != nil {
				return strings.TrimSpace(m[1]), true
			}
		default:
		}
	}
}

// tokenAttr retrieves an attribute value from an HTML token.
func tokenAttr(tok html.Token, key string) string {
	for _, attr := range tok.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// readDecoded reads at most limit bytes of the body and decodes it to UTF-8
// using the Content-Type charset or the document's meta charset. A missing
// Content-Type is sniffed from the content.
func readDecoded(resp *http.Response, limit int64) (string, string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(raw)
	}

	decoded, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return string(raw), contentType, nil //nolint:nilerr // fall back to the raw bytes
	}
	text, err := io.ReadAll(decoded)
	if err != nil {
		return string(raw), contentType, nil //nolint:nilerr // fall back to the raw bytes
	}
	return string(text), contentType, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}
