package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Browser-like request headers sent with every page and script request.
const (
	// DefaultUserAgent mimics desktop Chrome 120. Some sites serve stripped or
	// bot-specific markup to unknown clients, which would hide the scripts
	// we want to inspect.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultAcceptLanguage is sent as the Accept-Language header.
	DefaultAcceptLanguage = "en-US,en;q=0.9"

	// maxScriptRedirects bounds automatic redirect following for scripts.
	maxScriptRedirects = 10
)

// Site holds per-host request customisation, such as an authenticated
// session cookie or extra headers.
type Site struct {
	// Cookie is a raw Cookie header value ("name=value; name2=value2").
	Cookie string

	// Headers are set on every request to the host.
	Headers map[string]string
}

// Client builds the HTTP clients used by the acquisition stage.
// All clients it returns share one connection pool and proxy configuration.
//
// Design decision: We hand out separate *http.Client values for pages and
// scripts instead of one client with a mutable redirect policy. The page
// resolver must see every 3xx itself to detect loops, while script fetches
// follow redirects automatically. Sharing the *http.Transport keeps
// keep-alive connections reusable between the two.
type Client struct {
	userAgent       string
	acceptLanguage  string
	timeout         time.Duration
	rawProxy        string
	proxyURL        *url.URL
	sites           map[string]Site
	maxConnsPerHost int
	insecure        bool

	transport *http.Transport
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAcceptLanguage overrides the Accept-Language header.
func WithAcceptLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.acceptLanguage = lang
		}
	}
}

// WithTimeout sets the per-request timeout for page and script clients.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithProxy routes all traffic through the given proxy URL.
// Supported schemes are http, https, socks5 and socks5h. When no proxy is
// configured, HTTP_PROXY, HTTPS_PROXY and NO_PROXY from the environment are
// honoured.
func WithProxy(rawURL string) Option {
	return func(c *Client) {
		c.rawProxy = strings.TrimSpace(rawURL)
	}
}

// AnySite is the WithSites key whose settings apply to hosts without an
// entry of their own.
const AnySite = "*"

// WithSites sets per-host cookies and headers. Keys are host names, matched
// case-insensitively with or without the port, or AnySite.
func WithSites(sites map[string]Site) Option {
	return func(c *Client) {
		c.sites = make(map[string]Site, len(sites))
		for host, site := range sites {
			c.sites[strings.ToLower(host)] = site
		}
	}
}

// WithMaxConnsPerHost sizes the idle connection pool per host. It should
// match the fetch worker count so concurrent script fetches can reuse
// connections.
func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxConnsPerHost = n
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. Only useful
// against development servers with self-signed certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		c.insecure = skip
	}
}

// NewClient creates a Client with the given options.
// It validates the proxy configuration but makes no network calls.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		userAgent:       DefaultUserAgent,
		acceptLanguage:  DefaultAcceptLanguage,
		timeout:         600 * time.Second,
		sites:           make(map[string]Site),
		maxConnsPerHost: 10,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   c.maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.insecure, //nolint:gosec // Opt-in for development targets
		},
	}

	if c.rawProxy != "" {
		u, err := url.Parse(c.rawProxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxyURL, c.rawProxy)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			transport.Proxy = nil
			transport.DialContext = contextDial(dialer)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxyScheme, u.Scheme)
		}
		c.proxyURL = u
	}

	c.transport = transport
	return c, nil
}

// contextDial adapts a proxy.Dialer to the DialContext signature.
// SOCKS dialers from x/net implement proxy.ContextDialer; others are wrapped
// so that a cancelled context still returns promptly.
func contextDial(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialResult struct {
			conn net.Conn
			err  error
		}
		ch := make(chan dialResult, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			ch <- dialResult{conn, err}
		}()
		select {
		case r := <-ch:
			return r.conn, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PageClient returns a client that never follows redirects. The caller sees
// every 3xx response and its Location header.
func (c *Client) PageClient() *http.Client {
	return &http.Client{
		Transport: c.browserTransport(),
		Timeout:   c.timeout,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ScriptClient returns a client that follows redirects automatically.
func (c *Client) ScriptClient() *http.Client {
	return &http.Client{
		Transport: c.browserTransport(),
		Timeout:   c.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxScriptRedirects {
				return fmt.Errorf("stopped after %d redirects", maxScriptRedirects)
			}
			return nil
		},
	}
}

// APIClient returns a client for the inference service. It shares the proxy
// configuration but sends no browser headers or site cookies.
func (c *Client) APIClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: c.transport,
		Timeout:   timeout,
	}
}

// ProxyDescription describes the active proxy for logging, with any
// credentials removed.
func (c *Client) ProxyDescription() string {
	if c.proxyURL == nil {
		return "environment"
	}
	return c.proxyURL.Redacted()
}

func (c *Client) browserTransport() http.RoundTripper {
	return &headerInjectingTransport{
		base:           c.transport,
		userAgent:      c.userAgent,
		acceptLanguage: c.acceptLanguage,
		sites:          c.sites,
	}
}

// headerInjectingTransport wraps an http.RoundTripper to add browser headers
// and per-site cookies and headers to every request, including requests
// issued while following redirects.
type headerInjectingTransport struct {
	base           http.RoundTripper
	userAgent      string
	acceptLanguage string
	sites          map[string]Site
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	if clone.Header.Get("Accept-Language") == "" {
		clone.Header.Set("Accept-Language", t.acceptLanguage)
	}

	if site, ok := t.siteFor(clone.URL); ok {
		if site.Cookie != "" {
			if existing := clone.Header.Get("Cookie"); existing != "" {
				clone.Header.Set("Cookie", existing+"; "+site.Cookie)
			} else {
				clone.Header.Set("Cookie", site.Cookie)
			}
		}
		for key, value := range site.Headers {
			clone.Header.Set(key, value)
		}
	}

	return t.base.RoundTrip(clone)
}

func (t *headerInjectingTransport) siteFor(u *url.URL) (Site, bool) {
	if len(t.sites) == 0 || u == nil {
		return Site{}, false
	}
	if site, ok := t.sites[strings.ToLower(u.Host)]; ok {
		return site, true
	}
	if site, ok := t.sites[strings.ToLower(u.Hostname())]; ok {
		return site, true
	}
	site, ok := t.sites[AnySite]
	return site, ok
}
