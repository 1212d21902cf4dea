package crawler

import (
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBlocklist holds URL substrings of well-known third-party libraries
// and trackers whose scripts are never worth analyzing.
var DefaultBlocklist = []string{
	"umeng.js",
	"ga.js",
	"gtm.js",
	"jquery",
	"bootstrap",
	"toast",
	"qrcode.min.js",
}

// scriptExtensions are the accepted path suffixes for external scripts.
var scriptExtensions = []string{".js", ".cjs", ".mjs"}

// documentWriteScript matches a document.write call that injects a
// <script src=...> tag.
var documentWriteScript = regexp.MustCompile(`(?i)document\.write\(\s*['"]<script\b[^>]*src=['"]([^'"]+)['"]`)

// Discovery is the result of scanning one HTML document.
type Discovery struct {
	// Inline holds the text of each non-empty inline script, in document
	// order.
	Inline []string

	// External holds the accepted absolute script URLs, sorted and unique.
	External []string
}

// Discoverer extracts scripts from HTML documents.
// It holds no per-document state and is safe for concurrent use.
type Discoverer struct {
	blocklist []string
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithBlocklist replaces the default blocklist. Entries are matched
// case-insensitively as substrings of the full URL.
func WithBlocklist(entries []string) DiscovererOption {
	return func(d *Discoverer) {
		d.blocklist = make([]string, 0, len(entries))
		for _, e := range entries {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				d.blocklist = append(d.blocklist, e)
			}
		}
	}
}

// NewDiscoverer creates a Discoverer with the default blocklist.
func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{blocklist: slices.Clone(DefaultBlocklist)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns the inline scripts and accepted external script URLs of
// body. Relative URLs are resolved against baseURL. Rejected candidates are
// dropped silently.
//
// Design decision: Comments are stripped before parsing so that
// commented-out script tags and document.write calls are not reported.
func (d *Discoverer) Discover(body, baseURL string) (*Discovery, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	stripped := htmlComment.ReplaceAllString(body, "")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(stripped))
	if err != nil {
		return nil, err
	}

	result := &Discovery{Inline: []string{}, External: []string{}}
	external := make(map[string]struct{})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src, hasSrc := s.Attr("src")
		if hasSrc && strings.TrimSpace(src) != "" {
			if u, ok := d.accept(base, src); ok {
				external[u] = struct{}{}
			}
			return
		}

		scriptType, _ := s.Attr("type")
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(scriptType)), "text/template") {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			result.Inline = append(result.Inline, text)
		}
	})

	for _, m := range documentWriteScript.FindAllStringSubmatch(stripped, -1) {
		if u, ok := d.accept(base, m[1]); ok {
			external[u] = struct{}{}
		}
	}

	for u := range external {
		result.External = append(result.External, u)
	}
	slices.Sort(result.External)

	return result, nil
}

// Accepts reports whether rawURL passes the extension and blocklist policy.
func (d *Discoverer) Accepts(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return d.allowed(u)
}

// accept resolves ref against base and applies the policy.
func (d *Discoverer) accept(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(strings.ToLower(ref), "data:") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return "", false
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", false
	}
	if !d.allowed(u) {
		return "", false
	}
	return u.String(), true
}

func (d *Discoverer) allowed(u *url.URL) bool {
	lower := strings.ToLower(u.String())
	for _, entry := range d.blocklist {
		if strings.Contains(lower, entry) {
			return false
		}
	}

	ext := strings.ToLower(path.Ext(u.Path))
	return slices.Contains(scriptExtensions, ext)
}
