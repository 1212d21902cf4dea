package crawler

import (
	"net/url"
	"strings"
	"sync"
)

// VisitedSet records the URLs fetched during one run.
// Membership only grows. All methods are safe for concurrent use.
//
// Design decision: The set is an explicit value passed to each fetch task
// instead of package-level state, so that concurrent runs for different
// targets never see each other's URLs.
type VisitedSet struct {
	mu    sync.RWMutex
	seen  map[string]struct{}
	order []string
}

// NewVisitedSet creates an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[string]struct{})}
}

// Contains reports whether the normalized form of rawURL is in the set.
func (v *VisitedSet) Contains(rawURL string) bool {
	key := NormalizeURL(rawURL)
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.seen[key]
	return ok
}

// Add inserts rawURL and reports whether it was newly added.
func (v *VisitedSet) Add(rawURL string) bool {
	key := NormalizeURL(rawURL)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[key]; ok {
		return false
	}
	v.seen[key] = struct{}{}
	v.order = append(v.order, key)
	return true
}

// List returns the normalized URLs in insertion order.
func (v *VisitedSet) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}

// Len returns the number of URLs in the set.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.order)
}

// NormalizeURL normalizes a URL for deduplication.
//
// Design decision: We normalize URLs because:
//  1. Same resource can have different URL representations
//  2. Fragment (#anchor) doesn't change content
//  3. Scheme and host are case-insensitive
//
// The query string is kept as-is; cache-busting parameters can serve
// different script versions.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	// http://example.com and http://example.com/ are the same resource.
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}

	return u.String()
}
