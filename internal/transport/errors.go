package transport

import "errors"

// Proxy configuration errors.
// These are returned by NewClient when the configured proxy cannot be used.
//
// Design decision: We validate the proxy once when the client is built rather
// than on every request. A bad proxy URL is a configuration defect, and
// surfacing it before any page is fetched gives a clearer error than a
// failed dial halfway through a run.
var (
	// ErrInvalidProxyURL is returned when the proxy URL cannot be parsed or
	// has no host.
	ErrInvalidProxyURL = errors.New("invalid proxy URL: expected scheme://host:port")

	// ErrUnsupportedProxyScheme is returned when the proxy URL scheme is not
	// one of http, https, socks5 or socks5h.
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme: use http, https, socks5 or socks5h")
)
