package crawler

import (
	"errors"
	"fmt"
)

// Acquisition errors.
// These are returned by the Resolver and, for individual scripts, recorded
// in FetchResult.Failures.
//
// Design decision: Redirect failures are sentinels so callers can match them
// with errors.Is, while fetch failures carry the URL and status code in a
// FetchError because reports show them to the user.
var (
	// ErrRedirectLoop is returned when a redirect points to a URL already
	// requested in the same chain.
	ErrRedirectLoop = errors.New("redirect loop detected")

	// ErrRedirectLimitExceeded is returned when the chain is still
	// redirecting after the configured number of requests.
	ErrRedirectLimitExceeded = errors.New("redirect limit exceeded")

	// ErrFetch matches every *FetchError.
	ErrFetch = errors.New("fetch failed")

	// ErrNotHTML is wrapped in a FetchError when the origin chain ends in a
	// successful response that is not an HTML document.
	ErrNotHTML = errors.New("response is not an HTML document")

	// ErrMissingLocation is wrapped in a FetchError when a 3xx response has
	// no Location header.
	ErrMissingLocation = errors.New("redirect without Location header")

	// ErrInvalidURL is returned when the origin URL cannot be parsed or is
	// not http(s).
	ErrInvalidURL = errors.New("invalid URL: expected http:// or https://")

	// errNotScript marks a script response whose Content-Type is neither
	// javascript nor text/plain. Such responses are discarded silently.
	errNotScript = errors.New("response is not a script")
)

// FetchError describes a failed page or script request.
// StatusCode is zero when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return "fetch " + e.URL + ": failed"
	}
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}
