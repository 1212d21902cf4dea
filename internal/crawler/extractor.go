package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// Extractor runs the acquisition stage for one origin URL: resolve, discover,
// fetch, assemble.
type Extractor struct {
	resolver   *Resolver
	discoverer *Discoverer
	fetcher    *Fetcher
	logger     *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithResolver replaces the default Resolver.
func WithResolver(r *Resolver) ExtractorOption {
	return func(e *Extractor) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithDiscoverer replaces the default Discoverer.
func WithDiscoverer(d *Discoverer) ExtractorOption {
	return func(e *Extractor) {
		if d != nil {
			e.discoverer = d
		}
	}
}

// WithFetcher replaces the default Fetcher.
func WithFetcher(f *Fetcher) ExtractorOption {
	return func(e *Extractor) {
		if f != nil {
			e.fetcher = f
		}
	}
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an Extractor. pageClient must not follow redirects;
// scriptClient should.
func NewExtractor(pageClient, scriptClient *http.Client, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		resolver:   NewResolver(pageClient),
		discoverer: NewDiscoverer(),
		fetcher:    NewFetcher(scriptClient),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract acquires the script evidence for origin with a fresh VisitedSet.
func (e *Extractor) Extract(ctx context.Context, origin string) (*model.Evidence, error) {
	return e.ExtractWithVisited(ctx, origin, NewVisitedSet())
}

// ExtractWithVisited acquires the script evidence for origin, recording
// fetched URLs in visited. The origin itself is added first.
//
// A failure to obtain the origin document is returned as an error. Failed
// external scripts are logged and omitted.
func (e *Extractor) ExtractWithVisited(ctx context.Context, origin string, visited *VisitedSet) (*model.Evidence, error) {
	visited.Add(origin)

	doc, err := e.resolver.Resolve(ctx, origin)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("page resolved", "origin", origin, "final", doc.URL, "hops", len(doc.Chain))

	discovery, err := e.discoverer.Discover(doc.Body, doc.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", doc.URL, err)
	}
	e.logger.Debug("scripts discovered", "url", doc.URL,
		"inline", len(discovery.Inline), "external", len(discovery.External))

	fetched := e.fetcher.FetchAll(ctx, discovery.External, visited)
	if n := len(fetched.Failures); n > 0 {
		e.logger.Warn("some scripts could not be fetched", "url", doc.URL, "failed", n)
	}

	scripts := make([]model.ScriptEvidence, 0, len(discovery.Inline)+len(fetched.Scripts))
	for _, text := range discovery.Inline {
		scripts = append(scripts, model.NewScriptEvidence("", text))
	}
	scripts = append(scripts, fetched.Scripts...)

	return &model.Evidence{
		OriginURL:     origin,
		FinalURL:      doc.URL,
		RedirectChain: doc.Chain,
		Scripts:       scripts,
		Visited:       visited.List(),
	}, nil
}
