// Package crawler implements the acquisition stage: it turns an origin URL
// into the script evidence that the inference stage analyzes.
//
// # Architecture
//
// The stage is split into four components, leaves first:
//
//   - Resolver: follows HTTP redirects, meta refresh tags and immediate
//     window.location assignments until a terminal HTML document is reached
//   - Discoverer: extracts inline script bodies and candidate external
//     script URLs from that document, filtered by extension and blocklist
//   - Fetcher: downloads external scripts concurrently with a bounded worker
//     pool, per-URL retry and content-type validation
//   - Extractor: ties the three together and assembles the Evidence
//
// A VisitedSet shared by all fetch workers of one run guarantees that a
// normalized URL is fetched at most once.
//
// Design decision: We keep the page resolver sequential and manual (no
// automatic redirect following) while script fetches follow redirects
// automatically. Only the page chain needs loop detection; scripts that
// redirect are ordinary CDN behavior.
//
// # Usage
//
//	ex := crawler.NewExtractor(pageClient, scriptClient, crawler.WithWorkers(10))
//	ev, err := ex.Extract(ctx, "https://example.com")
//
// # Failure policy
//
// Failing to obtain the origin document is fatal and returned as an error.
// A failing external script is logged and omitted; siblings continue.
package crawler
