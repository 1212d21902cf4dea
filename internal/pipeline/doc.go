// Package pipeline runs the stages of one scan in sequence and many scans
// concurrently.
//
// A scan is a ScanReport passed through Steps:
//
//	acquire (crawler.Extractor or FileSource) → analyze (analyzer.Analyzer) → persist (history database)
//
// Each stage is a Step that receives the current report and can modify it.
//
// Design decision: We use a pipeline pattern instead of direct function calls
// because:
// 1. URL and file targets differ only in their first step
// 2. It provides consistent error handling and logging across steps
// 3. It supports cancellation via context for long-running scans
//
// BatchProcessor runs one pipeline per target with concurrency control using
// errgroup.
package pipeline
