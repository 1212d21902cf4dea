// Package database provides SQLite-based scan history for jscryptoscan.
//
// This package implements the ReportDB, which stores:
//   - Scan reports as JSON, one row per run
//   - The scripts each run analyzed, identified by content digest
//   - Risk summaries for listing history without loading full reports
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of other
// databases because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. Sufficient performance for our use case
// 4. WAL mode provides good concurrent read performance
//
// Comparing the latest two runs of a target (see Compare) works on the
// stored JSON, so reports written by older versions stay comparable as long
// as they still decode.
package database
