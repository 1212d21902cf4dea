// Package model defines the core data structures used throughout jscryptoscan.
//
// This package contains the following main types:
//   - ScriptEvidence and Evidence: script text gathered by the acquisition stage
//   - AlgorithmFinding: a single local signature match with its risk level
//   - InferenceResult: the structured object returned for one analysis kind
//   - AnalysisReport: local findings, the three inference results, and errors
//   - ScanReport: one complete run against a target, as stored and reported
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The crawler, signature, inference, analyzer, database and
// report packages all exchange these types, so centralizing them prevents
// import cycles.
//
// The models are designed to be serializable to JSON for report output and
// database storage.
package model
