package database

import "errors"

var (
	// ErrDatabaseNotFound is returned by Open when CreateIfNotExists is false
	// and no database file exists.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrNotEnoughRuns is returned by CompareLatest when a target has fewer
	// than two stored runs.
	ErrNotEnoughRuns = errors.New("at least two runs are required for comparison")
)
