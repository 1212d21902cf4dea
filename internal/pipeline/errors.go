package pipeline

import "errors"

var (
	// ErrFileTooLarge is returned when a local script exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyTarget is returned for a blank target.
	ErrEmptyTarget = errors.New("empty target")
)
