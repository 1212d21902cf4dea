package signature

import "errors"

var (
	// ErrUnknownRiskRule is returned when a signature names a rule that is
	// not registered.
	ErrUnknownRiskRule = errors.New("unknown risk rule")

	// ErrUnsupportedFormat is returned for table files that are neither YAML
	// nor JSON.
	ErrUnsupportedFormat = errors.New("unsupported signature table format")
)
