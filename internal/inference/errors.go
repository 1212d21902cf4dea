package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStructureFound is returned when a response contains no JSON
	// object at all.
	ErrNoStructureFound = errors.New("no JSON object found in response")

	// ErrInvalidResponse is returned when a response could not be repaired
	// into a JSON object.
	ErrInvalidResponse = errors.New("response is not valid JSON after repair")

	// ErrTemplate is returned for prompt templates without the code
	// placeholder. It is a configuration defect and never retried.
	ErrTemplate = errors.New("invalid prompt template")

	// ErrMaxRetriesExceeded is returned when every attempt to reach the
	// inference service failed.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInterrupted is returned when the caller's context ended before an
	// answer arrived.
	ErrInterrupted = errors.New("inference interrupted")

	// ErrUnknownKind is returned when parsing an unknown analysis kind name.
	ErrUnknownKind = errors.New("unknown analysis kind")

	// ErrEmptyCompletion is returned when the service answers without any
	// choice.
	ErrEmptyCompletion = errors.New("completion has no choices")

	// ErrMissingAPIKey is returned when remote inference is requested
	// without an API key.
	ErrMissingAPIKey = errors.New("no API key configured")
)

const (
	// InvalidResponseCode is the error reason stored for unparsable
	// responses.
	InvalidResponseCode = "INVALID_RESPONSE"

	// MissingFieldsMarker is set under "error" inside an asymmetric cipher
	// object that lacks its algorithm or key length.
	MissingFieldsMarker = "MISSING_FIELDS"
)

// StatusError reports a non-2xx response from the inference service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference service returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("inference service returned HTTP %d: %s", e.Code, e.Body)
}
