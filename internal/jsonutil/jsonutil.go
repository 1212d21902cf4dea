// Package jsonutil wraps github.com/go-json-experiment/json behind the small
// API the rest of jscryptoscan needs.
//
// Reports, history rows and chat-completion payloads all pass through here so
// that encoding options (deterministic map ordering, indentation) are decided
// in one place.
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Marshal returns the JSON encoding of v with map keys sorted.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true))
}

// MarshalIndent returns the indented JSON encoding of v with map keys sorted.
// The prefix argument is accepted for signature compatibility with
// encoding/json and is ignored when empty.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	opts := []json.Options{json.Deterministic(true), jsontext.WithIndent(indent)}
	if prefix != "" {
		opts = append(opts, jsontext.WithIndentPrefix(prefix))
	}
	return json.Marshal(v, opts...)
}

// MarshalWrite writes the JSON encoding of v to w followed by a newline.
func MarshalWrite(w io.Writer, v any, indent string) error {
	opts := []json.Options{json.Deterministic(true)}
	if indent != "" {
		opts = append(opts, jsontext.WithIndent(indent))
	}
	if err := json.MarshalWrite(w, v, opts...); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// UnmarshalRead decodes a single JSON value from r into v.
func UnmarshalRead(r io.Reader, v any) error {
	return json.UnmarshalRead(r, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}
