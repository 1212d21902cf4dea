package inference

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/width"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// ParseContent turns the free-text content of a completion into an
// InferenceResult.
//
// It fails with ErrNoStructureFound when content has no '{' at all, and
// with ErrInvalidResponse when the repaired object still does not parse.
func ParseContent(content string) (model.InferenceResult, error) {
	obj, err := ExtractObject(Normalize(content))
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := jsonutil.Unmarshal([]byte(Repair(obj)), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if result == nil {
		return nil, ErrInvalidResponse
	}
	return model.InferenceResult(result), nil
}

// Normalize replaces typographic quotes with ASCII quotes and full-width
// JSON punctuation with its ASCII form.
func Normalize(s string) string {
	t := transform.Chain(
		runes.Map(asciiQuote),
		runes.If(runes.Predicate(isFullWidthPunctuation), width.Narrow, nil),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func asciiQuote(r rune) rune {
	switch r {
	case '“', '”', '„', '‟':
		return '"'
	case '‘', '’', '‚', '‛':
		return '\''
	default:
		return r
	}
}

func isFullWidthPunctuation(r rune) bool {
	switch r {
	case '，', '：', '｛', '｝', '［', '］', '＂':
		return true
	default:
		return false
	}
}

// ExtractObject returns the first top-level JSON object in s, found by
// scanning brace depth outside of string literals. Both double- and
// single-quoted strings are recognized.
//
// If the object is never closed, the rest of s from its opening brace is
// returned for Repair to complete.
func ExtractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoStructureFound
	}

	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return s[start:], nil
}

// Repair rewrites a JSON-like object into JSON:
//   - single-quoted strings become double-quoted
//   - raw newlines and tabs inside strings are escaped
//   - commas directly before a closing brace or bracket are dropped
//   - an unterminated string is closed, a dangling key separator gets a
//     null value, and open arrays and objects are closed in order
//   - a closer that skips open levels closes those levels first
//
// Valid JSON keeps its meaning; only insignificant whitespace may change.
func Repair(s string) string {
	out := make([]byte, 0, len(s)+8)
	var stack []byte
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			switch c {
			case '\\':
				if i+1 >= len(s) {
					continue // dangling escape, dropped
				}
				next := s[i+1]
				i++
				if quote == '\'' && next == '\'' {
					out = append(out, '\'')
					continue
				}
				out = append(out, c, next)
			case quote:
				out = append(out, '"')
				quote = 0
			case '"': // only reachable inside a single-quoted string
				out = append(out, '\\', '"')
			case '\n':
				out = append(out, '\\', 'n')
			case '\r':
				out = append(out, '\\', 'r')
			case '\t':
				out = append(out, '\\', 't')
			default:
				out = append(out, c)
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
			out = append(out, '"')
		case '{':
			stack = append(stack, '}')
			out = append(out, c)
		case '[':
			stack = append(stack, ']')
			out = append(out, c)
		case '}', ']':
			at := bytes.LastIndexByte(stack, c)
			if at < 0 {
				out = append(trimTrailingComma(out), c)
				continue
			}
			// Levels opened after the one c closes were left open.
			for j := len(stack) - 1; j >= at; j-- {
				out = closeLevel(out, stack[j])
			}
			stack = stack[:at]
		default:
			out = append(out, c)
		}
	}

	if quote != 0 {
		out = append(out, '"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = closeLevel(out, stack[i])
	}
	return string(out)
}

// closeLevel appends closer to out, dropping a trailing comma and giving a
// dangling key separator a null value.
func closeLevel(out []byte, closer byte) []byte {
	out = trimTrailingComma(out)
	if n := len(out); n > 0 && out[n-1] == ':' {
		out = append(out, " null"...)
	}
	return append(out, closer)
}

// trimTrailingComma removes trailing whitespace and at most one comma.
func trimTrailingComma(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == ' ' || b[n-1] == '\t' || b[n-1] == '\r' || b[n-1] == '\n') {
		n--
	}
	if n > 0 && b[n-1] == ',' {
		n--
	}
	return b[:n]
}
