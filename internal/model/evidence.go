package model

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ScriptEvidence is one script body gathered by the acquisition stage.
// Inline scripts have an empty SourceURL; external scripts carry the
// resolved absolute URL (or the file path in file mode).
//
// ScriptEvidence is immutable once created. Use NewScriptEvidence so that
// Digest and Size always describe Content.
type ScriptEvidence struct {
	// SourceURL is empty for inline scripts.
	SourceURL string `json:"source_url,omitempty"`

	// Content is the script text. Excluded from JSON due to size; reports
	// carry the digest instead and the assembled code is stored separately.
	Content string `json:"-"`

	// Digest is the BLAKE2b-256 hex digest of Content.
	Digest string `json:"digest"`

	// Size is len(Content) in bytes.
	Size int `json:"size"`
}

// NewScriptEvidence creates evidence for the given source and content.
// Pass an empty sourceURL for inline scripts.
func NewScriptEvidence(sourceURL, content string) ScriptEvidence {
	return ScriptEvidence{
		SourceURL: sourceURL,
		Content:   content,
		Digest:    ContentDigest(content),
		Size:      len(content),
	}
}

// IsInline reports whether the script was embedded in the page.
func (s ScriptEvidence) IsInline() bool {
	return s.SourceURL == ""
}

// Evidence is the output of the acquisition stage for one target.
type Evidence struct {
	// OriginURL is the target as supplied by the user.
	OriginURL string

	// FinalURL is the terminal document's URL after redirects.
	FinalURL string

	// RedirectChain lists every URL requested while resolving the origin,
	// ending with FinalURL.
	RedirectChain []string

	// Scripts holds inline scripts first, then fetched external scripts.
	Scripts []ScriptEvidence

	// Visited is the visited set contents at the end of acquisition, in
	// insertion order.
	Visited []string
}

// Code assembles the scripts into the single code blob used by the
// inference stage.
func (e *Evidence) Code() string {
	parts := make([]string, 0, len(e.Scripts))
	for _, s := range e.Scripts {
		parts = append(parts, s.Content)
	}
	return AssembleCode(parts)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// AssembleCode joins script bodies with newlines and collapses every
// whitespace run to a single space.
func AssembleCode(parts []string) string {
	joined := strings.Join(parts, "\n")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(joined, " "))
}

// ContentDigest returns the hex BLAKE2b-256 digest of s.
func ContentDigest(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
