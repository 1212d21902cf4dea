// Package inference runs the remote half of the analysis: three analysis
// kinds (algorithm, key, custom) are sent concurrently to an OpenAI-style
// chat-completions endpoint and their free-text answers are repaired into
// structured results.
//
// # Architecture
//
//	Orchestrator.Analyze
//	  ├── Run(KindAlgorithm) ─┐
//	  ├── Run(KindKey)       ─┼─ RenderPrompt → Completer (retry.Policy) → ParseContent → validate
//	  └── Run(KindCustom)    ─┘   (cache.Store + singleflight in front)
//
// Each kind fails on its own. A kind that cannot be completed yields an
// InferenceResult of the form {"error": reason} and a non-nil error; the
// other kinds are unaffected.
//
// # Response repair
//
// Model output is rarely clean JSON. ParseContent applies a fixed sequence
// of recovery steps: punctuation normalization (curly quotes and
// full-width punctuation to ASCII), balanced-object extraction, requoting
// of single-quoted strings, trailing-comma removal, and completion of
// unclosed strings, arrays and objects. If the result still does not parse,
// the kind's result is {"error": "INVALID_RESPONSE"}.
package inference
