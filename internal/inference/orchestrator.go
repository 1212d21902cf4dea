package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/jscryptoscan/internal/cache"
	"github.com/nao1215/jscryptoscan/internal/metrics"
	"github.com/nao1215/jscryptoscan/internal/model"
	"github.com/nao1215/jscryptoscan/internal/retry"
)

const (
	// DefaultMaxCodeLength is the number of characters of code sent per
	// prompt.
	DefaultMaxCodeLength = 60000

	// DefaultAttempts is the number of attempts per analysis kind.
	DefaultAttempts = 3

	// DefaultBaseDelay is the first retry delay; it doubles per attempt.
	DefaultBaseDelay = 2 * time.Second
)

// DefaultRetryPolicy returns the retry policy used for inference calls.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: DefaultAttempts,
		BaseDelay:   DefaultBaseDelay,
		Backoff:     retry.Exponential,
	}
}

// Outcome is the result of one analysis kind.
// Err is non-nil exactly when Result is an error result.
type Outcome struct {
	Kind   Kind
	Result model.InferenceResult
	Err    error
}

// Orchestrator runs analysis kinds against a Completer.
//
// Design decision: Only KindCustom is cached. Concurrent requests for the
// same custom digest are collapsed with singleflight, so a batch run that
// sees the same bundle on several sites sends it once. A caller whose shared
// flight was cancelled by another caller runs it again on its own context.
type Orchestrator struct {
	completer     Completer
	templates     Templates
	policy        retry.Policy
	maxCodeLength int
	store         cache.Store
	group         singleflight.Group
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTemplates overrides the built-in templates for the kinds present in
// t.
func WithTemplates(t Templates) OrchestratorOption {
	return func(o *Orchestrator) {
		o.templates = o.templates.Merge(t)
	}
}

// WithRetryPolicy sets the per-kind retry policy.
func WithRetryPolicy(p retry.Policy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithMaxCodeLength sets the truncation limit in characters. Zero disables
// truncation.
func WithMaxCodeLength(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxCodeLength = n
		}
	}
}

// WithCache sets the result store for cached kinds. Nil disables caching.
func WithCache(s cache.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records inference and cache outcomes.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an Orchestrator that sends prompts to completer.
// Without WithCache it uses a default-sized MemoryStore.
func NewOrchestrator(completer Completer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		completer:     completer,
		templates:     DefaultTemplates(),
		policy:        DefaultRetryPolicy(),
		maxCodeLength: DefaultMaxCodeLength,
		store:         cache.NewMemoryStore(cache.DefaultMaxEntries, cache.DefaultTTL),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CacheKey returns the store key for kind and code. The digest covers the
// full code, before truncation.
func CacheKey(kind Kind, code string) string {
	return kind.String() + ":" + model.ContentDigest(code)
}

// Analyze runs every kind concurrently and returns their outcomes in Kinds()
// order. A panic inside one kind is converted into that kind's error.
func (o *Orchestrator) Analyze(ctx context.Context, code string) []Outcome {
	all := Kinds()
	outcomes := make([]Outcome, len(all))

	var g errgroup.Group
	for i, kind := range all {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr := fmt.Errorf("panic: %v", r)
					outcomes[i] = Outcome{Kind: kind, Result: model.NewErrorResult(perr.Error()), Err: perr}
				}
			}()
			result, runErr := o.Run(ctx, kind, code)
			outcomes[i] = Outcome{Kind: kind, Result: result, Err: runErr}
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	return outcomes
}

// Run executes one analysis kind. The returned error is non-nil exactly
// when the result is an error result.
func (o *Orchestrator) Run(ctx context.Context, kind Kind, code string) (model.InferenceResult, error) {
	if !kind.Valid() {
		err := fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
		return model.NewErrorResult(err.Error()), err
	}
	if !kind.Cached() || o.store == nil {
		return o.infer(ctx, kind, code)
	}

	key := CacheKey(kind, code)
	if result, ok := o.lookup(ctx, key); ok {
		o.logger.Debug("inference cache hit", "kind", kind.String(), "key", key)
		o.metrics.ObserveInference(kind.String(), metrics.OutcomeCacheHit, 0)
		return result, cachedErr(result)
	}

	for {
		v, _, shared := o.group.Do(key, func() (any, error) {
			result, err := o.infer(ctx, kind, code)
			if cacheable(err) {
				if setErr := o.store.Set(ctx, key, result); setErr != nil {
					o.logger.Warn("failed to cache inference result", "kind", kind.String(), "error", setErr)
				}
			}
			return Outcome{Kind: kind, Result: result, Err: err}, nil
		})
		out, _ := v.(Outcome)

		// The flight ran on the context of whichever caller started it. If
		// that caller went away, a caller that is still live asks again.
		if shared && errors.Is(out.Err, ErrInterrupted) && ctx.Err() == nil {
			o.logger.Debug("shared inference interrupted by another caller, retrying", "kind", kind.String(), "key", key)
			continue
		}
		return out.Result.Clone(), out.Err
	}
}

// lookup reads key from the store. Store failures count as misses.
func (o *Orchestrator) lookup(ctx context.Context, key string) (model.InferenceResult, bool) {
	result, ok, err := o.store.Get(ctx, key)
	if err != nil {
		o.logger.Warn("inference cache lookup failed", "key", key, "error", err)
		ok = false
	}
	o.metrics.ObserveCache(ok)
	return result, ok
}

// infer renders the prompt, calls the completer under the retry policy and
// parses the answer.
func (o *Orchestrator) infer(ctx context.Context, kind Kind, code string) (model.InferenceResult, error) {
	start := time.Now()
	result, err := o.inferOnce(ctx, kind, code)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		o.logger.Warn("analysis kind failed", "kind", kind.String(), "error", err)
	}
	o.metrics.ObserveInference(kind.String(), outcome, time.Since(start))
	return result, err
}

func (o *Orchestrator) inferOnce(ctx context.Context, kind Kind, code string) (model.InferenceResult, error) {
	prompt, err := RenderPrompt(o.templates[kind], truncate(code, o.maxCodeLength))
	if err != nil {
		err = fmt.Errorf("%s prompt: %w", kind, err)
		return model.NewErrorResult(err.Error()), err
	}

	policy := o.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		o.logger.Debug("retrying inference", "kind", kind.String(), "attempt", attempt+1, "delay", delay, "error", err)
	}

	var content string
	attempts := 0
	err = retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		attempts++
		c, err := o.completer.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				err = errors.Join(err, ctxErr)
			}
			err = fmt.Errorf("%w after %d attempt(s): %w", ErrInterrupted, attempts, err)
		} else {
			err = fmt.Errorf("%w after %d attempt(s): %w", ErrMaxRetriesExceeded, attempts, err)
		}
		return model.NewErrorResult(err.Error()), err
	}

	result, err := ParseContent(content)
	if err != nil {
		return model.NewErrorResult(InvalidResponseCode), err
	}
	kinds[kind].validate(result)
	return result, nil
}

// cacheable reports whether a result with err should be stored. Parsed
// results and unparsable responses are stored; transport, template and
// cancellation failures are not.
func cacheable(err error) bool {
	return err == nil || errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrNoStructureFound)
}

// cachedErr reconstructs the error for a cached result.
func cachedErr(result model.InferenceResult) error {
	reason, ok := result.ErrorReason()
	if !ok {
		return nil
	}
	if reason == InvalidResponseCode {
		return fmt.Errorf("%w (cached)", ErrInvalidResponse)
	}
	return fmt.Errorf("%s (cached)", reason)
}
