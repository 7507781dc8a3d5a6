// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package invoker wraps the LLM backend with the process-wide quota
// gate every pipeline stage must pass through.
//
// # Description
//
// The upstream provider enforces one global rate limit, not a per-run
// one, so all concurrent pipeline runs share a single Invoker and its
// token bucket. A call acquires quota, runs with a per-attempt
// timeout, and retries on rate-limit or transient-availability
// failures with exponential backoff and jitter, up to a bounded
// number of attempts.
//
// # Thread Safety
//
// Invoker is safe for concurrent use. The only shared mutable state
// is the rate.Limiter, which serializes quota acquisition internally.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"golang.org/x/time/rate"
)

// =============================================================================
// Typed Errors
// =============================================================================

// RateLimitedError is returned when the retry budget for a step is
// exhausted against upstream quota rejections. RetryAfter is the wait
// the caller should suggest to the end user.
type RateLimitedError struct {
	Step       string
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("step %s rate limited after %d attempts (retry after %s): %v",
		e.Step, e.Attempts, e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// ModelOutputInvalidError is returned when the model's response does
// not parse against the step's expected schema.
type ModelOutputInvalidError struct {
	Step   string
	Detail string
	Raw    string
	Err    error
}

func (e *ModelOutputInvalidError) Error() string {
	return fmt.Sprintf("step %s returned out-of-contract output: %s", e.Step, e.Detail)
}

func (e *ModelOutputInvalidError) Unwrap() error { return e.Err }

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the quota gate and retry policy.
type Config struct {
	// RequestsPerMinute is the shared upstream quota. Default: 30.
	RequestsPerMinute int

	// Burst is the token bucket burst size. Default: 5.
	Burst int

	// MaxAttempts bounds retries per Invoke call. Default: 4.
	MaxAttempts int

	// AttemptTimeout is the hard wall-clock bound per attempt.
	// Default: 60s.
	AttemptTimeout time.Duration

	// BackoffBase is the initial backoff after a retryable failure.
	// Default: 500ms.
	BackoffBase time.Duration

	// BackoffMax caps the exponential backoff. Default: 15s.
	BackoffMax time.Duration

	// JitterFactor randomizes backoff by ±factor. Default: 0.25.
	JitterFactor float64

	// Logger for invocation events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 30,
		Burst:             5,
		MaxAttempts:       4,
		AttemptTimeout:    60 * time.Second,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        15 * time.Second,
		JitterFactor:      0.25,
		Logger:            slog.Default(),
	}
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if c.Burst == 0 {
		c.Burst = defaults.Burst
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = defaults.AttemptTimeout
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = defaults.BackoffMax
	}
	if c.JitterFactor == 0 {
		c.JitterFactor = defaults.JitterFactor
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RequestsPerMinute < 1 {
		return errors.New("requests_per_minute must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return errors.New("jitter_factor must be between 0 and 1")
	}
	return nil
}

// =============================================================================
// Invoker
// =============================================================================

// QuotaObserver receives timing callbacks for metrics. Optional.
type QuotaObserver interface {
	ObserveQuotaWait(step string, wait time.Duration)
	ObserveRetry(step string, reason string)
}

// Invoker is the rate-limited gateway to the LLM backend.
type Invoker struct {
	client   llm.LLMClient
	limiter  *rate.Limiter
	config   Config
	logger   *slog.Logger
	observer QuotaObserver
}

// New creates an Invoker around the given backend.
func New(client llm.LLMClient, config Config) (*Invoker, error) {
	if client == nil {
		return nil, errors.New("llm client must not be nil")
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invoker config: %w", err)
	}
	return &Invoker{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), config.Burst),
		config:  config,
		logger:  config.Logger.With(slog.String("component", "invoker")),
	}, nil
}

// SetObserver attaches a metrics observer. Call before serving.
func (i *Invoker) SetObserver(o QuotaObserver) { i.observer = o }

// Invoke runs one model call for the named step, serialized through
// the shared quota gate, with bounded retries on rate-limit and
// transient failures.
//
// Failure modes:
//   - *RateLimitedError after the retry budget is exhausted on quota
//     rejections.
//   - context errors when the caller's deadline or cancellation fires.
//   - the backend's error as-is for non-retryable failures.
func (i *Invoker) Invoke(ctx context.Context, step, system, prompt string, params llm.GenerationParams) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= i.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := i.calculateBackoff(attempt - 1)
			if suggested := llm.RetryAfter(lastErr); suggested > backoff {
				backoff = suggested
			}
			i.logger.Warn("retrying model call",
				slog.String("step", step),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))
			if i.observer != nil {
				i.observer.ObserveRetry(step, retryReason(lastErr))
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		// Shared quota gate: all concurrent runs wait here.
		waitStart := time.Now()
		if err := i.limiter.Wait(ctx); err != nil {
			return "", err
		}
		if i.observer != nil {
			i.observer.ObserveQuotaWait(step, time.Since(waitStart))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, i.config.AttemptTimeout)
		out, err := i.client.Generate(attemptCtx, system, prompt, params)
		cancel()

		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return "", err
		}
		// Per-attempt timeout with the parent still alive is retryable;
		// a dead parent context is not.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if errors.Is(lastErr, llm.ErrRateLimited) {
		return "", &RateLimitedError{
			Step:       step,
			Attempts:   i.config.MaxAttempts,
			RetryAfter: i.suggestedRetryAfter(lastErr),
			Err:        lastErr,
		}
	}
	return "", fmt.Errorf("step %s failed after %d attempts: %w", step, i.config.MaxAttempts, lastErr)
}

// InvokeJSON runs Invoke and decodes the response into out. The model
// is allowed to wrap JSON in markdown fences or prose; everything
// outside the outermost braces is stripped before decoding. A decode
// failure is a *ModelOutputInvalidError.
func (i *Invoker) InvokeJSON(ctx context.Context, step, system, prompt string, params llm.GenerationParams, out any) error {
	raw, err := i.Invoke(ctx, step, system, prompt, params)
	if err != nil {
		return err
	}

	payload := ExtractJSON(raw)
	if payload == "" {
		return &ModelOutputInvalidError{
			Step:   step,
			Detail: "no JSON object found in response",
			Raw:    raw,
		}
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return &ModelOutputInvalidError{
			Step:   step,
			Detail: "response is not valid JSON for the step schema",
			Raw:    raw,
			Err:    err,
		}
	}
	return nil
}

// calculateBackoff returns base*2^n capped at max, with ±jitter.
func (i *Invoker) calculateBackoff(retries int) time.Duration {
	backoff := i.config.BackoffBase * time.Duration(1<<retries)
	if backoff > i.config.BackoffMax {
		backoff = i.config.BackoffMax
	}

	jitterRange := float64(backoff) * i.config.JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)

	if backoff < 0 {
		backoff = i.config.BackoffBase
	}
	return backoff
}

// suggestedRetryAfter is what we tell the caller to wait before trying
// the whole request again. Prefer the provider's hint, otherwise the
// next backoff step past the exhausted budget.
func (i *Invoker) suggestedRetryAfter(err error) time.Duration {
	if suggested := llm.RetryAfter(err); suggested > 0 {
		return suggested
	}
	backoff := i.config.BackoffBase * time.Duration(1<<i.config.MaxAttempts)
	if backoff > i.config.BackoffMax {
		backoff = i.config.BackoffMax
	}
	return backoff
}

// isRetryable reports whether the invoker should spend another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrUnavailable)
}

// retryReason labels the retry cause for metrics.
func retryReason(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, llm.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

// ExtractJSON returns the outermost JSON object in a model response,
// stripping markdown fences and surrounding prose. Returns "" when no
// object is present.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if fenced, ok := strings.CutPrefix(s, "```json"); ok {
		s = fenced
	} else if fenced, ok := strings.CutPrefix(s, "```"); ok {
		s = fenced
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
