// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm defines the model-backend interface used by the
// formulation pipeline and the OpenAI implementation of it.
//
// Backends classify their failures with the sentinel errors below so
// the invoker layer can apply differentiated retry policy without
// knowing provider-specific status codes.
package llm

import (
	"context"
	"errors"
	"time"
)

// GenerationParams are optional sampling controls for a generation
// call. Nil fields leave the backend default in place.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Sentinel errors backends wrap their provider failures with.
var (
	// ErrRateLimited marks an upstream quota rejection. Retryable with
	// backoff. Use RetryAfter to extract a provider-suggested wait.
	ErrRateLimited = errors.New("llm: rate limited by provider")

	// ErrUnavailable marks a transient provider failure (5xx, network).
	// Retryable.
	ErrUnavailable = errors.New("llm: provider unavailable")

	// ErrEmptyResponse marks a provider response with no content.
	ErrEmptyResponse = errors.New("llm: provider returned no content")
)

// RateLimitError wraps ErrRateLimited with the provider's suggested
// retry-after duration, when one was supplied.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return ErrRateLimited.Error()
	}
	return ErrRateLimited.Error() + ": " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts a suggested retry-after from an error chain.
// Returns zero when the error carries no suggestion.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// LLMClient is the standard interface for a text-generation backend.
type LLMClient interface {
	Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error)
}

// Embedder produces embedding vectors for texts. Backends that also
// serve the corpus index implement this alongside LLMClient.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
