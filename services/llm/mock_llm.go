// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"sync"
)

// MockClient is a canned-response LLMClient and Embedder for tests.
//
// Responses are consumed in order; when the queue is exhausted the
// last response repeats. Err, when set, is returned on every call.
// GenerateFunc, when set, overrides the canned behavior entirely.
type MockClient struct {
	Responses    []string
	Err          error
	GenerateFunc func(ctx context.Context, system, prompt string, params GenerationParams) (string, error)

	// Embeddings is the vector returned for every input text.
	Embeddings []float32
	EmbedErr   error

	mu      sync.Mutex
	calls   int
	prompts []string
}

// Generate implements LLMClient.
func (m *MockClient) Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	idx := m.calls - 1
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, prompt, params)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", ErrEmptyResponse
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Embed implements Embedder.
func (m *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = m.Embeddings
	}
	return vectors, nil
}

// Calls returns how many Generate calls were made.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the user prompts passed to Generate, in order.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
