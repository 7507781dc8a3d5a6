// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyOpenAIError_RateLimit(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "quota"}

	err := classifyOpenAIError(apiErr)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestClassifyOpenAIError_ServerError(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: http.StatusBadGateway, Message: "bad gateway"}

	err := classifyOpenAIError(apiErr)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestClassifyOpenAIError_ClientError(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad request"}

	err := classifyOpenAIError(apiErr)
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestRetryAfter(t *testing.T) {
	err := &RateLimitError{RetryAfter: 7 * time.Second, Err: errors.New("429")}
	assert.Equal(t, 7*time.Second, RetryAfter(err))
	assert.Equal(t, time.Duration(0), RetryAfter(errors.New("other")))
	assert.Equal(t, time.Duration(0), RetryAfter(nil))
}

func TestRateLimitError_WithoutCause(t *testing.T) {
	err := &RateLimitError{RetryAfter: 2 * time.Second}
	assert.Equal(t, ErrRateLimited.Error(), err.Error())
	assert.NotPanics(t, func() { _ = fmt.Sprintf("%v", err) })
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestAPIKey_RoundTrip(t *testing.T) {
	key := NewAPIKey("sk-test-secret")
	got, err := key.String()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-secret", got)
}

func TestAPIKey_ValueOutlivesEnclaveBuffer(t *testing.T) {
	key := NewAPIKey("sk-test-secret")

	// String destroys the guarded buffer before returning; the value
	// must be a copy, not a view of the wiped pages.
	first, err := key.String()
	require.NoError(t, err)
	var sum byte
	for i := 0; i < len(first); i++ {
		sum ^= first[i]
	}
	assert.NotZero(t, sum)
	assert.Equal(t, "sk-test-secret", first)

	// The enclave stays openable for repeated reads.
	second, err := key.String()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadAPIKey_FromEnv(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "  sk-from-env \n")

	key, err := LoadAPIKey("TEST_LLM_KEY", "")
	require.NoError(t, err)
	got, err := key.String()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", got)
}

func TestLoadAPIKey_FromSecretFile(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "")
	secretPath := filepath.Join(t.TempDir(), "openai_api_key")
	require.NoError(t, os.WriteFile(secretPath, []byte("sk-from-secret\n"), 0600))

	key, err := LoadAPIKey("TEST_LLM_KEY", secretPath)
	require.NoError(t, err)
	got, err := key.String()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-secret", got)
}

func TestLoadAPIKey_Missing(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "")
	_, err := LoadAPIKey("TEST_LLM_KEY", "/nonexistent/secret")
	assert.Error(t, err)
}

func TestMockClient_ResponsesInOrder(t *testing.T) {
	mock := &MockClient{Responses: []string{"first", "second"}}

	got, err := mock.Generate(context.Background(), "sys", "p1", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = mock.Generate(context.Background(), "sys", "p2", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	// Exhausted queue repeats the last response
	got, err = mock.Generate(context.Background(), "sys", "p3", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	assert.Equal(t, 3, mock.Calls())
	assert.Equal(t, []string{"p1", "p2", "p3"}, mock.Prompts())
}

func TestMockClient_Embed(t *testing.T) {
	mock := &MockClient{Embeddings: []float32{0.1, 0.2}}

	vectors, err := mock.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
}
