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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements LLMClient and Embedder against the OpenAI
// API. Failures are classified with the package sentinel errors so
// the invoker can branch on them with errors.Is.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
}

// NewOpenAIClient builds a client from the environment: OPENAI_API_KEY
// (or the /run/secrets/openai_api_key container secret), OPENAI_MODEL,
// and OPENAI_EMBEDDING_MODEL.
func NewOpenAIClient() (*OpenAIClient, error) {
	key, err := LoadAPIKey("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		slog.Error("OpenAI credential not found", "error", err)
		return nil, fmt.Errorf("OPENAI_API_KEY not configured: %w", err)
	}
	apiKey, err := key.String()
	if err != nil {
		return nil, err
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OPENAI_MODEL not set, using default", "model", model)
	}
	embeddingModel := openai.EmbeddingModel(os.Getenv("OPENAI_EMBEDDING_MODEL"))
	if embeddingModel == "" {
		embeddingModel = openai.SmallEmbedding3
	}

	slog.Info("Initializing OpenAI client", "model", model, "embedding_model", embeddingModel)
	return &OpenAIClient{
		client:         openai.NewClient(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", o.model)

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", ErrEmptyResponse
	}
	recordUsage(ctx, o.model, "chat", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Embed implements the Embedder interface.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: o.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}
	recordUsage(ctx, string(o.embeddingModel), "embed", resp.Usage.PromptTokens, 0)
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// classifyOpenAIError maps API failures onto the package sentinels.
// 429 carries the provider's retry suggestion when present; 5xx and
// 408 are transient.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &RateLimitError{
				RetryAfter: parseRetryAfter(apiErr),
				Err:        err,
			}
		case apiErr.HTTPStatusCode == http.StatusRequestTimeout,
			apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		// Transport-level failure before a response arrived
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}

// parseRetryAfter pulls a retry hint out of a 429 response. OpenAI
// does not expose the Retry-After header through APIError, so only a
// conservative default is available here.
func parseRetryAfter(_ *openai.APIError) time.Duration {
	return 0
}
