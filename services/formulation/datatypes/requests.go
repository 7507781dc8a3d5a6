// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response envelope types for the analyze
// and history endpoints, with validation enforced before any model call.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Input Limits
// =============================================================================

const (
	// MinPromptChars is the minimum prompt length. Shorter prompts cannot
	// describe an effect and are rejected without spending model quota.
	MinPromptChars = 3

	// MaxPromptChars is the maximum prompt length in characters.
	MaxPromptChars = 2000

	// MaxPromptBytes caps the raw byte size of a prompt. Checked separately
	// from the rune count to bound memory on multi-byte payloads.
	MaxPromptBytes = 8 * 1024

	// DefaultHistoryLimit is the history page size when the caller does not
	// specify one.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit is the largest history page a caller may request.
	MaxHistoryLimit = 200
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// formulationValidate is the validator for formulation request types.
// Initialized in init() with custom validators.
var formulationValidate *validator.Validate

func init() {
	formulationValidate = validator.New()
	_ = formulationValidate.RegisterValidation("promptbytes", validatePromptBytes)
}

// validatePromptBytes enforces MaxPromptBytes on a string field. Byte length,
// not rune count, so oversized multi-byte payloads are caught.
func validatePromptBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxPromptBytes
}

// =============================================================================
// Analyze Endpoint
// =============================================================================

// AnalyzeRequest is the body of POST /v1/analyze.
//
// The owning user is resolved by middleware and is deliberately not part of
// the body; a client cannot run a pipeline on another user's behalf.
type AnalyzeRequest struct {
	Prompt string `json:"prompt" binding:"required" validate:"required,min=3,max=2000,promptbytes"`
}

// Validate checks the request against the prompt bounds. Returns a
// validator error naming the failing field.
func (r *AnalyzeRequest) Validate() error {
	return formulationValidate.Struct(r)
}

// AnalyzeResponse is the envelope for POST /v1/analyze.
//
// Success true means the run completed, including the "no viable
// formulation" outcome where Data.Hero is null and Recommendations is
// empty. Success false means the pipeline itself failed; Message then
// carries a caller-presentable reason and Data is null.
type AnalyzeResponse struct {
	Success bool               `json:"success"`
	Data    *FormulationResult `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`

	// ID is the persisted history entry id for a completed run.
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`

	// ConversationID correlates logs and traces for this run.
	ConversationID string `json:"conversation_id,omitempty"`

	// ProcessingTime is the wall-clock run duration in seconds.
	ProcessingTime float64 `json:"processing_time,omitempty"`

	// RetryAfterSeconds is set only for rate-limited failures so the
	// caller can present a concrete "try again in N seconds" message.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// Metadata summarizes the run for display and debugging.
	Metadata *RunMetadata `json:"metadata,omitempty"`
}

// RunMetadata is the per-run summary attached to analyze responses.
type RunMetadata struct {
	Candidates   int  `json:"candidates"`
	Alternatives int  `json:"alternatives"`
	HeroFound    bool `json:"hero_found"`
}

// =============================================================================
// History Endpoints
// =============================================================================

// HistoryListResponse is the envelope for GET /v1/history.
type HistoryListResponse struct {
	Success bool           `json:"success"`
	Total   int            `json:"total"`
	Data    []HistoryEntry `json:"data"`
}

// HistoryDeleteResponse is the envelope for DELETE /v1/history/:id.
type HistoryDeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// Progress Streaming
// =============================================================================

// StreamEvent is one message pushed over the analyze websocket. Type is
// "stage" while the pipeline advances, then exactly one of "result" or
// "error" terminates the stream.
type StreamEvent struct {
	Type      string             `json:"type"`
	Stage     string             `json:"stage,omitempty"`
	Message   string             `json:"message,omitempty"`
	Result    *FormulationResult `json:"result,omitempty"`
	EntryID   string             `json:"entry_id,omitempty"`
	Timestamp int64              `json:"timestamp"`
}
