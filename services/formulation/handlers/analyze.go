// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers for the formulation
// service. Handlers are closures over their dependencies; no handler
// reaches into globals.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Analyze handles POST /v1/analyze: validate, run the pipeline, and
// answer with the persisted result. Identity comes from middleware,
// never from the body.
func Analyze(orch *pipeline.Orchestrator, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.AnalyzeResponse{
				Success: false,
				Message: "request body must be JSON with a prompt field",
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.AnalyzeResponse{
				Success: false,
				Message: "prompt must be between 3 and 2000 characters",
			})
			return
		}

		conversationID := uuid.NewString()
		userID := middleware.GetUserID(c)
		started := time.Now()

		result, err := orch.Run(c.Request.Context(), datatypes.AnalysisRequest{
			Prompt:      req.Prompt,
			UserID:      userID,
			SubmittedAt: started,
		})
		if err != nil {
			status, resp := mapRunError(err, conversationID)
			logger.Warn("analyze request failed",
				"conversation_id", conversationID, "status", status, "error", err)
			if resp.RetryAfterSeconds > 0 {
				c.Header("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
			}
			c.JSON(status, resp)
			return
		}

		if result.NoFormulation {
			c.JSON(http.StatusOK, datatypes.AnalyzeResponse{
				Success: true,
				Data: &datatypes.FormulationResult{
					Recommendations: []datatypes.FormulationCandidate{},
				},
				Message:        "no viable formulation found for the requested effect",
				ConversationID: conversationID,
				ProcessingTime: result.Duration.Seconds(),
				Metadata:       &datatypes.RunMetadata{Candidates: result.CandidateCount},
			})
			return
		}

		c.JSON(http.StatusOK, datatypes.AnalyzeResponse{
			Success:        true,
			Data:           &result.Result,
			ID:             result.Entry.ID,
			CreatedAt:      result.Entry.CreatedAt,
			ConversationID: conversationID,
			ProcessingTime: result.Duration.Seconds(),
			Metadata: &datatypes.RunMetadata{
				Candidates:   result.CandidateCount,
				Alternatives: len(result.Result.Recommendations),
				HeroFound:    result.Result.Hero != nil,
			},
		})
	}
}

// mapRunError translates pipeline failures into envelopes a caller
// can act on. Raw model output and internal error chains never leak.
func mapRunError(err error, conversationID string) (int, datatypes.AnalyzeResponse) {
	resp := datatypes.AnalyzeResponse{Success: false, ConversationID: conversationID}

	var rle *invoker.RateLimitedError
	var moe *invoker.ModelOutputInvalidError
	switch {
	case errors.As(err, &rle):
		resp.Message = "the model provider is rate limiting requests, try again shortly"
		resp.RetryAfterSeconds = retryAfterSeconds(rle.RetryAfter)
		return http.StatusTooManyRequests, resp
	case errors.As(err, &moe), errors.Is(err, pipeline.ErrUnknownIngredient):
		resp.Message = "the model returned unusable output, try again"
		return http.StatusBadGateway, resp
	case errors.Is(err, corpus.ErrCorpusUnavailable):
		resp.Message = "service temporarily unavailable"
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, context.DeadlineExceeded):
		resp.Message = "the formulation run timed out"
		return http.StatusGatewayTimeout, resp
	case errors.Is(err, context.Canceled):
		resp.Message = "request canceled"
		return 499, resp
	default:
		resp.Message = "internal error running the formulation pipeline"
		return http.StatusInternalServerError, resp
	}
}

// retryAfterSeconds rounds a retry hint up to whole seconds, at
// least 1 so a "Retry-After: 0" never goes out.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
