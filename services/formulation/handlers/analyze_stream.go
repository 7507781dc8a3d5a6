// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	// The service fronts local and reverse-proxied deployments where
	// the Origin header does not survive; auth happens in middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// AnalyzeStream handles GET /v1/analyze/stream: a websocket that
// accepts one AnalyzeRequest, pushes stage events while the pipeline
// advances, and terminates with exactly one result or error event.
//
// The pipeline runs on the handler goroutine and progress callbacks
// fire synchronously from it, so websocket writes never interleave.
func AnalyzeStream(orch *pipeline.Orchestrator, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "analyze_stream"))

	return func(c *gin.Context) {
		conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		send := func(event datatypes.StreamEvent) bool {
			event.Timestamp = time.Now().UnixMilli()
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("stream write failed", "error", err)
				return false
			}
			return true
		}

		var req datatypes.AnalyzeRequest
		if err := conn.ReadJSON(&req); err != nil {
			send(datatypes.StreamEvent{Type: "error", Message: "first message must be an analyze request"})
			return
		}
		if err := req.Validate(); err != nil {
			send(datatypes.StreamEvent{Type: "error", Message: "prompt must be between 3 and 2000 characters"})
			return
		}

		result, err := orch.RunWithProgress(c.Request.Context(), datatypes.AnalysisRequest{
			Prompt:      req.Prompt,
			UserID:      middleware.GetUserID(c),
			SubmittedAt: time.Now(),
		}, func(stage pipeline.Stage) {
			send(datatypes.StreamEvent{Type: "stage", Stage: string(stage)})
		})

		switch {
		case err != nil:
			_, resp := mapRunError(err, "")
			send(datatypes.StreamEvent{Type: "error", Message: resp.Message})
		case result.NoFormulation:
			send(datatypes.StreamEvent{
				Type: "result",
				Result: &datatypes.FormulationResult{
					Recommendations: []datatypes.FormulationCandidate{},
				},
				Message: "no viable formulation found for the requested effect",
			})
		default:
			send(datatypes.StreamEvent{
				Type:    "result",
				Result:  &result.Result,
				EntryID: result.Entry.ID,
			})
		}

		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(streamWriteTimeout))
	}
}
