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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/history"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/gin-gonic/gin"
)

// ListHistory handles GET /v1/history: the caller's entries, newest
// first. The limit query parameter is clamped to MaxHistoryLimit.
func ListHistory(store *history.Store, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		limit := datatypes.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{
					"success": false,
					"message": "limit must be a positive integer",
				})
				return
			}
			limit = min(parsed, datatypes.MaxHistoryLimit)
		}

		entries, err := store.List(c.Request.Context(), middleware.GetUserID(c), limit)
		if err != nil {
			logger.Error("history list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "failed to read history",
			})
			return
		}
		if entries == nil {
			entries = []datatypes.HistoryEntry{}
		}

		c.JSON(http.StatusOK, datatypes.HistoryListResponse{
			Success: true,
			Total:   len(entries),
			Data:    entries,
		})
	}
}

// GetHistory handles GET /v1/history/:id. A foreign entry id answers
// 404 exactly like a nonexistent one.
func GetHistory(store *history.Store, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		entry, err := store.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "history entry not found",
			})
			return
		}
		if err != nil {
			logger.Error("history get failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "failed to read history",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": entry})
	}
}

// DeleteHistory handles DELETE /v1/history/:id. Deletion is terminal;
// a second delete of the same id is a 404.
func DeleteHistory(store *history.Store, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		entryID := c.Param("id")
		err := store.Delete(c.Request.Context(), middleware.GetUserID(c), entryID)
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, datatypes.HistoryDeleteResponse{
				Success: false,
				Message: "history entry not found",
			})
			return
		}
		if err != nil {
			logger.Error("history delete failed", "entry_id", entryID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.HistoryDeleteResponse{
				Success: false,
				Message: "failed to delete history entry",
			})
			return
		}
		c.JSON(http.StatusOK, datatypes.HistoryDeleteResponse{Success: true})
	}
}
