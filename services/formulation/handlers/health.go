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
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadinessCheck names one dependency probe for the ready endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health handles GET /health: liveness only, no dependency probes.
func Health(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "formulation",
			"version": version,
		})
	}
}

// Ready handles GET /ready: 200 when every dependency answers, 503
// with the failing probes otherwise.
func Ready(checks ...ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		failures := gin.H{}
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				failures[check.Name] = err.Error()
			}
		}
		if len(failures) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unavailable",
				"failures": failures,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
