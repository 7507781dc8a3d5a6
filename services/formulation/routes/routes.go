// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the formulation service's HTTP surface.
package routes

import (
	"log/slog"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/handlers"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/history"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Dependencies carries everything the route table needs. Corpus and
// Gatherer are optional; their routes degrade gracefully when unset.
type Dependencies struct {
	Orchestrator *pipeline.Orchestrator
	History      *history.Store
	Corpus       corpus.Corpus
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
	Version      string
}

// Register attaches middleware and all routes to the router.
func Register(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("formulation"))
	router.Use(middleware.ResolveUser())

	router.GET("/health", handlers.Health(deps.Version))
	router.GET("/ready", handlers.Ready(readinessChecks(deps)...))

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", handlers.Analyze(deps.Orchestrator, logger))
		v1.GET("/analyze/stream", handlers.AnalyzeStream(deps.Orchestrator, logger))

		v1.GET("/history", handlers.ListHistory(deps.History, logger))
		v1.GET("/history/:id", handlers.GetHistory(deps.History, logger))
		v1.DELETE("/history/:id", handlers.DeleteHistory(deps.History, logger))
	}
}

// readinessChecks probes the run-critical dependencies. The corpus is
// included even though runs degrade without it: an unready corpus is
// an operator signal, not a request failure.
func readinessChecks(deps Dependencies) []handlers.ReadinessCheck {
	checks := []handlers.ReadinessCheck{
		{Name: "history", Check: deps.History.Ready},
	}
	if deps.Corpus != nil {
		checks = append(checks, handlers.ReadinessCheck{
			Name: "corpus", Check: deps.Corpus.Ready,
		})
	}
	return checks
}
