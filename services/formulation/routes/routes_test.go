// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/history"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/observability"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	inv, err := invoker.New(&llm.MockClient{Responses: []string{"{}"}}, invoker.Config{
		RequestsPerMinute: 6000,
		AttemptTimeout:    time.Second,
		Logger:            logger,
	})
	require.NoError(t, err)

	local := corpus.NewLocalCorpus([]corpus.Record{
		{ID: "asc-001", Name: "Ascorbic Acid", Description: "vitamin c"},
	}, logger)

	retriever, err := pipeline.NewRetriever(local, 0, 0, logger)
	require.NoError(t, err)
	analyst, err := pipeline.NewAnalyst(inv, logger)
	require.NoError(t, err)
	synthesizer, err := pipeline.NewSynthesizer(inv, logger)
	require.NoError(t, err)

	store, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orch, err := pipeline.NewOrchestrator(retriever, analyst, synthesizer, store, pipeline.Config{Logger: logger})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry)

	router := gin.New()
	Register(router, Dependencies{
		Orchestrator: orch,
		History:      store,
		Corpus:       local,
		Gatherer:     registry,
		Logger:       logger,
		Version:      "test",
	})
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRegister_CoreRoutes(t *testing.T) {
	router := newRouter(t)

	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
	assert.Equal(t, http.StatusOK, get(router, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(router, "/v1/history").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/v1/history/none").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/no/such/route").Code)
}

func TestRegister_MetricsEndpoint(t *testing.T) {
	router := newRouter(t)

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_formulation_active_runs")
}

func TestRegister_AnalyzeRequiresBody(t *testing.T) {
	router := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
