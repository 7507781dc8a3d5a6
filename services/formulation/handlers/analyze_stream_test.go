// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/history"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamServer(t *testing.T) (*httptest.Server, *history.Store) {
	t.Helper()

	client := &llm.MockClient{GenerateFunc: routedGenerate(testAnalysisJSON, testSynthesisJSON)}
	inv, err := invoker.New(client, invoker.Config{
		RequestsPerMinute: 6000,
		Burst:             100,
		MaxAttempts:       2,
		AttemptTimeout:    time.Second,
		BackoffBase:       time.Millisecond,
		Logger:            quietLogger(),
	})
	require.NoError(t, err)

	retriever, err := pipeline.NewRetriever(testCorpus(), 0, 0.001, quietLogger())
	require.NoError(t, err)
	analyst, err := pipeline.NewAnalyst(inv, quietLogger())
	require.NoError(t, err)
	synthesizer, err := pipeline.NewSynthesizer(inv, quietLogger())
	require.NoError(t, err)

	store, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)

	orch, err := pipeline.NewOrchestrator(retriever, analyst, synthesizer, store, pipeline.Config{
		RunTimeout: 10 * time.Second,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.ResolveUser())
	router.GET("/v1/analyze/stream", AnalyzeStream(orch, quietLogger()))

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		store.Close()
	})
	return server, store
}

func TestAnalyzeStream_StagesThenResult(t *testing.T) {
	server, _ := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/analyze/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(datatypes.AnalyzeRequest{
		Prompt: "Stable water-soluble Vitamin C derivative",
	}))

	var stages []string
	var result *datatypes.StreamEvent
	for result == nil {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var event datatypes.StreamEvent
		require.NoError(t, conn.ReadJSON(&event))

		switch event.Type {
		case "stage":
			stages = append(stages, event.Stage)
		case "result":
			result = &event
		case "error":
			t.Fatalf("unexpected error event: %s", event.Message)
		}
	}

	assert.Equal(t, []string{"received", "retrieving", "analyzing",
		"synthesizing", "completed"}, stages)
	require.NotNil(t, result.Result)
	require.NotNil(t, result.Result.Hero)
	assert.Equal(t, "3-O-Ethyl Ascorbic Acid", result.Result.Hero.Name)
	assert.NotEmpty(t, result.EntryID)
}

func TestAnalyzeStream_InvalidRequestGetsErrorEvent(t *testing.T) {
	server, _ := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/analyze/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(datatypes.AnalyzeRequest{Prompt: "ab"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event datatypes.StreamEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "error", event.Type)
	assert.Contains(t, event.Message, "prompt must be")
}
