// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_Analyze_Success(t *testing.T) {
	var gotUser, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(middleware.UserHeader)
		gotPath = r.URL.Path

		var req datatypes.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "stable vitamin C", req.Prompt)

		json.NewEncoder(w).Encode(datatypes.AnalyzeResponse{
			Success: true,
			ID:      "entry-1",
			Data: &datatypes.FormulationResult{
				Hero:            &datatypes.Formulation{FormulationCandidate: datatypes.FormulationCandidate{Name: "3-O-Ethyl Ascorbic Acid"}},
				ConfidenceScore: 0.82,
			},
		})
	}))
	defer server.Close()

	client := newAPIClient(server.URL, "alice")
	resp, err := client.Analyze(context.Background(), "stable vitamin C")
	require.NoError(t, err)

	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "/v1/analyze", gotPath)
	assert.Equal(t, "entry-1", resp.ID)
	require.NotNil(t, resp.Data.Hero)
	assert.Equal(t, "3-O-Ethyl Ascorbic Acid", resp.Data.Hero.Name)
}

func TestAPIClient_Analyze_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(datatypes.AnalyzeResponse{
			Success:           false,
			Message:           "model quota exhausted",
			RetryAfterSeconds: 30,
		})
	}))
	defer server.Close()

	client := newAPIClient(server.URL, "")
	_, err := client.Analyze(context.Background(), "stable vitamin C")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model quota exhausted")
	assert.Contains(t, err.Error(), "30s")
}

func TestAPIClient_Analyze_ServiceDown(t *testing.T) {
	client := newAPIClient("http://127.0.0.1:1", "")
	_, err := client.Analyze(context.Background(), "stable vitamin C")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is the formulation service running")
}

func TestAPIClient_HistoryList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/history", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(datatypes.HistoryListResponse{
			Success: true,
			Total:   1,
			Data: []datatypes.HistoryEntry{{
				ID:        "entry-1",
				UserID:    "alice",
				CreatedAt: time.Now(),
				RawPrompt: "stable vitamin C",
			}},
		})
	}))
	defer server.Close()

	client := newAPIClient(server.URL, "alice")
	entries, err := client.HistoryList(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-1", entries[0].ID)
}

func TestAPIClient_HistoryGet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer server.Close()

	client := newAPIClient(server.URL, "alice")
	_, err := client.HistoryGet(context.Background(), "missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history entry missing-id")
}

func TestAPIClient_HistoryDelete(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(datatypes.HistoryDeleteResponse{Success: true})
	}))
	defer server.Close()

	client := newAPIClient(server.URL, "alice")
	require.NoError(t, client.HistoryDelete(context.Background(), "entry-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/history/entry-1", gotPath)
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "searching the ingredient corpus", stageLabel("retrieving"))
	assert.Equal(t, "composing the formulation", stageLabel("synthesizing"))
	// Unknown stages pass through so new server stages still display.
	assert.Equal(t, "verifying", stageLabel("verifying"))
}
