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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/middleware"
	"github.com/gorilla/websocket"
)

// apiClient is the thin HTTP/websocket client for the formulation
// service. Every request carries the configured user identity.
type apiClient struct {
	baseURL string
	user    string
	http    *http.Client
}

func newAPIClient(baseURL, user string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		// Runs can legitimately take minutes; the service enforces its
		// own run timeout.
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(middleware.UserHeader, c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("is the formulation service running at %s? %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Analyze submits a prompt and waits for the completed run.
func (c *apiClient) Analyze(ctx context.Context, prompt string) (*datatypes.AnalyzeResponse, error) {
	var resp datatypes.AnalyzeResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/analyze",
		datatypes.AnalyzeRequest{Prompt: prompt}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.RetryAfterSeconds > 0 {
			return nil, fmt.Errorf("%s (retry in %ds)", resp.Message, resp.RetryAfterSeconds)
		}
		return nil, fmt.Errorf("analyze failed (%d): %s", status, resp.Message)
	}
	return &resp, nil
}

// AnalyzeStream submits a prompt over the websocket and reports stage
// transitions through onStage until the terminal event arrives.
func (c *apiClient) AnalyzeStream(ctx context.Context, prompt string, onStage func(stage string)) (*datatypes.StreamEvent, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/analyze/stream"

	header := http.Header{}
	if c.user != "" {
		header.Set(middleware.UserHeader, c.user)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("is the formulation service running at %s? %w", c.baseURL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(datatypes.AnalyzeRequest{Prompt: prompt}); err != nil {
		return nil, err
	}

	for {
		var event datatypes.StreamEvent
		if err := conn.ReadJSON(&event); err != nil {
			return nil, fmt.Errorf("stream ended unexpectedly: %w", err)
		}
		switch event.Type {
		case "stage":
			if onStage != nil {
				onStage(event.Stage)
			}
		case "result":
			return &event, nil
		case "error":
			return nil, fmt.Errorf("%s", event.Message)
		}
	}
}

// HistoryList fetches the caller's entries, newest first.
func (c *apiClient) HistoryList(ctx context.Context, limit int) ([]datatypes.HistoryEntry, error) {
	path := "/v1/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp datatypes.HistoryListResponse
	status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("history list failed (%d)", status)
	}
	return resp.Data, nil
}

// HistoryGet fetches one entry by id.
func (c *apiClient) HistoryGet(ctx context.Context, id string) (*datatypes.HistoryEntry, error) {
	var resp struct {
		Success bool                    `json:"success"`
		Data    *datatypes.HistoryEntry `json:"data"`
		Message string                  `json:"message"`
	}
	status, err := c.do(ctx, http.MethodGet, "/v1/history/"+id, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("no history entry %s", id)
	}
	if !resp.Success || resp.Data == nil {
		return nil, fmt.Errorf("history get failed (%d): %s", status, resp.Message)
	}
	return resp.Data, nil
}

// HistoryDelete removes one entry by id.
func (c *apiClient) HistoryDelete(ctx context.Context, id string) error {
	var resp datatypes.HistoryDeleteResponse
	status, err := c.do(ctx, http.MethodDelete, "/v1/history/"+id, nil, &resp)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("no history entry %s", id)
	}
	if !resp.Success {
		return fmt.Errorf("history delete failed (%d): %s", status, resp.Message)
	}
	return nil
}
