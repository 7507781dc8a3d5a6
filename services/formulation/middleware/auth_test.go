// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func resolveFor(t *testing.T, header string) string {
	t.Helper()
	var resolved string

	router := gin.New()
	router.Use(ResolveUser())
	router.GET("/probe", func(c *gin.Context) {
		resolved = GetUserID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if header != "" {
		req.Header.Set(UserHeader, header)
	}
	router.ServeHTTP(httptest.NewRecorder(), req)
	return resolved
}

func TestResolveUser_Header(t *testing.T) {
	assert.Equal(t, "alice", resolveFor(t, "alice"))
}

func TestResolveUser_DefaultWhenAbsent(t *testing.T) {
	assert.Equal(t, DefaultUserID, resolveFor(t, ""))
}

func TestResolveUser_WhitespaceTreatedAsAbsent(t *testing.T) {
	assert.Equal(t, DefaultUserID, resolveFor(t, "   "))
}

func TestGetUserID_WithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, DefaultUserID, GetUserID(c))
}
