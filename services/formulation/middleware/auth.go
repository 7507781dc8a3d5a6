// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides request middleware for the formulation
// service.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserHeader carries the caller identity in single-tenant and
	// reverse-proxy deployments. The body never carries identity.
	UserHeader = "X-Aleutian-User"

	// DefaultUserID is the identity assumed when no header is present,
	// matching the local single-user deployment mode.
	DefaultUserID = "local-user"

	contextUserKey = "resolved_user_id"
)

// ResolveUser resolves the caller's user id before any handler runs.
// Handlers and the pipeline trust the resolved id; nothing downstream
// re-reads the header.
func ResolveUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			userID = DefaultUserID
		}
		c.Set(contextUserKey, userID)
		c.Next()
	}
}

// GetUserID returns the resolved user id for the request. Falls back
// to DefaultUserID if ResolveUser did not run, so history scoping
// never sees an empty owner.
func GetUserID(c *gin.Context) string {
	if v, ok := c.Get(contextUserKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return DefaultUserID
}
