// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	// Unknown names fall back to info instead of failing
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test-service",
		Quiet:   true,
	})
	logger.Info("hello from test", "key", "value")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "test-service_"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".log"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	// File logs are JSON lines
	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "hello from test", record["msg"])
	assert.Equal(t, "value", record["key"])
	assert.Equal(t, "test-service", record["service"])
}

func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter-test",
		Quiet:   true,
	})
	logger.Debug("should be filtered")
	logger.Info("should also be filtered")
	logger.Warn("should appear")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	content := string(data)
	assert.NotContains(t, content, "should be filtered")
	assert.Contains(t, content, "should appear")
}

func TestWith_AddsAttributes(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		LogDir:  dir,
		Service: "with-test",
		Quiet:   true,
	})
	child := logger.With("run_id", "abc123")
	child.Info("child message")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "abc123", record["run_id"])
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestDefault_DoesNotPanic(t *testing.T) {
	logger := Default()
	logger.Info("default logger works")
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".formulate/logs"), expandPath("~/.formulate/logs"))
	assert.Equal(t, "/var/log/formulate", expandPath("/var/log/formulate"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}
