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
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the formulation service's listen port.
const DefaultPort = 12230

// Config is the service configuration, loaded from an optional YAML
// file and overridden by environment variables. Env wins over file so
// container deployments need no file at all.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`

	History struct {
		Path       string        `yaml:"path"`
		GCInterval time.Duration `yaml:"gc_interval"`
	} `yaml:"history"`

	Corpus struct {
		// WeaviateURL enables the vector backend. Empty runs on the
		// local CSV corpus alone.
		WeaviateURL string `yaml:"weaviate_url"`

		// CSVPath feeds the local keyword fallback. Empty disables it.
		CSVPath string `yaml:"csv_path"`
	} `yaml:"corpus"`

	Invoker struct {
		RequestsPerMinute int           `yaml:"requests_per_minute"`
		Burst             int           `yaml:"burst"`
		MaxAttempts       int           `yaml:"max_attempts"`
		AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	} `yaml:"invoker"`

	Pipeline struct {
		RunTimeout    time.Duration `yaml:"run_timeout"`
		MaxCandidates int           `yaml:"max_candidates"`
		MinRelevance  float64       `yaml:"min_relevance"`
	} `yaml:"pipeline"`

	Telemetry struct {
		InfluxURL    string `yaml:"influx_url"`
		InfluxToken  string `yaml:"influx_token"`
		InfluxOrg    string `yaml:"influx_org"`
		InfluxBucket string `yaml:"influx_bucket"`
	} `yaml:"telemetry"`
}

// LoadConfig reads the YAML file at path when it exists, then applies
// env overrides and defaults. An empty path skips the file entirely.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FORMULATION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("HISTORY_DB_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		c.Corpus.WeaviateURL = v
	}
	if v := os.Getenv("CORPUS_CSV_PATH"); v != "" {
		c.Corpus.CSVPath = v
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		c.Telemetry.InfluxURL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Telemetry.InfluxToken = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		c.Telemetry.InfluxOrg = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		c.Telemetry.InfluxBucket = v
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.History.Path == "" {
		c.History.Path = "./data/history"
	}
	if c.History.GCInterval == 0 {
		c.History.GCInterval = 5 * time.Minute
	}
	if c.Pipeline.RunTimeout == 0 {
		c.Pipeline.RunTimeout = 5 * time.Minute
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.History.Path == "" {
		return errors.New("history path must not be empty")
	}
	if c.Pipeline.MinRelevance < 0 || c.Pipeline.MinRelevance > 1 {
		return errors.New("pipeline min_relevance must be in [0,1]")
	}
	return nil
}

// telemetryConfigured reports whether all InfluxDB settings are set.
func (c *Config) telemetryConfigured() bool {
	return c.Telemetry.InfluxURL != "" &&
		c.Telemetry.InfluxToken != "" &&
		c.Telemetry.InfluxOrg != "" &&
		c.Telemetry.InfluxBucket != ""
}
