// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// RunRecorder ships per-run summaries to InfluxDB for long-horizon
// analysis (model drift, cost tracking). Writes are buffered and
// asynchronous; a down telemetry backend never slows a run.
type RunRecorder struct {
	client influxdb2.Client
	write  api.WriteAPI
	logger *slog.Logger
	done   chan struct{}
}

// NewRunRecorder connects the recorder. All parameters are required;
// callers that run without telemetry simply skip construction and
// leave the orchestrator's sink unset.
func NewRunRecorder(url, token, org, bucket string, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "run_telemetry"))

	client := influxdb2.NewClient(url, token)
	write := client.WriteAPI(org, bucket)

	r := &RunRecorder{
		client: client,
		write:  write,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.drainErrors()
	return r
}

// RecordRun implements pipeline.RunTelemetry. Non-blocking.
func (r *RunRecorder) RecordRun(stats pipeline.RunStats) {
	point := influxdb2.NewPoint(
		"formulation_run",
		map[string]string{
			"outcome": stats.Outcome,
		},
		map[string]any{
			"duration_ms":  stats.Duration.Milliseconds(),
			"candidates":   stats.CandidateCount,
			"alternatives": stats.Alternatives,
			"hero_found":   stats.HeroFound,
			"confidence":   stats.Confidence,
		},
		time.Now(),
	)
	r.write.WritePoint(point)
}

// Close flushes buffered points and releases the client.
func (r *RunRecorder) Close() {
	r.write.Flush()
	r.client.Close()
	<-r.done
}

// drainErrors logs asynchronous write failures. The channel closes
// when the client does.
func (r *RunRecorder) drainErrors() {
	defer close(r.done)
	for err := range r.write.Errors() {
		r.logger.Warn("telemetry write failed", "error", err)
	}
}
