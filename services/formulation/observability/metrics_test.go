// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RunLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))

	m.RunFinished("completed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
}

func TestMetrics_ObserverCallbacks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRetry("safety_analysis", "rate_limited")
	m.ObserveRetry("safety_analysis", "rate_limited")
	m.RecordError("synthesizing", "model_output_invalid")
	m.ObserveQuotaWait("formulation_synthesis", 50*time.Millisecond)
	m.ObserveStageDuration("retrieving", 10*time.Millisecond)

	assert.Equal(t, 2.0,
		testutil.ToFloat64(m.RetriesTotal.WithLabelValues("safety_analysis", "rate_limited")))
	assert.Equal(t, 1.0,
		testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("synthesizing", "model_output_invalid")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances on separate registries must not panic on
	// duplicate registration.
	require.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
