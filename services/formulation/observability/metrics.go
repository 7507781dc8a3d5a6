// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics and optional
// InfluxDB run telemetry for the formulation service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	metricsSubsystem = "formulation"
)

// Metrics holds the service's Prometheus collectors. It satisfies
// both the pipeline's RunObserver and the invoker's QuotaObserver.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	QuotaWait     *prometheus.HistogramVec
	RetriesTotal  *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
}

// NewMetrics registers the collectors on the given registerer. Tests
// pass a fresh prometheus.NewRegistry so parallel tests never collide
// on registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration per pipeline stage.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),

		QuotaWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "quota_wait_seconds",
			Help:      "Time model calls spent waiting on the shared quota gate.",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"step"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "retries_total",
			Help:      "Model call retries by step and cause.",
		}, []string{"step", "reason"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Run errors by stage and error code.",
		}, []string{"stage", "code"}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_runs",
			Help:      "Pipeline runs currently in flight.",
		}),
	}
}

// RunStarted implements pipeline.RunObserver.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished implements pipeline.RunObserver.
func (m *Metrics) RunFinished(outcome string) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStageDuration implements pipeline.RunObserver.
func (m *Metrics) ObserveStageDuration(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordError implements pipeline.RunObserver.
func (m *Metrics) RecordError(stage, code string) {
	m.ErrorsTotal.WithLabelValues(stage, code).Inc()
}

// ObserveQuotaWait implements invoker.QuotaObserver.
func (m *Metrics) ObserveQuotaWait(step string, wait time.Duration) {
	m.QuotaWait.WithLabelValues(step).Observe(wait.Seconds())
}

// ObserveRetry implements invoker.QuotaObserver.
func (m *Metrics) ObserveRetry(step, reason string) {
	m.RetriesTotal.WithLabelValues(step, reason).Inc()
}
