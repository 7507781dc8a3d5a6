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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider installs the global OTel meter provider, bridging
// instrument readings (model token usage) into the given Prometheus
// registry so they appear on /metrics alongside the native collectors.
// With debugStdout set, readings are additionally dumped to stdout
// once a minute for collectorless debugging.
//
// Returns a shutdown function that flushes pending readings.
func InitMeterProvider(registerer prometheus.Registerer, debugStdout bool, logger *slog.Logger) (func(context.Context), error) {
	bridge, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("init prometheus metric bridge: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(bridge)}
	if debugStdout {
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("init stdout metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(time.Minute))))
		logger.Info("stdout metric dump enabled")
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("meter provider shutdown failed", "error", err)
		}
	}, nil
}
