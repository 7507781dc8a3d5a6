// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Token usage instruments. Registered against the global meter
// provider, so they stay no-ops until the service installs one.
var (
	usageOnce        sync.Once
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	modelRequests    metric.Int64Counter
)

func usageInstruments() (metric.Int64Counter, metric.Int64Counter, metric.Int64Counter) {
	usageOnce.Do(func() {
		meter := otel.Meter("github.com/AleutianAI/FormulaFOSS/services/llm")
		promptTokens, _ = meter.Int64Counter("gen_ai.usage.input_tokens",
			metric.WithDescription("Prompt tokens consumed by model calls."),
			metric.WithUnit("{token}"))
		completionTokens, _ = meter.Int64Counter("gen_ai.usage.output_tokens",
			metric.WithDescription("Completion tokens produced by model calls."),
			metric.WithUnit("{token}"))
		modelRequests, _ = meter.Int64Counter("gen_ai.client.requests",
			metric.WithDescription("Model API calls that returned a response."))
	})
	return promptTokens, completionTokens, modelRequests
}

// recordUsage accounts one successful model call. Token counts of zero
// are still recorded so the request counter stays accurate.
func recordUsage(ctx context.Context, model, operation string, prompt, completion int) {
	in, out, reqs := usageInstruments()
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	in.Add(ctx, int64(prompt), attrs)
	out.Add(ctx, int64(completion), attrs)
	reqs.Add(ctx, 1, attrs)
}
