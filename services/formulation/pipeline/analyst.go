// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
)

// ErrUnknownIngredient is returned when the analysis references an
// ingredient outside the candidate set. A grounding breach is never
// retried; the run fails so fabricated safety data cannot reach the
// result.
var ErrUnknownIngredient = errors.New("analysis referenced an ingredient outside the candidate set")

// analysisResponse is the wire schema the analysis step must produce.
type analysisResponse struct {
	Assessments []struct {
		IngredientID         string   `json:"ingredient_id"`
		ToxicityFlags        []string `json:"toxicity_flags"`
		IncompatibleWith     []string `json:"incompatible_with"`
		MaxSafeConcentration *float64 `json:"max_safe_concentration"`
	} `json:"assessments"`
}

// Analyst runs the safety-analysis stage: one model call assessing
// every candidate, validated against the candidate set before any of
// it is trusted.
type Analyst struct {
	invoker *invoker.Invoker
	logger  *slog.Logger
}

// NewAnalyst wires the analysis stage onto the shared invoker.
func NewAnalyst(inv *invoker.Invoker, logger *slog.Logger) (*Analyst, error) {
	if inv == nil {
		return nil, errors.New("invoker must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyst{
		invoker: inv,
		logger:  logger.With(slog.String("component", "analyst")),
	}, nil
}

// Analyze assesses every candidate. strict requests schema-only output
// and is set on the re-prompt after an out-of-contract response.
//
// Exactly one assessment per candidate comes back; a candidate the
// model skipped gets a conservative empty assessment rather than
// failing the run. Any reference to an id outside the candidate set
// fails with ErrUnknownIngredient.
func (a *Analyst) Analyze(ctx context.Context, prompt string,
	candidates []datatypes.IngredientCandidate, strict bool) ([]datatypes.SafetyAssessment, error) {

	if len(candidates) == 0 {
		return nil, nil
	}

	userPrompt, err := buildAnalysisPrompt(prompt, candidates, strict)
	if err != nil {
		return nil, err
	}

	var resp analysisResponse
	temp := float32(0.1)
	err = a.invoker.InvokeJSON(ctx, StepAnalysis, analysisSystemPrompt, userPrompt,
		llm.GenerationParams{Temperature: &temp}, &resp)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.Identifier] = true
	}

	byID := make(map[string]datatypes.SafetyAssessment, len(resp.Assessments))
	for _, raw := range resp.Assessments {
		if !known[raw.IngredientID] {
			a.logger.Error("analysis referenced unknown ingredient",
				"ingredient_id", raw.IngredientID)
			return nil, fmt.Errorf("%w: %q", ErrUnknownIngredient, raw.IngredientID)
		}

		assessment := datatypes.SafetyAssessment{
			IngredientID:         raw.IngredientID,
			ToxicityFlags:        raw.ToxicityFlags,
			MaxSafeConcentration: raw.MaxSafeConcentration,
		}
		for _, other := range raw.IncompatibleWith {
			if !known[other] {
				a.logger.Error("analysis referenced unknown ingredient",
					"ingredient_id", other)
				return nil, fmt.Errorf("%w: %q", ErrUnknownIngredient, other)
			}
			assessment.IncompatiblePairs = append(assessment.IncompatiblePairs,
				datatypes.IngredientPair{A: raw.IngredientID, B: other})
		}
		byID[raw.IngredientID] = assessment
	}

	// Candidate order drives assessment order so output is stable.
	assessments := make([]datatypes.SafetyAssessment, 0, len(candidates))
	for _, c := range candidates {
		if got, ok := byID[c.Identifier]; ok {
			assessments = append(assessments, got)
			continue
		}
		a.logger.Warn("analysis skipped a candidate, recording empty assessment",
			"ingredient_id", c.Identifier)
		assessments = append(assessments, datatypes.SafetyAssessment{
			IngredientID: c.Identifier,
		})
	}
	return assessments, nil
}
