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
	"sort"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
)

// ErrEmptyFormulation is returned when synthesis produced neither a
// hero nor any alternative. The run still completed; there is just
// nothing to report or persist.
var ErrEmptyFormulation = errors.New("no viable formulation found")

// synthesizedCandidate is the wire schema for one compound suggestion.
// The hero-only fields are ignored on alternatives.
type synthesizedCandidate struct {
	Name               string            `json:"name"`
	SourceIngredientID string            `json:"source_ingredient_id"`
	Formula            string            `json:"formula"`
	StructuralNotation string            `json:"structural_notation"`
	Justification      string            `json:"justification"`
	Properties         map[string]string `json:"properties"`
	Pros               []string          `json:"pros"`
	Cons               []string          `json:"cons"`
	PriceRange         string            `json:"price_range"`
	Availability       string            `json:"availability"`

	Dosage            string   `json:"dosage"`
	Contraindications []string `json:"contraindications"`
	SafetyNotes       string   `json:"safety_notes"`
	UsageGuidelines   string   `json:"usage_guidelines"`
}

// synthesisResponse is the wire schema the synthesis step must produce.
type synthesisResponse struct {
	Hero            *synthesizedCandidate  `json:"hero"`
	Alternatives    []synthesizedCandidate `json:"alternatives"`
	ConfidenceScore float64                `json:"confidence_score"`
}

// Synthesizer runs the final stage: one model call composing the hero
// compound and ranked alternatives out of the assessed candidates.
type Synthesizer struct {
	invoker *invoker.Invoker
	logger  *slog.Logger
}

// NewSynthesizer wires the synthesis stage onto the shared invoker.
func NewSynthesizer(inv *invoker.Invoker, logger *slog.Logger) (*Synthesizer, error) {
	if inv == nil {
		return nil, errors.New("invoker must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		invoker: inv,
		logger:  logger.With(slog.String("component", "synthesizer")),
	}, nil
}

// Synthesize composes the formulation result. An empty candidate set
// is allowed; the model then works from general knowledge, which the
// justification must make clear. strict requests schema-only output on
// the re-prompt after an out-of-contract response.
//
// Post-processing enforces what the prompt can only ask for:
//   - A hero whose assessment sets a non-positive concentration
//     ceiling is demoted to the front of the alternatives.
//   - An alternative assessed as incompatible with the hero stays in
//     the list, and the hero gains a contraindication naming it.
//   - Optional fields are normalized to the unavailable sentinel.
//
// Returns ErrEmptyFormulation when nothing usable came back.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt string,
	candidates []datatypes.IngredientCandidate,
	assessments []datatypes.SafetyAssessment, strict bool) (*datatypes.FormulationResult, error) {

	userPrompt, err := buildSynthesisPrompt(prompt, candidates, assessments, strict)
	if err != nil {
		return nil, err
	}

	var resp synthesisResponse
	temp := float32(0.3)
	err = s.invoker.InvokeJSON(ctx, StepSynthesis, synthesisSystemPrompt, userPrompt,
		llm.GenerationParams{Temperature: &temp}, &resp)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]datatypes.SafetyAssessment, len(assessments))
	for _, a := range assessments {
		byID[a.IngredientID] = a
	}

	var hero *datatypes.Formulation
	heroSource := ""
	if resp.Hero != nil && resp.Hero.Name != "" {
		hero = toFormulation(*resp.Hero)
		heroSource = resp.Hero.SourceIngredientID
	}

	alternatives := make([]datatypes.FormulationCandidate, 0, len(resp.Alternatives))
	altSources := make([]string, 0, len(resp.Alternatives))
	for _, alt := range resp.Alternatives {
		if alt.Name == "" {
			continue
		}
		alternatives = append(alternatives, toCandidate(alt))
		altSources = append(altSources, alt.SourceIngredientID)
	}

	// A hero over its hard safety ceiling cannot lead the result; it
	// is demoted with its reasoning intact.
	if hero != nil {
		if a, ok := byID[heroSource]; ok && hardUnsafe(a) {
			s.logger.Warn("demoting hero over hard safety ceiling",
				"name", hero.Name, "source", heroSource)
			alternatives = append([]datatypes.FormulationCandidate{hero.FormulationCandidate}, alternatives...)
			altSources = append([]string{heroSource}, altSources...)
			hero = nil
			heroSource = ""
		}
	}

	// Incompatibilities between the hero and an alternative become
	// hero contraindications; the alternative stays ranked.
	if hero != nil && heroSource != "" {
		for i, src := range altSources {
			if src == "" || src == heroSource {
				continue
			}
			if incompatible(assessments, heroSource, src) {
				hero.Contraindications = append(hero.Contraindications,
					fmt.Sprintf("Do not combine with %s", alternatives[i].Name))
			}
		}
	}

	if hero == nil && len(alternatives) == 0 {
		return nil, ErrEmptyFormulation
	}

	if hero != nil {
		hero.ApplyDefaults()
	}
	for i := range alternatives {
		alternatives[i].ApplyDefaults()
	}

	return &datatypes.FormulationResult{
		Hero:            hero,
		Recommendations: alternatives,
		ConfidenceScore: clampScore(resp.ConfidenceScore),
		Sources:         collectSources(candidates),
	}, nil
}

// hardUnsafe reports whether an assessment forbids any use at all.
func hardUnsafe(a datatypes.SafetyAssessment) bool {
	return a.MaxSafeConcentration != nil && *a.MaxSafeConcentration <= 0
}

// incompatible reports whether any assessment pairs the two ids.
func incompatible(assessments []datatypes.SafetyAssessment, x, y string) bool {
	for _, a := range assessments {
		for _, p := range a.IncompatiblePairs {
			if p.Matches(x, y) {
				return true
			}
		}
	}
	return false
}

func toCandidate(c synthesizedCandidate) datatypes.FormulationCandidate {
	return datatypes.FormulationCandidate{
		Name:               c.Name,
		Formula:            c.Formula,
		StructuralNotation: c.StructuralNotation,
		Justification:      c.Justification,
		Properties:         c.Properties,
		Pros:               c.Pros,
		Cons:               c.Cons,
		PriceRange:         c.PriceRange,
		Availability:       c.Availability,
	}
}

func toFormulation(c synthesizedCandidate) *datatypes.Formulation {
	return &datatypes.Formulation{
		FormulationCandidate: toCandidate(c),
		Dosage:               c.Dosage,
		Contraindications:    c.Contraindications,
		SafetyNotes:          c.SafetyNotes,
		UsageGuidelines:      c.UsageGuidelines,
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// collectSources returns the sorted union of candidate source tags.
func collectSources(candidates []datatypes.IngredientCandidate) []string {
	seen := map[string]bool{}
	for _, c := range candidates {
		for _, tag := range c.SourceTags {
			seen[tag] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	sources := make([]string, 0, len(seen))
	for tag := range seen {
		sources = append(sources, tag)
	}
	sort.Strings(sources)
	return sources
}
