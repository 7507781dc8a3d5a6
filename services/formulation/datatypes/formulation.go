// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the formulation service.
//
// This file contains the core domain model: ingredient candidates produced
// by retrieval, safety assessments produced by analysis, and the synthesized
// formulation result that is returned to callers and persisted to history.
package datatypes

import (
	"time"
)

// FieldUnavailable is the sentinel for optional result fields the model did
// not supply. Consumers always see a stable shape; absent keys never occur.
const FieldUnavailable = "unavailable"

// =============================================================================
// Pipeline Input
// =============================================================================

// AnalysisRequest is the immutable input to one pipeline run.
//
// Created when a request is accepted, discarded when the run completes.
// Only the derived HistoryEntry outlives the run.
type AnalysisRequest struct {
	// Prompt is the free-text effect description, e.g.
	// "Stable water-soluble Vitamin C derivative".
	Prompt string `json:"prompt"`

	// UserID is the resolved owner of the run. Supplied by the auth
	// middleware, never by the request body.
	UserID string `json:"user_id"`

	// SubmittedAt is when the request was accepted.
	SubmittedAt time.Time `json:"submitted_at"`
}

// =============================================================================
// Retrieval Output
// =============================================================================

// IngredientCandidate is one corpus match for a prompt.
//
// Candidates are read-only once produced; the analysis and synthesis stages
// consume them but never modify them.
type IngredientCandidate struct {
	// Name is the common ingredient name, e.g. "Ascorbic Acid".
	Name string `json:"name"`

	// Identifier is the stable corpus identifier. For chemical compounds
	// this is the SMILES notation when known, otherwise the corpus row id.
	// Used as the ranking tie-breaker so retrieval output is reproducible.
	Identifier string `json:"identifier"`

	// RelevanceScore is the retrieval confidence in [0,1], higher is better.
	RelevanceScore float64 `json:"relevance_score"`

	// SourceTags describe where the corpus record came from,
	// e.g. ["cosmetic_db", "inci"].
	SourceTags []string `json:"source_tags,omitempty"`
}

// =============================================================================
// Analysis Output
// =============================================================================

// IngredientPair is an unordered pair of ingredient identifiers.
type IngredientPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Matches reports whether the pair connects x and y in either order.
func (p IngredientPair) Matches(x, y string) bool {
	return (p.A == x && p.B == y) || (p.A == y && p.B == x)
}

// Involves reports whether the pair references the given ingredient id.
func (p IngredientPair) Involves(id string) bool {
	return p.A == id || p.B == id
}

// SafetyAssessment is the per-candidate verdict from the safety analysis
// stage. Flagged candidates are annotated here, never dropped; exclusion is
// decided during synthesis so the reasoning stays visible in the result.
type SafetyAssessment struct {
	// IngredientID references IngredientCandidate.Identifier.
	IngredientID string `json:"ingredient_id"`

	// ToxicityFlags are categorical concerns, e.g. "irritant_high_dose",
	// "photosensitizer". Empty means no flags raised.
	ToxicityFlags []string `json:"toxicity_flags,omitempty"`

	// IncompatiblePairs lists ingredient combinations that must not be
	// formulated together. Pairs are unordered.
	IncompatiblePairs []IngredientPair `json:"incompatible_pairs,omitempty"`

	// MaxSafeConcentration is the ceiling in percent w/w, or nil when the
	// model could not state one.
	MaxSafeConcentration *float64 `json:"max_safe_concentration,omitempty"`
}

// Unsafe reports whether the assessment carries any toxicity flags.
func (a SafetyAssessment) Unsafe() bool {
	return len(a.ToxicityFlags) > 0
}

// =============================================================================
// Synthesis Output
// =============================================================================

// FormulationCandidate is one synthesized compound suggestion. Zero or more
// per run form the "alternatives" set.
type FormulationCandidate struct {
	// Name is the compound name, e.g. "3-O-Ethyl Ascorbic Acid".
	Name string `json:"name"`

	// Formula is the molecular formula, e.g. "C11H18O6".
	Formula string `json:"formula"`

	// StructuralNotation is the SMILES string when available.
	StructuralNotation string `json:"structural_notation"`

	// Justification explains why this compound fits the requested effect,
	// including the safety reasoning from the analysis stage.
	Justification string `json:"justification"`

	// Properties maps property names to display values,
	// e.g. "solubility" -> "water-soluble".
	Properties map[string]string `json:"properties,omitempty"`

	Pros []string `json:"pros,omitempty"`
	Cons []string `json:"cons,omitempty"`

	// PriceRange is an indicative market range, e.g. "$40-80/kg".
	PriceRange string `json:"price_range"`

	// Availability is one of "common", "specialty", "rare", or the
	// unavailable sentinel.
	Availability string `json:"availability"`
}

// ApplyDefaults replaces empty optional fields with the unavailable sentinel
// so downstream consumers always see a stable shape.
func (c *FormulationCandidate) ApplyDefaults() {
	if c.StructuralNotation == "" {
		c.StructuralNotation = FieldUnavailable
	}
	if c.PriceRange == "" {
		c.PriceRange = FieldUnavailable
	}
	if c.Availability == "" {
		c.Availability = FieldUnavailable
	}
}

// Formulation is the hero compound: a FormulationCandidate extended with the
// usage fields only the primary recommendation carries.
type Formulation struct {
	FormulationCandidate

	// Dosage is the recommended use concentration, e.g. "2-5% w/w".
	Dosage string `json:"dosage"`

	// Contraindications lists conditions under which the compound must not
	// be used. Order is preserved as produced by synthesis.
	Contraindications []string `json:"contraindications,omitempty"`

	SafetyNotes     string `json:"safety_notes"`
	UsageGuidelines string `json:"usage_guidelines"`
}

// ApplyDefaults fills sentinel values for the hero-specific optional fields
// in addition to the shared candidate fields.
func (f *Formulation) ApplyDefaults() {
	f.FormulationCandidate.ApplyDefaults()
	if f.Dosage == "" {
		f.Dosage = FieldUnavailable
	}
	if f.SafetyNotes == "" {
		f.SafetyNotes = FieldUnavailable
	}
	if f.UsageGuidelines == "" {
		f.UsageGuidelines = FieldUnavailable
	}
}

// =============================================================================
// Persisted Result
// =============================================================================

// FormulationResult is the display-ready payload of one completed run.
//
// Hero is nil for a completed run that found no viable primary compound;
// callers distinguish that outcome from failure by the response envelope,
// not by probing for missing keys.
type FormulationResult struct {
	Hero            *Formulation           `json:"hero"`
	Recommendations []FormulationCandidate `json:"recommendations"`

	// ConfidenceScore is the synthesis stage's self-reported confidence
	// in [0,1]. Zero when the model did not supply one.
	ConfidenceScore float64 `json:"confidence_score"`

	// Sources lists the corpus source tags that contributed candidates.
	Sources []string `json:"sources,omitempty"`
}

// HistoryEntry is the durable, user-scoped record of one completed run.
//
// The entry is written exactly once, atomically with result reporting, and
// is never mutated afterward. UserID is fixed at creation; every read and
// delete is scoped to it.
type HistoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	Hero            *Formulation           `json:"hero"`
	Alternatives    []FormulationCandidate `json:"alternatives"`
	ConfidenceScore float64                `json:"confidence_score"`
	Sources         []string               `json:"sources,omitempty"`

	// RawPrompt echoes the submitted prompt for audit display.
	RawPrompt string `json:"raw_prompt,omitempty"`
}

// Result projects the entry back into its display payload.
func (e *HistoryEntry) Result() FormulationResult {
	return FormulationResult{
		Hero:            e.Hero,
		Recommendations: e.Alternatives,
		ConfidenceScore: e.ConfidenceScore,
		Sources:         e.Sources,
	}
}
