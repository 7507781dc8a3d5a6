// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastInvoker keeps retry backoffs in the millisecond range so
// negative-path tests stay fast.
func fastInvoker(t *testing.T, client llm.LLMClient) *invoker.Invoker {
	t.Helper()
	inv, err := invoker.New(client, invoker.Config{
		RequestsPerMinute: 6000,
		Burst:             100,
		MaxAttempts:       3,
		AttemptTimeout:    time.Second,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		JitterFactor:      0.25,
		Logger:            quietLogger(),
	})
	require.NoError(t, err)
	return inv
}

// stubCorpus returns fixed records so retrieval is fully predictable.
type stubCorpus struct {
	records []corpus.Record
	err     error
}

func (s *stubCorpus) Query(context.Context, string, int) ([]corpus.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]corpus.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *stubCorpus) Ready(context.Context) error { return s.err }

func vitaminCRecords() []corpus.Record {
	return []corpus.Record{
		{ID: "asc-002", Name: "3-O-Ethyl Ascorbic Acid",
			Description: "Stable water-soluble vitamin C derivative",
			SourceTags:  []string{"cosmetic_db"}, Score: 0.92},
		{ID: "asc-001", Name: "Ascorbic Acid",
			Description: "Water-soluble vitamin C with poor stability",
			SourceTags:  []string{"cosmetic_db", "inci"}, Score: 0.81},
		{ID: "ret-001", Name: "Retinol",
			Description: "Fat-soluble vitamin A",
			SourceTags:  []string{"cosmetic_db"}, Score: 0.34},
	}
}

// =============================================================================
// Retriever
// =============================================================================

func TestRetriever_MapsRecordsToCandidates(t *testing.T) {
	r, err := NewRetriever(&stubCorpus{records: vitaminCRecords()}, 0, 0, quietLogger())
	require.NoError(t, err)

	candidates, err := r.Retrieve(context.Background(), "stable vitamin c")
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "3-O-Ethyl Ascorbic Acid", candidates[0].Name)
	assert.Equal(t, "asc-002", candidates[0].Identifier)
	assert.Equal(t, 0.92, candidates[0].RelevanceScore)
	assert.Equal(t, []string{"cosmetic_db"}, candidates[0].SourceTags)
}

func TestRetriever_IdentifierPrefersStructuralNotation(t *testing.T) {
	records := []corpus.Record{
		{ID: "nia-001", Name: "Niacinamide", SMILES: "NC(=O)c1cccnc1", Score: 0.9},
	}
	r, err := NewRetriever(&stubCorpus{records: records}, 0, 0, quietLogger())
	require.NoError(t, err)

	candidates, err := r.Retrieve(context.Background(), "vitamin b3")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "NC(=O)c1cccnc1", candidates[0].Identifier)
}

func TestRetriever_FiltersBelowMinRelevance(t *testing.T) {
	r, err := NewRetriever(&stubCorpus{records: vitaminCRecords()}, 0, 0.5, quietLogger())
	require.NoError(t, err)

	candidates, err := r.Retrieve(context.Background(), "stable vitamin c")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.RelevanceScore, 0.5)
	}
}

func TestRetriever_RanksDeterministically(t *testing.T) {
	// Unsorted input with a score tie; output must be score-desc with
	// the tie broken by ascending id, every time.
	records := []corpus.Record{
		{ID: "b-2", Name: "B", Score: 0.7},
		{ID: "a-1", Name: "A", Score: 0.7},
		{ID: "c-3", Name: "C", Score: 0.9},
	}
	r, err := NewRetriever(&stubCorpus{records: records}, 0, 0, quietLogger())
	require.NoError(t, err)

	for range 5 {
		candidates, err := r.Retrieve(context.Background(), "anything")
		require.NoError(t, err)
		require.Len(t, candidates, 3)
		assert.Equal(t, "c-3", candidates[0].Identifier)
		assert.Equal(t, "a-1", candidates[1].Identifier)
		assert.Equal(t, "b-2", candidates[2].Identifier)
	}
}

func TestRetriever_PropagatesCorpusError(t *testing.T) {
	r, err := NewRetriever(&stubCorpus{err: corpus.ErrCorpusUnavailable}, 0, 0, quietLogger())
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "anything")
	assert.ErrorIs(t, err, corpus.ErrCorpusUnavailable)
}

// =============================================================================
// Analyst
// =============================================================================

func analysisCandidates() []datatypes.IngredientCandidate {
	return []datatypes.IngredientCandidate{
		{Name: "3-O-Ethyl Ascorbic Acid", Identifier: "asc-002", RelevanceScore: 0.92},
		{Name: "Ascorbic Acid", Identifier: "asc-001", RelevanceScore: 0.81},
		{Name: "Retinol", Identifier: "ret-001", RelevanceScore: 0.34},
	}
}

const validAnalysisJSON = `{
  "assessments": [
    {"ingredient_id": "asc-002", "toxicity_flags": [], "incompatible_with": [], "max_safe_concentration": 5},
    {"ingredient_id": "asc-001", "toxicity_flags": ["irritant_high_dose"], "incompatible_with": ["ret-001"], "max_safe_concentration": 20},
    {"ingredient_id": "ret-001", "toxicity_flags": ["photosensitizer"], "incompatible_with": [], "max_safe_concentration": 0.3}
  ]
}`

func TestAnalyst_MapsAssessments(t *testing.T) {
	client := &llm.MockClient{Responses: []string{validAnalysisJSON}}
	a, err := NewAnalyst(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	assessments, err := a.Analyze(context.Background(), "stable vitamin c", analysisCandidates(), false)
	require.NoError(t, err)
	require.Len(t, assessments, 3)

	// Order follows the candidate list, not the model's.
	assert.Equal(t, "asc-002", assessments[0].IngredientID)
	assert.False(t, assessments[0].Unsafe())
	require.NotNil(t, assessments[0].MaxSafeConcentration)
	assert.Equal(t, 5.0, *assessments[0].MaxSafeConcentration)

	assert.True(t, assessments[1].Unsafe())
	require.Len(t, assessments[1].IncompatiblePairs, 1)
	assert.True(t, assessments[1].IncompatiblePairs[0].Matches("asc-001", "ret-001"))
}

func TestAnalyst_UnknownIngredientFailsRun(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{
		"assessments": [{"ingredient_id": "made-up-001", "toxicity_flags": []}]
	}`}}
	a, err := NewAnalyst(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "stable vitamin c", analysisCandidates(), false)
	assert.ErrorIs(t, err, ErrUnknownIngredient)
	// A grounding breach is terminal: exactly one model call.
	assert.Equal(t, 1, client.Calls())
}

func TestAnalyst_UnknownIncompatibleReferenceFailsRun(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{
		"assessments": [{"ingredient_id": "asc-002", "incompatible_with": ["ghost-001"]}]
	}`}}
	a, err := NewAnalyst(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "stable vitamin c", analysisCandidates(), false)
	assert.ErrorIs(t, err, ErrUnknownIngredient)
}

func TestAnalyst_SkippedCandidateGetsEmptyAssessment(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{
		"assessments": [{"ingredient_id": "asc-002", "max_safe_concentration": 5}]
	}`}}
	a, err := NewAnalyst(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	assessments, err := a.Analyze(context.Background(), "stable vitamin c", analysisCandidates(), false)
	require.NoError(t, err)
	require.Len(t, assessments, 3)
	assert.Equal(t, "asc-001", assessments[1].IngredientID)
	assert.False(t, assessments[1].Unsafe())
	assert.Nil(t, assessments[1].MaxSafeConcentration)
}

func TestAnalyst_NoCandidatesNoCall(t *testing.T) {
	client := &llm.MockClient{}
	a, err := NewAnalyst(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	assessments, err := a.Analyze(context.Background(), "stable vitamin c", nil, false)
	require.NoError(t, err)
	assert.Empty(t, assessments)
	assert.Zero(t, client.Calls())
}

func TestAnalyst_StrictAppendsSchemaReminder(t *testing.T) {
	client := &llm.MockClient{Responses: []string{validAnalysisJSON}}
	a, err := NewAnalyst(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "stable vitamin c", analysisCandidates(), true)
	require.NoError(t, err)
	require.Len(t, client.Prompts(), 1)
	assert.Contains(t, client.Prompts()[0], "did not match the required JSON")
}

// =============================================================================
// Synthesizer
// =============================================================================

const validSynthesisJSON = `{
  "hero": {
    "name": "3-O-Ethyl Ascorbic Acid",
    "source_ingredient_id": "asc-002",
    "formula": "C8H12O6",
    "structural_notation": "CCOC1=C(O)C(=O)OC1C(O)CO",
    "justification": "Etherified vitamin C resists oxidation while staying water-soluble.",
    "properties": {"solubility": "water-soluble"},
    "pros": ["oxidation-stable"],
    "cons": ["higher cost"],
    "price_range": "",
    "availability": "specialty",
    "dosage": "1-2% w/w",
    "contraindications": ["broken skin"],
    "safety_notes": "Patch test recommended",
    "usage_guidelines": ""
  },
  "alternatives": [
    {
      "name": "Magnesium Ascorbyl Phosphate",
      "source_ingredient_id": "asc-001",
      "formula": "C6H6MgO9P",
      "justification": "Gentler salt form; irritation risk at high doses noted.",
      "availability": "common"
    }
  ],
  "confidence_score": 0.82
}`

func TestSynthesizer_MapsResultWithSentinels(t *testing.T) {
	client := &llm.MockClient{Responses: []string{validSynthesisJSON}}
	s, err := NewSynthesizer(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	result, err := s.Synthesize(context.Background(), "stable vitamin c",
		analysisCandidates(), nil, false)
	require.NoError(t, err)

	require.NotNil(t, result.Hero)
	assert.Equal(t, "3-O-Ethyl Ascorbic Acid", result.Hero.Name)
	assert.Equal(t, "C8H12O6", result.Hero.Formula)
	assert.Equal(t, "1-2% w/w", result.Hero.Dosage)
	// Empty optional fields come back as the sentinel, never "".
	assert.Equal(t, datatypes.FieldUnavailable, result.Hero.PriceRange)
	assert.Equal(t, datatypes.FieldUnavailable, result.Hero.UsageGuidelines)

	require.Len(t, result.Recommendations, 1)
	alt := result.Recommendations[0]
	assert.Equal(t, "Magnesium Ascorbyl Phosphate", alt.Name)
	assert.Equal(t, datatypes.FieldUnavailable, alt.StructuralNotation)
	assert.Equal(t, datatypes.FieldUnavailable, alt.PriceRange)

	assert.Equal(t, 0.82, result.ConfidenceScore)
	assert.Equal(t, []string{"cosmetic_db"}, result.Sources)
}

func TestSynthesizer_DemotesHeroOverHardCeiling(t *testing.T) {
	client := &llm.MockClient{Responses: []string{validSynthesisJSON}}
	s, err := NewSynthesizer(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	zero := 0.0
	assessments := []datatypes.SafetyAssessment{
		{IngredientID: "asc-002", ToxicityFlags: []string{"prohibited"}, MaxSafeConcentration: &zero},
	}

	result, err := s.Synthesize(context.Background(), "stable vitamin c",
		analysisCandidates(), assessments, false)
	require.NoError(t, err)

	assert.Nil(t, result.Hero)
	require.Len(t, result.Recommendations, 2)
	// The demoted compound leads the alternatives, reasoning intact.
	assert.Equal(t, "3-O-Ethyl Ascorbic Acid", result.Recommendations[0].Name)
	assert.Equal(t, "Magnesium Ascorbyl Phosphate", result.Recommendations[1].Name)
}

func TestSynthesizer_AnnotatesHeroIncompatibility(t *testing.T) {
	client := &llm.MockClient{Responses: []string{validSynthesisJSON}}
	s, err := NewSynthesizer(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	assessments := []datatypes.SafetyAssessment{
		{IngredientID: "asc-002", IncompatiblePairs: []datatypes.IngredientPair{
			{A: "asc-002", B: "asc-001"},
		}},
	}

	result, err := s.Synthesize(context.Background(), "stable vitamin c",
		analysisCandidates(), assessments, false)
	require.NoError(t, err)

	require.NotNil(t, result.Hero)
	assert.Contains(t, result.Hero.Contraindications, "broken skin")
	assert.Contains(t, result.Hero.Contraindications, "Do not combine with Magnesium Ascorbyl Phosphate")
	// The incompatible alternative stays ranked.
	require.Len(t, result.Recommendations, 1)
}

func TestSynthesizer_EmptyFormulation(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{"hero": null, "alternatives": [], "confidence_score": 0}`}}
	s, err := NewSynthesizer(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "impossible effect", nil, nil, false)
	assert.ErrorIs(t, err, ErrEmptyFormulation)
}

func TestSynthesizer_ClampsConfidence(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{
		"hero": {"name": "X", "justification": "j"},
		"alternatives": [],
		"confidence_score": 1.4
	}`}}
	s, err := NewSynthesizer(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	result, err := s.Synthesize(context.Background(), "anything", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.ConfidenceScore)
}

func TestSynthesizer_DropsNamelessAlternatives(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{
		"hero": {"name": "X", "justification": "j"},
		"alternatives": [{"name": "", "justification": "ghost"}],
		"confidence_score": 0.5
	}`}}
	s, err := NewSynthesizer(fastInvoker(t, client), quietLogger())
	require.NoError(t, err)

	result, err := s.Synthesize(context.Background(), "anything", nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, result.Recommendations)
}

func TestRetryOnce_ModelOutputInvalidGetsStrictRetry(t *testing.T) {
	calls := 0
	var strictSeen bool
	_, err := retryOnce(context.Background(), func(strict bool) (int, error) {
		calls++
		if calls == 1 {
			return 0, &invoker.ModelOutputInvalidError{Step: StepSynthesis, Detail: "garbage"}
		}
		strictSeen = strict
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, strictSeen)
}

func TestRetryOnce_OtherErrorsNotRetried(t *testing.T) {
	calls := 0
	_, err := retryOnce(context.Background(), func(bool) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
