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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
)

// Step names, used for invoker calls and error reporting.
const (
	StepAnalysis  = "safety_analysis"
	StepSynthesis = "formulation_synthesis"
)

const analysisSystemPrompt = `You are a cosmetic and pharmaceutical safety analyst.
You evaluate candidate ingredients for a requested effect and report
toxicity concerns, pairwise incompatibilities, and concentration
ceilings. You only reference ingredients from the provided candidate
list, by their exact ingredient_id. You respond with a single JSON
object and nothing else.`

const synthesisSystemPrompt = `You are a cosmetic and pharmaceutical formulation chemist.
You compose one primary (hero) compound recommendation and ranked
alternatives from the provided candidates and their safety
assessments. Unsafe candidates may only appear with their risks
spelled out in the justification. You respond with a single JSON
object and nothing else.`

// strictSchemaReminder is appended on the retry after an
// out-of-contract response. The re-prompt is step-scoped: only the
// failing step pays for the second call.
const strictSchemaReminder = `

IMPORTANT: your previous response did not match the required JSON
schema. Respond with ONLY the JSON object described above. No prose,
no markdown fences, no additional keys.`

// buildAnalysisPrompt renders the candidate list into the analysis
// request. Candidates are serialized as JSON so ids survive verbatim.
func buildAnalysisPrompt(prompt string, candidates []datatypes.IngredientCandidate, strict bool) (string, error) {
	candidateJSON, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidates: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Requested effect:\n%s\n\n", prompt)
	fmt.Fprintf(&b, "Candidate ingredients:\n%s\n\n", candidateJSON)
	b.WriteString(`Assess every candidate. Respond with JSON of this exact shape:
{
  "assessments": [
    {
      "ingredient_id": "<identifier from the candidate list>",
      "toxicity_flags": ["<categorical concern>", ...],
      "incompatible_with": ["<identifier of a conflicting candidate>", ...],
      "max_safe_concentration": <number in percent w/w, or null if unknown>
    }
  ]
}
Rules:
- Include exactly one assessment object per candidate.
- Never invent an ingredient_id that is not in the candidate list.
- An empty toxicity_flags array means no concerns.`)
	if strict {
		b.WriteString(strictSchemaReminder)
	}
	return b.String(), nil
}

// buildSynthesisPrompt renders candidates plus assessments into the
// synthesis request.
func buildSynthesisPrompt(prompt string, candidates []datatypes.IngredientCandidate,
	assessments []datatypes.SafetyAssessment, strict bool) (string, error) {

	candidateJSON, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidates: %w", err)
	}
	assessmentJSON, err := json.MarshalIndent(assessments, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal assessments: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Requested effect:\n%s\n\n", prompt)
	fmt.Fprintf(&b, "Candidate ingredients:\n%s\n\n", candidateJSON)
	fmt.Fprintf(&b, "Safety assessments:\n%s\n\n", assessmentJSON)
	b.WriteString(`Compose the best formulation recommendation. Respond with JSON of
this exact shape:
{
  "hero": {
    "name": "<compound name>",
    "source_ingredient_id": "<identifier of the candidate it derives from, or empty>",
    "formula": "<molecular formula>",
    "structural_notation": "<SMILES, or empty>",
    "justification": "<why this compound fits, including safety reasoning>",
    "properties": {"<property>": "<value>"},
    "pros": ["..."], "cons": ["..."],
    "price_range": "<indicative range, or empty>",
    "availability": "<common|specialty|rare, or empty>",
    "dosage": "<recommended use concentration, or empty>",
    "contraindications": ["..."],
    "safety_notes": "<notes, or empty>",
    "usage_guidelines": "<guidelines, or empty>"
  },
  "alternatives": [ <same shape as hero without dosage, contraindications, safety_notes, usage_guidelines> ],
  "confidence_score": <number in [0,1]>
}
Rules:
- "hero" may be null when no compound can safely deliver the effect.
- Rank alternatives most suitable first.
- If an assessment flagged a candidate, its risks must appear in the
  justification of any recommendation derived from it.`)
	if strict {
		b.WriteString(strictSchemaReminder)
	}
	return b.String(), nil
}
