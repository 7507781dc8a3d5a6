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

	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
)

// Retrieval tunables.
const (
	// DefaultMaxCandidates bounds how many corpus matches feed the
	// analysis stage. More candidates cost more prompt tokens.
	DefaultMaxCandidates = 8

	// DefaultMinRelevance drops matches below this similarity score.
	DefaultMinRelevance = 0.15
)

// Retriever turns a prompt into a ranked, bounded candidate list.
//
// # Thread Safety
//
// Safe for concurrent use; all state is read-only after construction.
type Retriever struct {
	corpus        corpus.Corpus
	maxCandidates int
	minRelevance  float64
	logger        *slog.Logger
}

// NewRetriever wires a retriever over the given corpus. Zero values
// for maxCandidates and minRelevance select the defaults.
func NewRetriever(c corpus.Corpus, maxCandidates int, minRelevance float64, logger *slog.Logger) (*Retriever, error) {
	if c == nil {
		return nil, errors.New("corpus must not be nil")
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	if minRelevance <= 0 {
		minRelevance = DefaultMinRelevance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		corpus:        c,
		maxCandidates: maxCandidates,
		minRelevance:  minRelevance,
		logger:        logger.With(slog.String("component", "retriever")),
	}, nil
}

// Retrieve returns candidates for the prompt, most relevant first.
// An unreachable corpus is reported as corpus.ErrCorpusUnavailable; an
// empty result is not an error. Ranking ties break on ascending
// identifier, so identical corpus state yields identical output.
func (r *Retriever) Retrieve(ctx context.Context, prompt string) ([]datatypes.IngredientCandidate, error) {
	records, err := r.corpus.Query(ctx, prompt, r.maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("corpus query: %w", err)
	}
	corpus.SortRecords(records)

	candidates := make([]datatypes.IngredientCandidate, 0, len(records))
	for _, rec := range records {
		if rec.Score < r.minRelevance {
			continue
		}
		candidates = append(candidates, datatypes.IngredientCandidate{
			Name:           rec.Name,
			Identifier:     candidateIdentifier(rec),
			RelevanceScore: rec.Score,
			SourceTags:     rec.SourceTags,
		})
	}

	r.logger.Debug("retrieval complete",
		"matches", len(records), "candidates", len(candidates))
	return candidates, nil
}

// candidateIdentifier prefers the structural notation; the corpus row
// id covers records without one. Both are stable across runs.
func candidateIdentifier(rec corpus.Record) string {
	if rec.SMILES != "" {
		return rec.SMILES
	}
	return rec.ID
}
