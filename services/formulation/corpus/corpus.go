// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus provides read-only similarity search over the
// pre-indexed ingredient reference data.
//
// Two backends exist: a Weaviate vector index (production) and a local
// keyword corpus loaded from CSV (tests, air-gapped deployments, and
// the degraded mode the retriever falls back to when the index is
// unreachable).
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"golang.org/x/sync/singleflight"
)

// ErrCorpusUnavailable is returned when the backing index cannot be
// reached at all. The retriever treats this as a signal to degrade,
// not to fail the run.
var ErrCorpusUnavailable = errors.New("ingredient corpus unavailable")

// Record is one ingredient reference entry with its query score.
type Record struct {
	ID               string
	Name             string
	SMILES           string
	Formula          string
	Description      string
	SourceTags       []string
	MaxConcentration float64 // percent w/w, negative when unknown
	Score            float64 // similarity in [0,1], higher is better
}

// Corpus is the read-only similarity-query boundary.
type Corpus interface {
	// Query returns up to limit records ranked most relevant first.
	// Ranking is deterministic for identical corpus state: ties are
	// broken by ascending record ID.
	Query(ctx context.Context, text string, limit int) ([]Record, error)

	// Ready reports whether the corpus can serve queries.
	Ready(ctx context.Context) error
}

// =============================================================================
// Weaviate Backend
// =============================================================================

// WeaviateCorpus queries the Ingredient class by embedding the prompt
// and running a nearVector search. Identical concurrent queries are
// collapsed through singleflight so a burst of similar runs costs one
// embedding call.
type WeaviateCorpus struct {
	client   *weaviate.Client
	embedder llm.Embedder
	logger   *slog.Logger
	group    singleflight.Group
}

// NewWeaviateCorpus wires the vector backend. The embedder is the same
// backend the pipeline uses for generation.
func NewWeaviateCorpus(client *weaviate.Client, embedder llm.Embedder, logger *slog.Logger) (*WeaviateCorpus, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateCorpus{
		client:   client,
		embedder: embedder,
		logger:   logger.With(slog.String("component", "weaviate_corpus")),
	}, nil
}

// Query implements Corpus.
func (w *WeaviateCorpus) Query(ctx context.Context, text string, limit int) ([]Record, error) {
	key := strconv.Itoa(limit) + "\x00" + text
	v, err, shared := w.group.Do(key, func() (any, error) {
		return w.query(ctx, text, limit)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		w.logger.Debug("corpus query deduplicated", "limit", limit)
	}
	return v.([]Record), nil
}

func (w *WeaviateCorpus) query(ctx context.Context, text string, limit int) ([]Record, error) {
	vectors, err := w.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	fields := []graphql.Field{
		{Name: "ingredient_id"},
		{Name: "name"},
		{Name: "smiles"},
		{Name: "formula"},
		{Name: "description"},
		{Name: "source_tags"},
		{Name: "max_concentration"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "distance"},
		}},
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vectors[0])

	resp, err := w.client.GraphQL().Get().
		WithClassName(datatypes.IngredientClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorpusUnavailable, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %s", ErrCorpusUnavailable, resp.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.IngredientQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse corpus response: %w", err)
	}

	records := make([]Record, 0, len(parsed.Get.Ingredient))
	for _, r := range parsed.Get.Ingredient {
		records = append(records, Record{
			ID:               r.IngredientID,
			Name:             r.Name,
			SMILES:           r.Smiles,
			Formula:          r.Formula,
			Description:      r.Description,
			SourceTags:       r.SourceTags,
			MaxConcentration: r.MaxConcentration,
			Score:            r.Additional.Certainty,
		})
	}
	SortRecords(records)
	return records, nil
}

// Ready implements Corpus via the Weaviate readiness endpoint.
func (w *WeaviateCorpus) Ready(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorpusUnavailable, err)
	}
	if !ready {
		return ErrCorpusUnavailable
	}
	return nil
}

// =============================================================================
// Fallback Composition
// =============================================================================

// FallbackCorpus queries a primary corpus and falls back to a
// secondary when the primary is unreachable. Partial corpus data
// degrades a run to fewer candidates; it never fails it outright.
type FallbackCorpus struct {
	primary   Corpus
	secondary Corpus
	logger    *slog.Logger
}

// NewFallbackCorpus composes primary and secondary. Secondary may be
// nil, in which case primary errors pass through.
func NewFallbackCorpus(primary, secondary Corpus, logger *slog.Logger) *FallbackCorpus {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackCorpus{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "fallback_corpus")),
	}
}

// Query implements Corpus.
func (f *FallbackCorpus) Query(ctx context.Context, text string, limit int) ([]Record, error) {
	records, err := f.primary.Query(ctx, text, limit)
	if err == nil {
		return records, nil
	}
	if f.secondary == nil {
		return nil, err
	}
	f.logger.Warn("primary corpus unavailable, using local fallback", "error", err)
	return f.secondary.Query(ctx, text, limit)
}

// Ready implements Corpus. Ready when either backend is.
func (f *FallbackCorpus) Ready(ctx context.Context) error {
	err := f.primary.Ready(ctx)
	if err == nil || f.secondary == nil {
		return err
	}
	return f.secondary.Ready(ctx)
}

// SortRecords orders by score descending, ties by ascending ID so
// identical corpus snapshots always produce identical rankings.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].ID < records[j].ID
	})
}
