// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/sync/errgroup"
)

// Ingest tunables. Long monographs are split so each chunk embeds
// within model token limits; the chunk shares the record's
// ingredient_id so retrieval dedupes back to one candidate.
const (
	ingestChunkSize    = 1200
	ingestChunkOverlap = 150
	ingestBatchSize    = 32
	ingestConcurrency  = 4
)

// Ingestor embeds ingredient records and batch-imports them into the
// Weaviate Ingredient class.
type Ingestor struct {
	client   *weaviate.Client
	embedder llm.Embedder
	splitter textsplitter.RecursiveCharacter
	logger   *slog.Logger
}

// NewIngestor wires an ingestor. The schema is ensured on first use.
func NewIngestor(client *weaviate.Client, embedder llm.Embedder, logger *slog.Logger) (*Ingestor, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ingestChunkSize),
		textsplitter.WithChunkOverlap(ingestChunkOverlap),
	)
	return &Ingestor{
		client:   client,
		embedder: embedder,
		splitter: splitter,
		logger:   logger.With(slog.String("component", "corpus_ingest")),
	}, nil
}

// chunked is one embeddable unit of a record.
type chunked struct {
	record Record
	chunk  string
	index  int
}

// Ingest splits, embeds, and imports the records. Embedding batches
// run concurrently; the import itself is batched through the Weaviate
// batch API. Returns the number of objects written.
func (ing *Ingestor) Ingest(ctx context.Context, records []Record) (int, error) {
	if err := datatypes.EnsureIngredientSchema(ctx, ing.client); err != nil {
		return 0, fmt.Errorf("ensure corpus schema: %w", err)
	}

	chunks, err := ing.split(records)
	if err != nil {
		return 0, err
	}
	ing.logger.Info("ingesting corpus", "records", len(records), "chunks", len(chunks))

	// Embed in concurrent batches.
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for start := 0; start < len(chunks); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, embeddingText(c))
			}
			batch, err := ing.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d..%d: %w", start, end, err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Import in batches.
	written := 0
	for start := 0; start < len(chunks); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(chunks))

		objects := make([]*models.Object, 0, end-start)
		for i, c := range chunks[start:end] {
			objects = append(objects, ing.buildObject(c, vectors[start+i]))
		}

		resp, err := ing.client.Batch().ObjectsBatcher().
			WithObjects(objects...).
			Do(ctx)
		if err != nil {
			return written, fmt.Errorf("batch import: %w", err)
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return written, fmt.Errorf("batch import object %s: %s",
					r.ID, r.Result.Errors.Error[0].Message)
			}
			written++
		}
	}

	ing.logger.Info("corpus ingest complete", "objects", written)
	return written, nil
}

// split breaks each record's monograph into embeddable chunks. Short
// descriptions stay as one chunk.
func (ing *Ingestor) split(records []Record) ([]chunked, error) {
	var out []chunked
	for _, r := range records {
		if len(r.Description) <= ingestChunkSize {
			out = append(out, chunked{record: r, chunk: r.Description})
			continue
		}
		parts, err := ing.splitter.SplitText(r.Description)
		if err != nil {
			return nil, fmt.Errorf("split record %s: %w", r.ID, err)
		}
		for i, p := range parts {
			out = append(out, chunked{record: r, chunk: p, index: i})
		}
	}
	return out, nil
}

func (ing *Ingestor) buildObject(c chunked, vector []float32) *models.Object {
	return &models.Object{
		Class: datatypes.IngredientClassName,
		ID:    strfmt.UUID(deterministicObjectID(c.record.ID, c.index)),
		Properties: map[string]any{
			"ingredient_id":     c.record.ID,
			"name":              c.record.Name,
			"smiles":            c.record.SMILES,
			"formula":           c.record.Formula,
			"description":       c.chunk,
			"source_tags":       c.record.SourceTags,
			"max_concentration": c.record.MaxConcentration,
			"ingested_at":       float64(time.Now().UnixMilli()),
		},
		Vector: vector,
	}
}

// embeddingText is what actually gets vectorized: the name anchors
// short chunks so sparse monographs still retrieve by ingredient.
func embeddingText(c chunked) string {
	if c.chunk == "" {
		return c.record.Name
	}
	return c.record.Name + "\n" + c.chunk
}

// deterministicObjectID derives a stable object UUID from the
// ingredient id and chunk index so re-ingesting the same dataset
// overwrites in place instead of duplicating.
func deterministicObjectID(ingredientID string, chunkIndex int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%d", ingredientID, chunkIndex))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// 16 bytes always form a valid UUID; this path is unreachable.
		panic(err)
	}
	return id.String()
}
