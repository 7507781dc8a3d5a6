// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// IngredientClassName is the Weaviate class holding the ingredient corpus.
const IngredientClassName = "Ingredient"

// GetIngredientSchema returns the Weaviate class definition for the
// ingredient corpus. Vectors are supplied at ingest time, so the class
// uses no server-side vectorizer.
func GetIngredientSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       IngredientClassName,
		Description: "A cosmetic or pharmaceutical ingredient with its safety profile.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "ingredient_id",
				DataType:     []string{"text"},
				Description:  "Stable corpus identifier, preferred form is the SMILES notation.",
				Tokenization: "field",
			},
			{
				Name:         "name",
				DataType:     []string{"text"},
				Description:  "Common ingredient name.",
				Tokenization: "word",
			},
			{
				Name:         "smiles",
				DataType:     []string{"text"},
				Description:  "SMILES structural notation, empty when unknown.",
				Tokenization: "field",
			},
			{
				Name:         "formula",
				DataType:     []string{"text"},
				Description:  "Molecular formula, e.g. C6H8O6.",
				Tokenization: "field",
			},
			{
				Name:         "description",
				DataType:     []string{"text"},
				Description:  "Monograph text describing effects, stability, and use.",
				Tokenization: "word",
			},
			{
				Name:            "source_tags",
				DataType:        []string{"text[]"},
				Description:     "Dataset tags this record was ingested from.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "max_concentration",
				DataType:        []string{"number"},
				Description:     "Documented maximum safe concentration in percent, -1 when unknown.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix ms timestamp of ingestion.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureIngredientSchema creates the Ingredient class if it does not exist.
// Safe to call on every startup; an existing class is left untouched.
func EnsureIngredientSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(IngredientClassName).
		Do(ctx)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("Weaviate class already present", "class", IngredientClassName)
		return nil
	}

	if err := client.Schema().ClassCreator().
		WithClass(GetIngredientSchema()).
		Do(ctx); err != nil {
		return err
	}

	slog.Info("Created Weaviate class", "class", IngredientClassName)
	return nil
}
