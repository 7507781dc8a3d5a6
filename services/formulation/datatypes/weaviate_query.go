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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type.
//
// # Description
//
// Encapsulates the marshal/unmarshal round trip needed to convert Weaviate's
// dynamic response payload into a strongly-typed struct. The target type T
// must carry json tags matching the expected response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil or parsing fails.
//
// # Limitations
//
//   - Shape mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// IngredientQueryResponse is the shape of an Ingredient class similarity
// query.
type IngredientQueryResponse struct {
	Get struct {
		Ingredient []IngredientQueryResult `json:"Ingredient"`
	} `json:"Get"`
}

// IngredientQueryResult is a single ingredient returned by a similarity
// query, with the certainty score Weaviate reports alongside it.
type IngredientQueryResult struct {
	IngredientID     string   `json:"ingredient_id"`
	Name             string   `json:"name"`
	Smiles           string   `json:"smiles"`
	Formula          string   `json:"formula"`
	Description      string   `json:"description"`
	SourceTags       []string `json:"source_tags"`
	MaxConcentration float64  `json:"max_concentration"`
	Additional       struct {
		Certainty float64 `json:"certainty"`
		Distance  float64 `json:"distance"`
	} `json:"_additional"`
}
