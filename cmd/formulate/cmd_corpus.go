// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/AleutianAI/FormulaFOSS/pkg/logging"
	"github.com/AleutianAI/FormulaFOSS/pkg/ux"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

var weaviateURL string

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the ingredient corpus",
}

var corpusLoadCmd = &cobra.Command{
	Use:   "load [csv-file]",
	Short: "Embed an ingredient CSV and import it into Weaviate",
	Long: `Reads an ingredient CSV (id, name, smiles, formula, description,
source_tags, max_concentration), embeds each record, and imports the
vectors into the Weaviate Ingredient class. Re-running with the same
dataset overwrites in place. Requires OPENAI_API_KEY for embeddings.`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpusLoad,
}

func init() {
	defaultWeaviate := os.Getenv("WEAVIATE_SERVICE_URL")
	corpusLoadCmd.Flags().StringVar(&weaviateURL, "weaviate", defaultWeaviate,
		"Weaviate base URL, e.g. http://localhost:8080")

	corpusCmd.AddCommand(corpusLoadCmd)
}

func runCorpusLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	records, err := corpus.LoadCSV(args[0])
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no ingredient records in %s", args[0])
	}
	ux.Info(fmt.Sprintf("loaded %d ingredient records from %s", len(records), args[0]))

	trimmed := strings.Trim(weaviateURL, "\"' ")
	if trimmed == "" {
		return fmt.Errorf("no Weaviate URL; pass --weaviate or set WEAVIATE_SERVICE_URL")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid Weaviate URL %q", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return fmt.Errorf("init weaviate client: %w", err)
	}

	embedder, err := llm.NewOpenAIClient()
	if err != nil {
		ux.Error(err.Error())
		return err
	}

	logger := logging.New(logging.Config{Level: logging.ParseLevel(os.Getenv("LOG_LEVEL")), Service: "formulate"})
	defer logger.Close()
	ingestor, err := corpus.NewIngestor(client, embedder, logger.Slog())
	if err != nil {
		return err
	}

	spinner := ux.NewSpinner(fmt.Sprintf("embedding and importing %d records", len(records)))
	spinner.Start()
	written, err := ingestor.Ingest(ctx, records)
	spinner.Stop()
	if err != nil {
		ux.Error(err.Error())
		return err
	}

	ux.Success(fmt.Sprintf("imported %d objects into %s", written, trimmed))
	return nil
}
