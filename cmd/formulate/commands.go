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
	"os"

	"github.com/AleutianAI/FormulaFOSS/pkg/ux"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
	plainOut  bool

	rootCmd = &cobra.Command{
		Use:   "formulate",
		Short: "A CLI for the Aleutian formulation service",
		Long: `formulate talks to the formulation service: submit an effect
prompt and get a hero compound with ranked alternatives, browse and
manage your formulation history, and load ingredient corpora.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			if plainOut {
				ux.SetPlain(true)
			}
		},
	}
)

func init() {
	defaultServer := os.Getenv("FORMULATION_SERVICE_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:12230"
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"base URL of the formulation service")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("FORMULATION_USER"),
		"user identity sent with every request")
	rootCmd.PersistentFlags().BoolVar(&plainOut, "plain", false,
		"disable styled output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(corpusCmd)
}
