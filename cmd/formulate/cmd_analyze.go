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
	"os"
	"strings"

	"github.com/AleutianAI/FormulaFOSS/pkg/ux"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var noStream bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [prompt]",
	Short: "Run a formulation analysis for an effect prompt",
	Long: `Submits an effect prompt, e.g. "Stable water-soluble Vitamin C
derivative", and prints the hero compound with ranked alternatives.
With no argument on a terminal, an interactive form collects the
prompt.`,
	RunE: runAnalyzeCommand,
}

func init() {
	analyzeCmd.Flags().BoolVar(&noStream, "no-stream", false,
		"wait for the full result instead of streaming stage progress")
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		collected, err := collectPrompt()
		if err != nil {
			return err
		}
		prompt = collected
	}
	if len(prompt) < datatypes.MinPromptChars {
		return fmt.Errorf("prompt must be at least %d characters", datatypes.MinPromptChars)
	}

	client := newAPIClient(serverURL, userID)
	ctx := cmd.Context()

	if noStream {
		resp, err := client.Analyze(ctx, prompt)
		if err != nil {
			ux.Error(err.Error())
			return err
		}
		printAnalyzeResult(resp.Data, resp.Message, resp.ID)
		return nil
	}

	spinner := ux.NewSpinner("submitting")
	spinner.Start()
	event, err := client.AnalyzeStream(ctx, prompt, func(stage string) {
		spinner.SetMessage(stageLabel(stage))
	})
	spinner.Stop()
	if err != nil {
		ux.Error(err.Error())
		return err
	}

	printAnalyzeResult(event.Result, event.Message, event.EntryID)
	return nil
}

// collectPrompt runs the interactive form. Refuses to prompt when
// stdin is not a terminal; scripts must pass the prompt as an arg.
func collectPrompt() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("no prompt given and stdin is not a terminal")
	}

	var prompt string
	form := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Desired effect").
			Description("Describe the effect the formulation should achieve.").
			Placeholder("Stable water-soluble Vitamin C derivative").
			CharLimit(datatypes.MaxPromptChars).
			Value(&prompt),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(prompt), nil
}

func printAnalyzeResult(result *datatypes.FormulationResult, message, entryID string) {
	if result == nil {
		ux.Warning("service returned no result payload")
		return
	}
	fmt.Print(ux.RenderFormulation(*result))
	if message != "" {
		ux.Info(message)
	}
	if entryID != "" {
		ux.Muted("saved to history as " + entryID)
	}
}

func stageLabel(stage string) string {
	switch stage {
	case "received":
		return "request accepted"
	case "retrieving":
		return "searching the ingredient corpus"
	case "analyzing":
		return "assessing candidate safety"
	case "synthesizing":
		return "composing the formulation"
	case "completed":
		return "done"
	default:
		return stage
	}
}
