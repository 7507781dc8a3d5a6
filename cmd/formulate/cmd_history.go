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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/FormulaFOSS/cmd/formulate/gcs"
	"github.com/AleutianAI/FormulaFOSS/pkg/ux"
	"github.com/spf13/cobra"
)

var (
	historyLimit int

	exportBucket  string
	exportProject string
	exportSAKey   string
	exportOut     string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage your formulation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your formulation runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newAPIClient(serverURL, userID)
		entries, err := client.HistoryList(cmd.Context(), historyLimit)
		if err != nil {
			ux.Error(err.Error())
			return err
		}
		fmt.Print(ux.RenderHistoryList(entries))
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [entry-id]",
	Short: "Show one formulation run in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL, userID)
		entry, err := client.HistoryGet(cmd.Context(), args[0])
		if err != nil {
			ux.Error(err.Error())
			return err
		}
		ux.Title(entry.RawPrompt)
		ux.Muted(entry.CreatedAt.Format(time.RFC1123))
		fmt.Print(ux.RenderFormulation(entry.Result()))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [entry-id]",
	Short: "Permanently delete one formulation run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL, userID)
		if err := client.HistoryDelete(cmd.Context(), args[0]); err != nil {
			ux.Error(err.Error())
			return err
		}
		ux.Success("deleted " + args[0])
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export your history as JSON, optionally uploading to GCS",
	Long: `Writes the full history to a timestamped JSON file. With --bucket,
--project, and --sa-key set, the file is also uploaded to Google Cloud
Storage for offsite backup.`,
	RunE: runHistoryExport,
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum entries to list")

	historyExportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default formulation_history_<date>.json)")
	historyExportCmd.Flags().StringVar(&exportBucket, "bucket", "", "GCS bucket to upload to")
	historyExportCmd.Flags().StringVar(&exportProject, "project", "", "GCP project id")
	historyExportCmd.Flags().StringVar(&exportSAKey, "sa-key", "", "path to a service account key file")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyExportCmd)
}

func runHistoryExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	client := newAPIClient(serverURL, userID)

	entries, err := client.HistoryList(ctx, 0)
	if err != nil {
		ux.Error(err.Error())
		return err
	}

	out := exportOut
	if out == "" {
		out = fmt.Sprintf("formulation_history_%s.json", time.Now().Format("2006-01-02"))
	}
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, payload, 0600); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	ux.Success(fmt.Sprintf("exported %d entries to %s", len(entries), out))

	if exportBucket == "" {
		return nil
	}
	if exportProject == "" || exportSAKey == "" {
		return fmt.Errorf("--bucket requires --project and --sa-key")
	}

	uploader, err := gcs.NewClient(ctx, exportProject, exportBucket, exportSAKey)
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	object := filepath.Join("formulation-history", filepath.Base(out))
	if err := uploader.UploadFile(ctx, out, object); err != nil {
		ux.Error(err.Error())
		return err
	}
	ux.Success(fmt.Sprintf("uploaded to gs://%s/%s", exportBucket, object))
	return nil
}
