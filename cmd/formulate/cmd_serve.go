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
	"os/exec"
	"syscall"
	"time"

	"github.com/AleutianAI/FormulaFOSS/pkg/ux"
	"github.com/spf13/cobra"
)

var (
	serveBin    string
	serveConfig string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the formulation service in the foreground",
	Long: `Launches the formulation service binary and streams its logs.
Ctrl-C sends the service a graceful shutdown signal. The binary is
located via --bin, FORMULATION_SERVICE_BIN, or PATH.`,
	RunE: runServe,
}

func init() {
	defaultBin := os.Getenv("FORMULATION_SERVICE_BIN")
	if defaultBin == "" {
		defaultBin = "formulation-service"
	}
	serveCmd.Flags().StringVar(&serveBin, "bin", defaultBin,
		"path to the formulation service binary")
	serveCmd.Flags().StringVar(&serveConfig, "config", "",
		"config file passed to the service via FORMULATION_CONFIG")
}

func runServe(cmd *cobra.Command, _ []string) error {
	bin, err := exec.LookPath(serveBin)
	if err != nil {
		return fmt.Errorf("formulation service binary %q not found, build it or set --bin", serveBin)
	}

	child := exec.CommandContext(cmd.Context(), bin)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = os.Environ()
	if serveConfig != "" {
		child.Env = append(child.Env, "FORMULATION_CONFIG="+serveConfig)
	}
	// Graceful stop on Ctrl-C; hard kill only after the grace window.
	child.Cancel = func() error {
		return child.Process.Signal(syscall.SIGTERM)
	}
	child.WaitDelay = 35 * time.Second

	ux.Info("starting " + bin)
	if err := child.Run(); err != nil {
		if cmd.Context().Err() != nil {
			return nil
		}
		return fmt.Errorf("formulation service exited: %w", err)
	}
	return nil
}
