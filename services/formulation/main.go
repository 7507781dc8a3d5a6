// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The formulation service: accepts effect prompts, runs the agentic
// pipeline against the model backend, and serves per-user history.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/FormulaFOSS/pkg/logging"
	"github.com/gin-gonic/gin"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := LoadConfig(os.Getenv("FORMULATION_CONFIG"))
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	appLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "formulation",
		JSON:    true,
	})
	defer appLogger.Close()
	logger := appLogger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCleanup, err := initTracer(ctx, logger)
	if err != nil {
		log.Fatalf("failed to set up the OTLP tracer: %v", err)
	}
	defer traceCleanup(context.Background())

	gin.SetMode(gin.ReleaseMode)
	svc, err := buildService(cfg, version, logger)
	if err != nil {
		log.Fatalf("failed to build the formulation service: %v", err)
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           svc.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("formulation service listening", "port", cfg.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// In-flight runs get a grace window; history writes are already
	// detached from request contexts.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", "error", err)
	}
}
