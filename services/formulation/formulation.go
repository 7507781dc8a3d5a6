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
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/corpus"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/history"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/observability"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/pipeline"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/routes"
	"github.com/AleutianAI/FormulaFOSS/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Service bundles the wired formulation stack and its teardown.
type Service struct {
	Router  *gin.Engine
	History *history.Store
	Corpus  corpus.Corpus

	telemetry     *observability.RunRecorder
	meterShutdown func(context.Context)
	logger        *slog.Logger
}

// buildService wires every component from config: model backend,
// invoker, corpus (vector primary with local fallback), history
// store, metrics, optional telemetry, pipeline, and routes.
func buildService(cfg *Config, version string, logger *slog.Logger) (*Service, error) {
	client, err := llm.NewOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("init model backend: %w", err)
	}

	inv, err := invoker.New(client, invoker.Config{
		RequestsPerMinute: cfg.Invoker.RequestsPerMinute,
		Burst:             cfg.Invoker.Burst,
		MaxAttempts:       cfg.Invoker.MaxAttempts,
		AttemptTimeout:    cfg.Invoker.AttemptTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init invoker: %w", err)
	}

	corpusBackend, err := buildCorpus(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	store, err := history.Open(history.Config{
		Path:       cfg.History.Path,
		SyncWrites: true,
		GCInterval: cfg.History.GCInterval,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	retriever, err := pipeline.NewRetriever(corpusBackend,
		cfg.Pipeline.MaxCandidates, cfg.Pipeline.MinRelevance, logger)
	if err != nil {
		return nil, err
	}
	analyst, err := pipeline.NewAnalyst(inv, logger)
	if err != nil {
		return nil, err
	}
	synthesizer, err := pipeline.NewSynthesizer(inv, logger)
	if err != nil {
		return nil, err
	}
	orch, err := pipeline.NewOrchestrator(retriever, analyst, synthesizer, store, pipeline.Config{
		RunTimeout: cfg.Pipeline.RunTimeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	inv.SetObserver(metrics)
	orch.SetObserver(metrics)

	meterShutdown, err := observability.InitMeterProvider(registry,
		os.Getenv("FORMULATION_METRICS_STDOUT") == "1", logger)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		History:       store,
		Corpus:        corpusBackend,
		meterShutdown: meterShutdown,
		logger:        logger,
	}
	if cfg.telemetryConfigured() {
		svc.telemetry = observability.NewRunRecorder(
			cfg.Telemetry.InfluxURL,
			cfg.Telemetry.InfluxToken,
			cfg.Telemetry.InfluxOrg,
			cfg.Telemetry.InfluxBucket,
			logger,
		)
		orch.SetTelemetry(svc.telemetry)
		logger.Info("run telemetry enabled", "bucket", cfg.Telemetry.InfluxBucket)
	}

	router := gin.New()
	routes.Register(router, routes.Dependencies{
		Orchestrator: orch,
		History:      store,
		Corpus:       corpusBackend,
		Gatherer:     registry,
		Logger:       logger,
		Version:      version,
	})
	svc.Router = router
	return svc, nil
}

// buildCorpus assembles the retrieval backend. A configured Weaviate
// URL becomes the primary; the CSV corpus serves as fallback or, with
// no vector index at all, as the only backend. Neither configured
// still starts: runs then degrade to synthesis-only.
func buildCorpus(cfg *Config, embedder llm.Embedder, logger *slog.Logger) (corpus.Corpus, error) {
	var primary corpus.Corpus

	weaviateURL := strings.Trim(cfg.Corpus.WeaviateURL, "\"' ")
	if weaviateURL != "" {
		parsed, err := url.Parse(weaviateURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			logger.Warn("weaviate url is invalid, skipping vector backend", "url", weaviateURL)
		} else {
			client, err := weaviate.NewClient(weaviate.Config{
				Host:   parsed.Host,
				Scheme: parsed.Scheme,
			})
			if err != nil {
				return nil, fmt.Errorf("init weaviate client: %w", err)
			}
			primary, err = corpus.NewWeaviateCorpus(client, embedder, logger)
			if err != nil {
				return nil, err
			}
			logger.Info("vector corpus enabled", "host", parsed.Host)
		}
	}

	var secondary corpus.Corpus
	if cfg.Corpus.CSVPath != "" {
		local, err := corpus.OpenLocalCorpus(cfg.Corpus.CSVPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open local corpus: %w", err)
		}
		secondary = local
		logger.Info("local corpus loaded", "path", cfg.Corpus.CSVPath, "records", local.Len())
	}

	switch {
	case primary != nil:
		return corpus.NewFallbackCorpus(primary, secondary, logger), nil
	case secondary != nil:
		return secondary, nil
	default:
		logger.Warn("no corpus configured, runs will degrade to synthesis-only")
		return corpus.NewLocalCorpus(nil, logger), nil
	}
}

// Close tears the service down in dependency order.
func (s *Service) Close() {
	if s.telemetry != nil {
		s.telemetry.Close()
	}
	if s.meterShutdown != nil {
		s.meterShutdown(context.Background())
	}
	if closer, ok := s.Corpus.(interface{ Close() error }); ok {
		closer.Close()
	}
	if err := s.History.Close(); err != nil {
		s.logger.Error("history store close failed", "error", err)
	}
}

// initTracer sets up span export. An OTLP collector endpoint takes
// precedence; FORMULATION_TRACE_STDOUT=1 dumps spans to stdout for
// collectorless debugging. With neither, spans stay local no-ops.
func initTracer(ctx context.Context, logger *slog.Logger) (func(context.Context), error) {
	exporter, err := buildSpanExporter(ctx, logger)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		return func(context.Context) {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("formulation-service")))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down trace provider", "error", err)
		}
	}, nil
}

func buildSpanExporter(ctx context.Context, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	}
	if os.Getenv("FORMULATION_TRACE_STDOUT") == "1" {
		logger.Info("stdout span dump enabled")
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	logger.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	return nil, nil
}
