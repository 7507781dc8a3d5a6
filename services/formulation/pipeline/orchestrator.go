// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the agentic formulation run: retrieval,
// safety analysis, and synthesis, driven by a single orchestrator.
//
// # Description
//
// A run moves through a fixed stage sequence:
//
//	received -> retrieving -> analyzing -> synthesizing -> completed
//
// and lands in failed from any stage. Each model-bound stage gets one
// orchestrator-level retry on top of the invoker's own attempt budget:
// a fresh backoff window after exhausted quota, or a stricter re-prompt
// after out-of-contract output. Grounding breaches and empty
// formulations are terminal for the run and never retried.
//
// # Thread Safety
//
// Orchestrator is safe for concurrent use; every Run carries its own
// state on the stack. Concurrent runs share the invoker's quota gate.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/history"
	"github.com/AleutianAI/FormulaFOSS/services/formulation/invoker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stage identifies where a run currently is.
type Stage string

const (
	StageReceived     Stage = "received"
	StageRetrieving   Stage = "retrieving"
	StageAnalyzing    Stage = "analyzing"
	StageSynthesizing Stage = "synthesizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Run outcomes as reported to metrics and telemetry.
const (
	OutcomeCompleted     = "completed"
	OutcomeNoFormulation = "no_formulation"
	OutcomeFailed        = "failed"
)

// ProgressFunc receives stage transitions during a run. Called
// synchronously from the run goroutine; implementations must be fast.
type ProgressFunc func(stage Stage)

// RunObserver receives run lifecycle events for metrics. Optional.
type RunObserver interface {
	RunStarted()
	RunFinished(outcome string)
	ObserveStageDuration(stage string, d time.Duration)
	RecordError(stage string, code string)
}

// RunStats summarizes one finished run for telemetry export.
type RunStats struct {
	Outcome        string
	Duration       time.Duration
	CandidateCount int
	Alternatives   int
	HeroFound      bool
	Confidence     float64
}

// RunTelemetry receives finished-run summaries. Optional; must not
// block the run.
type RunTelemetry interface {
	RecordRun(stats RunStats)
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the orchestrator.
type Config struct {
	// RunTimeout is the wall-clock bound for a whole run. Default: 5m.
	RunTimeout time.Duration

	// Logger for run events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.RunTimeout == 0 {
		c.RunTimeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	// Entry is the persisted history record. Nil when the run
	// completed without a formulation; nothing is persisted then.
	Entry *datatypes.HistoryEntry

	// Result is the display payload. Zero-valued when NoFormulation.
	Result datatypes.FormulationResult

	// NoFormulation marks a completed run that found nothing viable.
	NoFormulation bool

	// CandidateCount is how many corpus candidates fed the run.
	CandidateCount int

	Duration time.Duration
}

// Orchestrator drives one request through the full stage sequence.
type Orchestrator struct {
	retriever   *Retriever
	analyst     *Analyst
	synthesizer *Synthesizer
	store       *history.Store

	config    Config
	logger    *slog.Logger
	observer  RunObserver
	telemetry RunTelemetry
	tracer    trace.Tracer
}

// NewOrchestrator wires the stages together. store may be nil for
// runs that should not persist (dry runs in tooling).
func NewOrchestrator(r *Retriever, a *Analyst, s *Synthesizer, store *history.Store, cfg Config) (*Orchestrator, error) {
	if r == nil || a == nil || s == nil {
		return nil, errors.New("retriever, analyst, and synthesizer are all required")
	}
	cfg.applyDefaults()
	return &Orchestrator{
		retriever:   r,
		analyst:     a,
		synthesizer: s,
		store:       store,
		config:      cfg,
		logger:      cfg.Logger.With(slog.String("component", "orchestrator")),
		tracer:      otel.Tracer("formulation/pipeline"),
	}, nil
}

// SetObserver attaches a metrics observer. Call before serving.
func (o *Orchestrator) SetObserver(obs RunObserver) { o.observer = obs }

// SetTelemetry attaches a run telemetry sink. Call before serving.
func (o *Orchestrator) SetTelemetry(t RunTelemetry) { o.telemetry = t }

// Run executes the pipeline for one request. See RunWithProgress.
func (o *Orchestrator) Run(ctx context.Context, req datatypes.AnalysisRequest) (*RunResult, error) {
	return o.RunWithProgress(ctx, req, nil)
}

// RunWithProgress executes the pipeline for one request, reporting
// stage transitions through progress when non-nil.
//
// On success the result is persisted to history atomically with its
// return: the write uses a context detached from the caller's
// cancellation, so a client that disconnects after synthesis still
// gets a durable entry. A completed run with an empty formulation is
// reported but not persisted.
func (o *Orchestrator) RunWithProgress(ctx context.Context, req datatypes.AnalysisRequest, progress ProgressFunc) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.RunTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "formulation.run",
		trace.WithAttributes(attribute.Int("prompt_chars", len(req.Prompt))))
	defer span.End()

	started := time.Now()
	logger := o.logger.With(slog.String("user_id", req.UserID))
	if o.observer != nil {
		o.observer.RunStarted()
	}
	report := func(stage Stage) {
		if progress != nil {
			progress(stage)
		}
	}
	report(StageReceived)

	fail := func(stage Stage, code string, err error) (*RunResult, error) {
		report(StageFailed)
		logger.Error("run failed", "stage", string(stage), "error", err)
		if o.observer != nil {
			o.observer.RecordError(string(stage), code)
			o.observer.RunFinished(OutcomeFailed)
		}
		o.recordTelemetry(RunStats{Outcome: OutcomeFailed, Duration: time.Since(started)})
		return nil, err
	}

	// --- Retrieval. Partial corpus data degrades inside the corpus
	// layer (vector backend falls back to the local dataset); an error
	// surfacing here means no backend answered at all, which is fatal.
	// Zero candidates is not an error: the run proceeds to synthesis.
	report(StageRetrieving)
	stageStart := time.Now()
	candidates, err := o.retriever.Retrieve(ctx, req.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return fail(StageRetrieving, "timeout", ctx.Err())
		}
		return fail(StageRetrieving, "corpus_unavailable", err)
	}
	o.observeStage(StageRetrieving, stageStart)

	// --- Analysis. Skipped outright when retrieval produced nothing;
	// there is nothing to assess.
	var assessments []datatypes.SafetyAssessment
	if len(candidates) > 0 {
		report(StageAnalyzing)
		stageStart = time.Now()
		assessments, err = retryOnce(ctx, func(strict bool) ([]datatypes.SafetyAssessment, error) {
			return o.analyst.Analyze(ctx, req.Prompt, candidates, strict)
		})
		if err != nil {
			return fail(StageAnalyzing, errorCode(err), err)
		}
		o.observeStage(StageAnalyzing, stageStart)
	}

	// --- Synthesis.
	report(StageSynthesizing)
	stageStart = time.Now()
	result, err := retryOnce(ctx, func(strict bool) (*datatypes.FormulationResult, error) {
		return o.synthesizer.Synthesize(ctx, req.Prompt, candidates, assessments, strict)
	})
	o.observeStage(StageSynthesizing, stageStart)

	if errors.Is(err, ErrEmptyFormulation) {
		report(StageCompleted)
		logger.Info("run completed with no viable formulation")
		if o.observer != nil {
			o.observer.RunFinished(OutcomeNoFormulation)
		}
		o.recordTelemetry(RunStats{
			Outcome:        OutcomeNoFormulation,
			Duration:       time.Since(started),
			CandidateCount: len(candidates),
		})
		return &RunResult{
			NoFormulation:  true,
			CandidateCount: len(candidates),
			Duration:       time.Since(started),
		}, nil
	}
	if err != nil {
		return fail(StageSynthesizing, errorCode(err), err)
	}

	// --- Persist and report. The write must not be lost to a caller
	// disconnect at the finish line.
	entry := &datatypes.HistoryEntry{
		UserID:          req.UserID,
		Hero:            result.Hero,
		Alternatives:    result.Recommendations,
		ConfidenceScore: result.ConfidenceScore,
		Sources:         result.Sources,
		RawPrompt:       req.Prompt,
	}
	if o.store != nil {
		if _, err := o.store.Append(context.WithoutCancel(ctx), entry); err != nil {
			return fail(StageSynthesizing, "persistence", err)
		}
	}

	report(StageCompleted)
	duration := time.Since(started)
	logger.Info("run completed",
		"entry_id", entry.ID,
		"candidates", len(candidates),
		"alternatives", len(result.Recommendations),
		"hero", result.Hero != nil,
		"duration", duration)
	if o.observer != nil {
		o.observer.RunFinished(OutcomeCompleted)
	}
	o.recordTelemetry(RunStats{
		Outcome:        OutcomeCompleted,
		Duration:       duration,
		CandidateCount: len(candidates),
		Alternatives:   len(result.Recommendations),
		HeroFound:      result.Hero != nil,
		Confidence:     result.ConfidenceScore,
	})

	return &RunResult{
		Entry:          entry,
		Result:         *result,
		CandidateCount: len(candidates),
		Duration:       duration,
	}, nil
}

// retryOnce grants a stage one extra shot beyond the invoker's own
// budget, for the two failure classes where a second call can
// plausibly succeed. The strict flag tightens the re-prompt after
// out-of-contract output.
func retryOnce[T any](ctx context.Context, fn func(strict bool) (T, error)) (T, error) {
	out, err := fn(false)
	if err == nil {
		return out, nil
	}

	var rle *invoker.RateLimitedError
	var moe *invoker.ModelOutputInvalidError
	switch {
	case errors.As(err, &moe):
		return fn(true)
	case errors.As(err, &rle):
		if ctx.Err() != nil {
			return out, err
		}
		return fn(false)
	default:
		return out, err
	}
}

// errorCode labels a failure for metrics.
func errorCode(err error) string {
	var rle *invoker.RateLimitedError
	var moe *invoker.ModelOutputInvalidError
	switch {
	case errors.As(err, &rle):
		return "rate_limited"
	case errors.As(err, &moe):
		return "model_output_invalid"
	case errors.Is(err, ErrUnknownIngredient):
		return "grounding_breach"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func (o *Orchestrator) observeStage(stage Stage, start time.Time) {
	if o.observer != nil {
		o.observer.ObserveStageDuration(string(stage), time.Since(start))
	}
}

func (o *Orchestrator) recordTelemetry(stats RunStats) {
	if o.telemetry != nil {
		o.telemetry.RecordRun(stats)
	}
}
