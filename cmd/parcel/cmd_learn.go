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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/parcel/pkg/logging"
	"github.com/AleutianAI/parcel/pkg/ux"
	"github.com/AleutianAI/parcel/services/parcel/kb"
	"github.com/AleutianAI/parcel/services/parcel/monitor"
	"github.com/AleutianAI/parcel/services/parcel/search"
	"github.com/AleutianAI/parcel/services/parcel/store"
	"github.com/AleutianAI/parcel/services/parcel/telemetry"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	learnKB          string // knowledge base file
	learnConfig      string // search config file
	learnProblem     string // problem name, defaults to the kb name
	learnMonitor     string // monitor listen address, empty disables
	learnTrace       string // trace exporter override
	learnMetrics     string // metric exporter override
	learnJSON        bool   // print the report as JSON
	learnNoStore     bool   // skip saving the run
	learnTimeout     int    // seconds, overrides config
	learnWorkers     int    // overrides config
	learnNoise       float64
	learnCombination string
)

// learnCmd runs one learning problem to completion.
//
// # Examples
//
//	parcel learn --kb family.yaml
//	parcel learn --kb family.yaml --timeout 30 --workers 8 --json
//	parcel learn --kb family.yaml --monitor 127.0.0.1:9464 --trace stdout
var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn a definition for the examples in a knowledge base",
	Long: `Runs the parallel refinement search on the positive and negative examples
declared in a knowledge base file and prints the learned definition.

Press Ctrl-C to stop early; the definitions found so far are still reduced,
reported and saved.`,
	RunE: runLearn,
}

func init() {
	learnCmd.Flags().StringVar(&learnKB, "kb", "", "knowledge base YAML file (required)")
	learnCmd.Flags().StringVar(&learnConfig, "config", "", "search config file (YAML or JSON)")
	learnCmd.Flags().StringVar(&learnProblem, "problem", "", "problem name (default: knowledge base name)")
	learnCmd.Flags().StringVar(&learnMonitor, "monitor", "", "serve the monitor API on this address")
	learnCmd.Flags().StringVar(&learnTrace, "trace", "", "trace exporter: stdout, otlp, none")
	learnCmd.Flags().StringVar(&learnMetrics, "metrics", "", "metric exporter: prometheus, stdout, none")
	learnCmd.Flags().BoolVar(&learnJSON, "json", false, "print the report as JSON")
	learnCmd.Flags().BoolVar(&learnNoStore, "no-store", false, "do not save the run")
	learnCmd.Flags().IntVar(&learnTimeout, "timeout", 0, "max execution time in seconds (overrides config)")
	learnCmd.Flags().IntVar(&learnWorkers, "workers", 0, "number of workers (overrides config)")
	learnCmd.Flags().Float64Var(&learnNoise, "noise", 0, "fraction of positives allowed uncovered (overrides config)")
	learnCmd.Flags().StringVar(&learnCombination, "combination", "", "after_search, in_worker or none (overrides config)")
	_ = learnCmd.MarkFlagRequired("kb")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runLearn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// With a monitor, recent log lines are kept for /v1/parcel/logs.
	var recent *logging.BufferedExporter
	var exporters []logging.LogExporter
	if learnMonitor != "" {
		recent = logging.NewBufferedExporter(monitor.DefaultLogCapacity)
		exporters = append(exporters, recent)
	}
	logger, err := newLogger(cmd.ErrOrStderr(), exporters...)
	if err != nil {
		return err
	}
	defer logger.Close()

	telCfg := telemetry.DefaultConfig()
	telCfg.Writer = cmd.ErrOrStderr()
	if learnTrace != "" {
		telCfg.TraceExporter = learnTrace
	}
	if learnMetrics != "" {
		telCfg.MetricExporter = learnMetrics
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	knowledge, examples, err := kb.Load(learnKB)
	if err != nil {
		return err
	}

	cfg, err := learnSearchConfig(cmd, telCfg)
	if err != nil {
		return err
	}

	reasoner, err := kb.NewReasoner(knowledge, kb.DefaultCacheSize, kb.WithReasonerLogger(logger.Slog()))
	if err != nil {
		return err
	}
	operator := kb.NewOperator(knowledge, kb.DefaultOperatorConfig())

	metrics, err := telemetry.NewMetrics(otel.Meter("parcel"))
	if err != nil {
		return err
	}

	problem := search.LearningProblem{
		Name:      learnProblem,
		Positives: examples.Positives,
		Negatives: examples.Negatives,
	}
	if problem.Name == "" {
		problem.Name = knowledge.Name()
	}

	learner := search.NewLearner(problem, reasoner, operator, cfg,
		search.WithLogger(logger.Slog()),
		search.WithListener(func(kind search.DefinitionKind, node *search.SearchNode) {
			metrics.RecordDefinition(ctx, string(kind))
			logger.Debug("definition accepted",
				slog.String("kind", string(kind)),
				slog.String("expression", node.Expression.String()),
				slog.Int("covered_positive", node.CoveredPositive.Len()),
				slog.Int("covered_negative", node.CoveredNegative.Len()),
			)
		}),
	)

	if learnMonitor != "" {
		monCfg := monitor.DefaultConfig()
		monCfg.Addr = learnMonitor
		srv := monitor.New(monCfg, learner, metrics, logger.Slog(), monitor.WithRecentLogs(recent))
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				logger.Warn("monitor shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	release := stopOnSignal(ctx, learner, logger)
	defer release()

	logger.Info("learning",
		slog.String("problem", problem.Name),
		slog.String("kb", knowledge.Name()),
		slog.Int("positives", problem.Positives.Len()),
		slog.Int("negatives", problem.Negatives.Len()),
		slog.Int("workers", cfg.NumberOfWorkers),
	)
	report, err := learner.Start(ctx)
	if err != nil {
		return err
	}
	metrics.RecordRun(ctx, string(report.Reason), report.Duration)

	if !learnNoStore {
		if err := saveRun(ctx, logger, report, knowledge.Name(), cfg); err != nil {
			logger.Warn("run not saved", slog.String("run_id", report.RunID), slog.String("error", err.Error()))
		}
	}

	if learnJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

// learnSearchConfig loads the search config and applies flag overrides.
func learnSearchConfig(cmd *cobra.Command, telCfg telemetry.Config) (search.Config, error) {
	cfg, err := search.LoadConfig(learnConfig)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.MaxExecutionTimeInSeconds = learnTimeout
	}
	if flags.Changed("workers") {
		cfg.NumberOfWorkers = learnWorkers
	}
	if flags.Changed("noise") {
		cfg.NoisePercentage = learnNoise
	}
	if flags.Changed("combination") {
		cfg.Combination = search.CombinationStrategy(learnCombination)
	}
	if telCfg.TraceExporter != "" && telCfg.TraceExporter != "none" {
		cfg.Observability.TracingEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// stopOnSignal stops the learner on the first SIGINT or SIGTERM. The returned
// func releases the signal handler; a later signal gets default handling.
func stopOnSignal(ctx context.Context, learner *search.Learner, logger *logging.Logger) (release func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			logger.Info("signal received, stopping search", slog.String("signal", sig.String()))
			learner.Stop()
		case <-done:
		case <-ctx.Done():
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func saveRun(ctx context.Context, logger *logging.Logger, report *search.Report, kbName string, cfg search.Config) error {
	runs, err := openStore(logger)
	if err != nil {
		return err
	}
	defer runs.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := runs.Save(ctx, store.NewRunRecord(report, kbName, cfg)); err != nil {
		return err
	}
	logger.Debug("run saved", slog.String("run_id", report.RunID), slog.String("store", storePath))
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r *search.Report) {
	p := ux.NewPrinter(w)
	p.Title("Run %s (%s)", r.RunID, r.Problem)
	p.Field("Terminated", "%s after %s", p.Outcome(string(r.Reason), r.Done), r.Duration.Round(time.Millisecond))
	p.Field("Evaluated", "%d expressions", r.Stats.ExpressionsEvaluated)
	p.Field("Partials", "%d (%d from combination), counter-partials: %d",
		len(r.PartialDefinitions), r.CombinedPartials, len(r.CounterPartialDefinitions))

	if r.Final == nil {
		p.Field("Definition", "none found")
		return
	}
	p.Expression("Definition", r.Grouped)
	p.Field("Accuracy", "%.2f%%", 100*r.Accuracy)
	p.Field("Completeness", "%.2f%%", 100*r.Completeness)

	if len(r.Reduced) > 1 {
		p.Section("Reduced partial definitions")
		for i, d := range r.Reduced {
			p.Item("%d. %s  +%d (%.1f%%)", i+1, d.Node.Expression, d.Contribution, 100*d.Fraction)
			if len(d.Node.CompositeList) > 0 {
				parts := make([]string, len(d.Node.CompositeList))
				for j, c := range d.Node.CompositeList {
					parts[j] = c.Expression.String()
				}
				p.Note("combined with: %s", strings.Join(parts, ", "))
			}
		}
	}
}
