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
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/parcel/pkg/ux"
	"github.com/AleutianAI/parcel/services/parcel/search"
	"github.com/AleutianAI/parcel/services/parcel/store"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runsLimit int
	runsJSON  bool
)

// errNoRuns is returned by "runs show latest" on an empty store.
var errNoRuns = errors.New("no runs recorded")

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var (
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect saved learning runs",
	}

	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runRunsList,
	}

	runsShowCmd = &cobra.Command{
		Use:   "show [run-id|latest]",
		Short: "Show one saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}

	runsDeleteCmd = &cobra.Command{
		Use:   "delete [run-id]",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsDelete,
	}
)

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list (0 for all)")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "output as JSON")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runRunsList(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	runs, err := openStore(logger)
	if err != nil {
		return err
	}
	defer runs.Close()

	records, err := runs.List(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	printRunTable(cmd.OutOrStdout(), records)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	runs, err := openStore(logger)
	if err != nil {
		return err
	}
	defer runs.Close()

	var rec store.RunRecord
	if args[0] == "latest" {
		latest, err := runs.List(cmd.Context(), 1)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			return errNoRuns
		}
		rec = latest[0]
	} else if rec, err = runs.Get(cmd.Context(), args[0]); err != nil {
		return err
	}

	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	printRunRecord(cmd.OutOrStdout(), rec)
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	runs, err := openStore(logger)
	if err != nil {
		return err
	}
	defer runs.Close()

	if err := runs.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func printRunTable(w io.Writer, records []store.RunRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tPROBLEM\tREASON\tDURATION\tACCURACY\tDEFINITION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Problem,
			r.Reason,
			r.Duration.Round(time.Millisecond),
			100*r.Accuracy,
			r.Final,
		)
	}
	_ = tw.Flush()
}

func printRunRecord(w io.Writer, r store.RunRecord) {
	p := ux.NewPrinter(w)
	p.Title("Run %s", r.ID)
	p.Field("Problem", "%s (kb %s)", r.Problem, r.KnowledgeBase)
	p.Field("Started", "%s", r.StartedAt.Local().Format(time.RFC3339))
	p.Field("Terminated", "%s after %s",
		p.Outcome(string(r.Reason), r.Reason == search.ReasonPartialDefinitions),
		r.Duration.Round(time.Millisecond))
	p.Field("Workers", "%d, combination %s", r.Config.NumberOfWorkers, r.Config.Combination)
	p.Field("Evaluated", "%d expressions", r.Stats.ExpressionsEvaluated)
	if r.Final == "" {
		p.Field("Definition", "none found")
	} else {
		p.Expression("Definition", r.Grouped)
		p.Field("Accuracy", "%.2f%%", 100*r.Accuracy)
		p.Field("Completeness", "%.2f%%", 100*r.Completeness)
	}
	printDefinitions(p, "Reduced", r.Reduced)
	printDefinitions(p, "Partial definitions", r.PartialDefinitions)
	printDefinitions(p, "Counter-partial definitions", r.CounterPartialDefinitions)
}

func printDefinitions(p *ux.Printer, title string, defs []store.Definition) {
	if len(defs) == 0 {
		return
	}
	p.Section(title)
	for _, d := range defs {
		p.Item("%s  (+%d / -%d)", d.Expression, d.CoveredPositive, d.CoveredNegative)
		if len(d.Composite) > 0 {
			p.Note("combined with: %s", strings.Join(d.Composite, ", "))
		}
	}
}
