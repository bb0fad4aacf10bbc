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
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/parcel/pkg/logging"
	"github.com/AleutianAI/parcel/services/parcel/store"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	logLevel  string // debug, info, warn, error
	logDir    string // optional JSON log directory
	logJSON   bool   // JSON console logs
	logExport string // optional plain-text log file, appended to
	storePath string // run history database directory

	rootCmd = &cobra.Command{
		Use:   "parcel",
		Short: "Parallel class expression learning",
		Long: `parcel searches for class expressions that separate positive from
negative examples in a knowledge base. Workers refine candidate expressions
in parallel; partial definitions are combined into a final disjunction.

Examples:
  parcel learn --kb family.yaml
  parcel learn --kb family.yaml --config parcel.yaml --monitor 127.0.0.1:9464
  parcel runs list
  parcel runs show 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write console logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logExport, "log-export", "", "also append log lines to this file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", defaultStorePath(), "run history database directory")

	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(runsCmd)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func defaultStorePath() string {
	if v := os.Getenv("PARCEL_STORE"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parcel/runs"
	}
	return filepath.Join(home, ".parcel", "runs")
}

// newLogger builds the CLI logger from the global flags. Console output goes
// to w so command results on stdout stay machine readable. extra exporters
// receive every record alongside the --log-export file.
func newLogger(w io.Writer, extra ...logging.LogExporter) (*logging.Logger, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	exporters := extra
	if logExport != "" {
		file, err := logging.NewFileExporter(logExport)
		if err != nil {
			return nil, err
		}
		exporters = append([]logging.LogExporter{file}, extra...)
	}
	return logging.New(logging.Config{
		Level:    level,
		LogDir:   logDir,
		Service:  "parcel",
		JSON:     logJSON,
		Output:   w,
		Exporter: logging.NewMultiExporter(exporters...),
	}), nil
}

func openStore(logger *logging.Logger) (*store.RunStore, error) {
	cfg := store.DefaultConfig(storePath)
	cfg.Logger = logger.Slog()
	return store.Open(cfg)
}
