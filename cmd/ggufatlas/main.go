// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// ggufatlas harvests GGUF model metadata from the hub and publishes
// the static dataset consumed by the atlas website.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/config"
	"github.com/ggufatlas/ggufatlas/pkg/logging"
)

// version is injected at build time via -ldflags.
var version = "dev"

var (
	cfgPath  string
	logLevel string
	logDir   string

	cfg    config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ggufatlas",
	Short: "GGUF model metadata harvesting pipeline",
	Long: `ggufatlas discovers GGUF-tagged models on the hub, enriches them
with file metadata, validates and repairs the records, and publishes the
JSON artifacts the atlas website serves.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ggufatlas version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ggufatlas %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "enable file logging to this directory")

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logDir != "" {
			cfg.Logging.LogDir = logDir
		}

		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.LogDir,
			Service: "ggufatlas",
			JSON:    true,
		})
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}
