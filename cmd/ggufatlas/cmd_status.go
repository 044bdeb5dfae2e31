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

	"github.com/spf13/cobra"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/orchestrator"
)

var statusJSON bool

// statusCmd summarizes the most recent update run.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest update report",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw report as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	store := orchestrator.NewReportStore(cfg.Paths.ReportsDir, logger.Slog())
	report, err := store.Latest()
	if err != nil {
		return err
	}
	if report == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no update has run yet")
		return nil
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	status := "FAILED"
	if report.OverallSuccess {
		status = "OK"
	}
	fmt.Fprintf(out, "Last update: %s (%s mode) — %s\n",
		report.StartTime.Format("2006-01-02 15:04:05 UTC"), report.Mode, status)
	fmt.Fprintf(out, "Duration: %s\n", report.EndTime.Sub(report.StartTime).Round(0))
	fmt.Fprintf(out, "Phases: %d completed, %d failed\n",
		report.PhasesCompleted, report.PhasesFailed)

	for _, p := range report.Phases {
		mark := "ok"
		if !p.Success {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "  %-28s %-4s %6d items  %.1fs\n",
			p.PhaseName, mark, p.DataCount, p.DurationSeconds)
		if p.ErrorMessage != "" {
			fmt.Fprintf(out, "    error: %s\n", p.ErrorMessage)
		}
	}

	if report.APICallsMade > 0 {
		fmt.Fprintf(out, "API calls: %d\n", report.APICallsMade)
	}
	if report.ModelsCleanedUp > 0 {
		fmt.Fprintf(out, "Cleaned up: %d models (%.1f MB freed)\n",
			report.ModelsCleanedUp, report.StorageFreedMB)
	}
	if report.RollbackPerformed {
		fmt.Fprintf(out, "Rollback performed: success=%v\n", report.RollbackSuccessful)
	}
	for _, e := range report.ErrorsEncountered {
		fmt.Fprintf(out, "Error: %s\n", e)
	}
	return nil
}
