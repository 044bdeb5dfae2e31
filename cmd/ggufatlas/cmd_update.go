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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/cachestore"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/orchestrator"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/recovery"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/retention"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/telemetry"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	updateMode        string // retention mode override: full, retention, auto
	updateDryRun      bool   // plan only, write nothing
	updateDataDir     string // override paths.data_dir
	updateMetricsAddr string // serve /metrics when set
	updateSkipAccess  bool   // skip download-URL HEAD probes
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// updateCmd runs one harvesting or retention pass.
//
// # Description
//
// Arbitrates the sync mode from the previous run's metadata, builds the
// matching phase graph, and executes it under the configured wall-clock
// budget. The process exits 0 only when the run reports overall
// success; a dry run exits 0 when the plan itself is valid.
//
// # Examples
//
//	ggufatlas update                        # auto mode
//	ggufatlas update --mode retention       # retention graph only
//	ggufatlas update --dry-run              # plan without writes
//	ggufatlas update --metrics-addr :9090   # expose Prometheus metrics
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run one metadata harvesting pass",
	RunE:  runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateMode, "mode", "", "override retention mode (full, retention, auto)")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "log the plan without writing anything")
	updateCmd.Flags().StringVar(&updateDataDir, "data-dir", "", "override the data directory")
	updateCmd.Flags().StringVar(&updateMetricsAddr, "metrics-addr", "", "serve /metrics on this address")
	updateCmd.Flags().BoolVar(&updateSkipAccess, "skip-access-checks", false, "skip download-URL accessibility probes")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if updateMode != "" {
		cfg.Retention.Mode = updateMode
	}
	if updateDataDir != "" {
		cfg.Paths.DataDir = updateDataDir
	}
	if updateSkipAccess {
		cfg.Validation.EnableFileVerification = false
	}

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if updateMetricsAddr != "" {
		startMetricsServer(ctx, updateMetricsAddr, logger.Slog())
	}

	slogger := logger.Slog()

	pipelineMetrics, err := telemetry.NewMetrics(otel.Meter("ggufatlas"))
	if err != nil {
		slogger.Warn("pipeline metrics unavailable", "error", err)
		pipelineMetrics = nil
	}

	cache, err := cachestore.Open(cachestore.Config{
		Path:   cfg.Paths.CacheDir,
		Logger: slogger,
	})
	if err != nil {
		slogger.Warn("cache unavailable, continuing without it", "error", err)
		cache = nil
	} else {
		defer func() { _ = cache.Close() }()
	}

	// Every hub call goes out through the retry and circuit-breaker
	// decorator; the fetcher still bounds concurrency underneath.
	client := recovery.NewResilientClient(hub.New(hub.Config{
		BaseURL:           cfg.Hub.BaseURL,
		Token:             cfg.Hub.Token,
		Timeout:           time.Duration(cfg.Hub.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Logger:            slogger,
		Metrics:           pipelineMetrics,
	}), recovery.DefaultRetryConfig(), recovery.DefaultBreakerConfig(), slogger)

	fetcherCfg := fetch.DefaultFetcherConfig()
	fetcherCfg.MaxConcurrency = cfg.Fetch.MaxConcurrency
	fetcherCfg.Logger = slogger
	if cfg.Hub.Token != "" {
		fetcherCfg.Limiter.HourlyLimit = 5000
	}
	fetcher := fetch.NewFetcher(fetcherCfg)

	alerts := recovery.NewAlertDispatcher(recovery.SeverityMedium, slogger)
	alerts.Register(&recovery.LogChannel{Logger: slogger})

	dataDir := cfg.Paths.DataDir
	siteRoot := filepath.Dir(dataDir)
	store := retention.NewStateStore(filepath.Join(dataDir, "retention"))
	writer := artifacts.NewWriter(siteRoot, updateDryRun, slogger)
	rollback := recovery.NewRollbackManager(filepath.Join(dataDir, "backups"), slogger)
	reports := orchestrator.NewReportStore(cfg.Paths.ReportsDir, slogger)

	arbitration := orchestrator.ArbitrationConfig{
		FullSyncThresholdHours:     cfg.Sync.FullSyncThresholdHours,
		IncrementalWindowHours:     cfg.Sync.IncrementalWindowHours,
		SignificantChangeThreshold: cfg.Sync.SignificantChangeThreshold,
	}

	prevSync, err := orchestrator.LoadSyncMetadata(dataDir)
	if err != nil {
		return fmt.Errorf("load sync metadata: %w", err)
	}
	mode := resolveMode(prevSync, arbitration)
	slogger.Info("update starting", "mode", mode, "dry_run", updateDryRun)

	deps := orchestrator.Deps{
		Hub:              client,
		Fetcher:          fetcher,
		Cache:            cache,
		Alerts:           alerts,
		Store:            store,
		Writer:           writer,
		Logger:           slogger,
		HubBaseURL:       cfg.Hub.BaseURL,
		RetentionDays:    cfg.Retention.Days,
		TopModelsCount:   cfg.Retention.TopModelsCount,
		KeepUndated:      cfg.Retention.RecentModelsPriority,
		KeepRankHistory:  cfg.Retention.KeepRankingHistory,
		RankHistoryDays:  cfg.Retention.RankingHistoryDays,
		SkipAccessChecks: !cfg.Validation.EnableFileVerification,
		Arbitration:      arbitration,
		PrevSync:         prevSync,
		DryRun:           updateDryRun,
		Cleanup: retention.CleanupConfig{
			Enabled:           cfg.Retention.CleanupEnabled && !updateDryRun,
			WindowDays:        cfg.Retention.Days,
			PreserveThreshold: cfg.Retention.PreserveDownloadThreshold,
			BatchSize:         cfg.Retention.CleanupBatchSize,
			BackupDir:         cleanupBackupDir(dataDir),
		},
	}

	var phases []orchestrator.Phase
	if mode == catalog.SyncRetention {
		phases = orchestrator.BuildRetentionPhases(deps)
	} else {
		phases = orchestrator.BuildFullPhases(deps, mode, time.Now().UTC())
	}

	o := orchestrator.New(orchestrator.Config{
		Mode:                  mode,
		DataDir:               dataDir,
		DryRun:                updateDryRun,
		PreserveDataOnFailure: cfg.PreserveDataOnFailure,
		WallClockBudget:       time.Duration(cfg.Sync.WallClockBudgetHours) * time.Hour,
		Metrics:               pipelineMetrics,
	}, rollback, reports, slogger)

	report := o.Run(ctx, phases)

	slogger.Info("update finished",
		"success", report.OverallSuccess,
		"phases_completed", report.PhasesCompleted,
		"phases_failed", report.PhasesFailed,
		"api_calls", report.APICallsMade,
	)

	if !report.OverallSuccess && !updateDryRun {
		return fmt.Errorf("update failed: %d of %d phases failed",
			report.PhasesFailed, len(report.Phases))
	}
	return nil
}

// resolveMode applies sync-mode arbitration to the configured mode.
func resolveMode(prev *catalog.SyncMetadata, arbitration orchestrator.ArbitrationConfig) catalog.SyncMode {
	if cfg.Retention.Mode == "retention" {
		return catalog.SyncRetention
	}
	if cfg.Sync.ForceFullSync || cfg.Retention.Mode == "full" {
		return catalog.SyncFull
	}
	return orchestrator.Arbitrate(prev, catalog.SyncFull, time.Now().UTC(), arbitration)
}

// cleanupBackupDir returns the cleanup backup root, or "" when backups
// are disabled.
func cleanupBackupDir(dataDir string) string {
	if !cfg.Retention.EnableBackups {
		return ""
	}
	return filepath.Join(dataDir, "backups", "cleanup")
}
