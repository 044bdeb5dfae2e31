// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loadable from a YAML file.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Hub contains upstream API settings.
	Hub HubConfig `json:"hub" yaml:"hub"`

	// Fetch contains rate limiting and concurrency settings.
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`

	// Retention contains the retention subsystem settings.
	Retention RetentionConfig `json:"retention" yaml:"retention"`

	// Sync contains sync-mode arbitration settings.
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Completeness contains verification thresholds.
	Completeness CompletenessConfig `json:"completeness" yaml:"completeness"`

	// Validation contains validation engine settings.
	Validation ValidationConfig `json:"validation" yaml:"validation"`

	// Paths contains the on-disk layout.
	Paths PathsConfig `json:"paths" yaml:"paths"`

	// Logging contains logger settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// PreserveDataOnFailure restores the pre-update backup when a run
	// fails.
	PreserveDataOnFailure bool `json:"preserve_data_on_failure" yaml:"preserve_data_on_failure"`
}

// HubConfig contains upstream API settings.
type HubConfig struct {
	// BaseURL is the hub API origin.
	BaseURL string `json:"base_url" yaml:"base_url" validate:"required,url"`

	// Token is the optional bearer token. The GGUFATLAS_HUB_TOKEN
	// environment variable overrides it.
	Token string `json:"token" yaml:"token"`

	// TimeoutSeconds is the per-call network timeout.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gt=0,lte=300"`
}

// FetchConfig contains rate limiting and concurrency settings.
type FetchConfig struct {
	// MaxConcurrency bounds in-flight hub calls.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" validate:"gt=0,lte=500"`

	// RequestsPerSecond is the base rate limit.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`

	// MaxRetries bounds retry attempts per call.
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
}

// RetentionConfig contains the retention subsystem settings.
type RetentionConfig struct {
	// Mode chooses the phase graph: full, retention, or auto.
	Mode string `json:"mode" yaml:"mode" validate:"oneof=full retention auto"`

	// Days is the recency window for extraction and cleanup.
	Days int `json:"days" yaml:"days" validate:"gt=0,lte=365"`

	// TopModelsCount is K for the leaderboard.
	TopModelsCount int `json:"top_models_count" yaml:"top_models_count" validate:"gt=0,lte=1000"`

	// PreserveDownloadThreshold keeps models at or above this count.
	PreserveDownloadThreshold int64 `json:"preserve_download_threshold" yaml:"preserve_download_threshold" validate:"gte=0"`

	// CleanupEnabled gates the cleanup phase.
	CleanupEnabled bool `json:"cleanup_enabled" yaml:"cleanup_enabled"`

	// CleanupBatchSize bounds one removal batch.
	CleanupBatchSize int `json:"cleanup_batch_size" yaml:"cleanup_batch_size" validate:"gt=0"`

	// EnableBackups copies files before cleanup deletes them.
	EnableBackups bool `json:"enable_backups" yaml:"enable_backups"`

	// BackupRetentionDays bounds how long backups are kept.
	BackupRetentionDays int `json:"backup_retention_days" yaml:"backup_retention_days" validate:"gte=0"`

	// RecentModelsPriority keeps undated models at reduced confidence.
	RecentModelsPriority bool `json:"recent_models_priority" yaml:"recent_models_priority"`

	// KeepRankingHistory appends leaderboard snapshots to a history log.
	KeepRankingHistory bool `json:"keep_ranking_history" yaml:"keep_ranking_history"`

	// RankingHistoryDays bounds the history log.
	RankingHistoryDays int `json:"ranking_history_days" yaml:"ranking_history_days" validate:"gt=0"`
}

// SyncConfig contains sync-mode arbitration settings.
type SyncConfig struct {
	// ForceFullSync skips arbitration and always runs full.
	ForceFullSync bool `json:"force_full_sync" yaml:"force_full_sync"`

	// FullSyncThresholdHours is the maximum age of the last successful
	// sync before a full sync is forced.
	FullSyncThresholdHours int `json:"full_sync_threshold_hours" yaml:"full_sync_threshold_hours" validate:"gt=0"`

	// IncrementalWindowHours keeps only recently modified records in an
	// incremental run.
	IncrementalWindowHours int `json:"incremental_window_hours" yaml:"incremental_window_hours" validate:"gt=0"`

	// SignificantChangeThreshold escalates incremental to full.
	SignificantChangeThreshold float64 `json:"significant_change_threshold" yaml:"significant_change_threshold" validate:"gt=0,lte=1"`

	// WallClockBudgetHours bounds the whole run.
	WallClockBudgetHours int `json:"wall_clock_budget_hours" yaml:"wall_clock_budget_hours" validate:"gt=0,lte=24"`
}

// CompletenessConfig contains verification thresholds.
type CompletenessConfig struct {
	// MinScore is the critical-alert floor.
	MinScore float64 `json:"min_completeness_score" yaml:"min_completeness_score" validate:"gte=0,lte=100"`

	// WarningThreshold is the warning-status floor.
	WarningThreshold float64 `json:"warning_threshold" yaml:"warning_threshold" validate:"gte=0,lte=100"`

	// ExcellentThreshold is the excellent-status floor.
	ExcellentThreshold float64 `json:"excellent_threshold" yaml:"excellent_threshold" validate:"gte=0,lte=100"`
}

// ValidationConfig contains validation engine settings.
type ValidationConfig struct {
	// EnableFileVerification turns on download-URL HEAD probes.
	EnableFileVerification bool `json:"enable_file_verification" yaml:"enable_file_verification"`

	// EnableAutomaticFixes turns on the auto-repair pass.
	EnableAutomaticFixes bool `json:"enable_automatic_fixes" yaml:"enable_automatic_fixes"`
}

// PathsConfig contains the on-disk layout.
type PathsConfig struct {
	// DataDir is the artifact and state root.
	DataDir string `json:"data_dir" yaml:"data_dir" validate:"required"`

	// ReportsDir receives update reports.
	ReportsDir string `json:"reports_dir" yaml:"reports_dir" validate:"required"`

	// CacheDir holds the badger cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir" validate:"required"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`

	// LogDir enables file logging when set.
	LogDir string `json:"log_dir" yaml:"log_dir"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Hub: HubConfig{
			BaseURL:        "https://huggingface.co",
			TimeoutSeconds: 30,
		},
		Fetch: FetchConfig{
			MaxConcurrency:    50,
			RequestsPerSecond: 8,
			MaxRetries:        3,
		},
		Retention: RetentionConfig{
			Mode:                      "auto",
			Days:                      30,
			TopModelsCount:            20,
			PreserveDownloadThreshold: 1000,
			CleanupEnabled:            true,
			CleanupBatchSize:          100,
			EnableBackups:             true,
			BackupRetentionDays:       7,
			RecentModelsPriority:      true,
			KeepRankingHistory:        true,
			RankingHistoryDays:        90,
		},
		Sync: SyncConfig{
			FullSyncThresholdHours:     168,
			IncrementalWindowHours:     48,
			SignificantChangeThreshold: 0.1,
			WallClockBudgetHours:       6,
		},
		Completeness: CompletenessConfig{
			MinScore:           90,
			WarningThreshold:   95,
			ExcellentThreshold: 98,
		},
		Validation: ValidationConfig{
			EnableFileVerification: true,
			EnableAutomaticFixes:   true,
		},
		Paths: PathsConfig{
			DataDir:    "data",
			ReportsDir: "reports",
			CacheDir:   ".cache",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		PreserveDataOnFailure: true,
	}
}

// Load reads path over the defaults, applies the token override from
// the environment, and validates the result. An empty path returns the
// validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if token := os.Getenv("GGUFATLAS_HUB_TOKEN"); token != "" {
		cfg.Hub.Token = token
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field consistency.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Completeness.WarningThreshold > cfg.Completeness.ExcellentThreshold {
		return fmt.Errorf("invalid config: warning_threshold %.1f exceeds excellent_threshold %.1f",
			cfg.Completeness.WarningThreshold, cfg.Completeness.ExcellentThreshold)
	}
	if cfg.Completeness.MinScore > cfg.Completeness.WarningThreshold {
		return fmt.Errorf("invalid config: min_completeness_score %.1f exceeds warning_threshold %.1f",
			cfg.Completeness.MinScore, cfg.Completeness.WarningThreshold)
	}
	return nil
}
