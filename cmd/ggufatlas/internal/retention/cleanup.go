// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Preservation reasons recorded on retained metadata.
const (
	ReasonCurrentTop         = "current_top_model"
	ReasonHighDownloads      = "high_downloads"
	ReasonRecent             = "recent"
	ReasonRecentlyDiscovered = "recently_discovered"
)

// CleanupConfig controls the G4 phase.
type CleanupConfig struct {
	// Enabled gates the whole phase. Disabled produces an empty
	// successful report.
	Enabled bool

	// WindowDays matches the recency window. Default: 30.
	WindowDays int

	// PreserveThreshold keeps any model at or above this download
	// count. Default: 1000.
	PreserveThreshold int64

	// BatchSize bounds one removal batch. Default: 100.
	BatchSize int

	// BatchPause rests between batches. Default: 100ms.
	BatchPause time.Duration

	// BackupDir, when set, receives a copy of each model's files and a
	// manifest before deletion.
	BackupDir string
}

// CleanupResult is the G4 phase output.
type CleanupResult struct {
	Tracked    int           `json:"tracked"`
	Preserved  int           `json:"preserved"`
	Removed    int           `json:"removed"`
	FreedBytes int64         `json:"freedBytes"`
	FreedHuman string        `json:"freedHuman"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
}

// Cleanup removes tracked models that fell out of every retention rule.
type Cleanup struct {
	store  *StateStore
	cfg    CleanupConfig
	logger *slog.Logger
	now    func() time.Time

	// sleep is a test seam for the inter-batch pause.
	sleep func(context.Context, time.Duration) error
}

// NewCleanup builds the G4 remover.
func NewCleanup(store *StateStore, cfg CleanupConfig, logger *slog.Logger) *Cleanup {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.PreserveThreshold <= 0 {
		cfg.PreserveThreshold = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Run marks and removes cleanup-eligible models.
//
// # Description
//
// A tracked model is preserved when any rule holds: it is in the
// current top-K set, its download count meets the preserve threshold,
// it was updated inside the window, or it was first seen inside the
// window. Everything else is removed in batches with a pause between
// batches. Freed bytes are summed before deletion.
func (c *Cleanup) Run(ctx context.Context, topIDs map[string]bool) (*CleanupResult, error) {
	start := c.now()
	result := &CleanupResult{Success: true}

	if !c.cfg.Enabled {
		c.logger.Info("cleanup disabled by configuration")
		result.FreedHuman = humanize.Bytes(0)
		return result, nil
	}

	tracked, err := c.store.LoadMetadata()
	if err != nil {
		result.Success = false
		return result, err
	}
	result.Tracked = len(tracked)

	cutoff := start.UTC().AddDate(0, 0, -c.cfg.WindowDays)
	var eligible []catalog.RetentionMetadata
	for id, meta := range tracked {
		if reason, keep := c.preserveReason(meta, topIDs, cutoff); keep {
			meta.RetentionReason = reason
			meta.CleanupEligible = false
			tracked[id] = meta
			result.Preserved++
			continue
		}
		meta.CleanupEligible = true
		tracked[id] = meta
		eligible = append(eligible, meta)
	}

	for len(eligible) > 0 {
		n := c.cfg.BatchSize
		if n > len(eligible) {
			n = len(eligible)
		}
		batch := eligible[:n]
		eligible = eligible[n:]
		result.Batches++

		for _, meta := range batch {
			if err := c.removeModel(meta); err != nil {
				c.logger.Warn("model removal failed", "model", meta.ModelID, "error", err)
				result.Success = false
				continue
			}
			result.FreedBytes += meta.FileSizeBytes
			result.Removed++
			delete(tracked, meta.ModelID)
		}

		if len(eligible) > 0 {
			if err := c.sleep(ctx, c.cfg.BatchPause); err != nil {
				result.Success = false
				break
			}
		}
	}

	if err := c.store.SaveMetadata(tracked); err != nil {
		result.Success = false
		return result, err
	}

	result.FreedHuman = humanize.Bytes(uint64(result.FreedBytes))
	result.Duration = time.Since(start)
	c.logger.Info("cleanup finished",
		"tracked", result.Tracked,
		"preserved", result.Preserved,
		"removed", result.Removed,
		"freed", result.FreedHuman,
		"batches", result.Batches,
	)
	return result, nil
}

// preserveReason returns the first matching preservation rule.
func (c *Cleanup) preserveReason(meta catalog.RetentionMetadata, topIDs map[string]bool, cutoff time.Time) (string, bool) {
	switch {
	case topIDs[meta.ModelID]:
		return ReasonCurrentTop, true
	case meta.DownloadCount >= c.cfg.PreserveThreshold:
		return ReasonHighDownloads, true
	case !meta.LastUpdated.Before(cutoff):
		return ReasonRecent, true
	case !meta.FirstSeen.Before(cutoff):
		return ReasonRecentlyDiscovered, true
	}
	return "", false
}

// removeModel backs up (when configured) and deletes one model's files.
func (c *Cleanup) removeModel(meta catalog.RetentionMetadata) error {
	if c.cfg.BackupDir != "" && len(meta.FilePaths) > 0 {
		if err := c.backupModel(meta); err != nil {
			return fmt.Errorf("backup before delete: %w", err)
		}
	}
	for _, path := range meta.FilePaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

// backupModel copies the model's files under the backup directory with
// a manifest describing what was removed and why.
func (c *Cleanup) backupModel(meta catalog.RetentionMetadata) error {
	dir := filepath.Join(c.cfg.BackupDir, safeModelDir(meta.ModelID))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	for i, path := range meta.FilePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		target := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, filepath.Base(path)))
		if err := os.WriteFile(target, data, 0640); err != nil {
			return err
		}
	}

	manifest := map[string]any{
		"model_id":        meta.ModelID,
		"removed_at":      c.now().UTC().Format(time.RFC3339),
		"file_paths":      meta.FilePaths,
		"file_size_bytes": meta.FileSizeBytes,
		"source":          meta.Source,
	}
	return artifacts.WriteJSONAtomic(filepath.Join(dir, "metadata.json"), manifest)
}

// safeModelDir flattens a model id into a single directory name.
func safeModelDir(id string) string {
	return strings.ReplaceAll(id, "/", "__")
}
