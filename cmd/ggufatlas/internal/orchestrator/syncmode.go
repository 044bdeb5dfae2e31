// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// ArbitrationConfig tunes sync-mode selection.
type ArbitrationConfig struct {
	// FullSyncThresholdHours is the maximum age of the last successful
	// sync before a full sync is forced. Default: 168 (one week).
	FullSyncThresholdHours int

	// IncrementalWindowHours keeps only records modified inside this
	// window during an incremental run. Default: 48.
	IncrementalWindowHours int

	// SignificantChangeThreshold escalates incremental to full when
	// the processed-count change ratio exceeds it. Default: 0.1.
	SignificantChangeThreshold float64
}

func (c ArbitrationConfig) withDefaults() ArbitrationConfig {
	if c.FullSyncThresholdHours <= 0 {
		c.FullSyncThresholdHours = 168
	}
	if c.IncrementalWindowHours <= 0 {
		c.IncrementalWindowHours = 48
	}
	if c.SignificantChangeThreshold <= 0 {
		c.SignificantChangeThreshold = 0.1
	}
	return c
}

// Arbitrate picks the effective sync mode.
//
// A recent successful sync downgrades a full run to incremental.
// Retention requests pass through untouched.
func Arbitrate(prev *catalog.SyncMetadata, requested catalog.SyncMode, now time.Time, cfg ArbitrationConfig) catalog.SyncMode {
	cfg = cfg.withDefaults()
	if requested == catalog.SyncRetention || requested == catalog.SyncIncremental {
		return requested
	}
	if prev == nil || !prev.Success {
		return catalog.SyncFull
	}
	threshold := time.Duration(cfg.FullSyncThresholdHours) * time.Hour
	if now.Sub(prev.LastSyncTime) < threshold {
		return catalog.SyncIncremental
	}
	return catalog.SyncFull
}

// ShouldEscalate reports whether the processed-count change between
// runs is large enough to force a full sync.
func ShouldEscalate(previousProcessed, currentProcessed int, cfg ArbitrationConfig) bool {
	cfg = cfg.withDefaults()
	if previousProcessed <= 0 {
		return false
	}
	delta := currentProcessed - previousProcessed
	if delta < 0 {
		delta = -delta
	}
	ratio := float64(delta) / float64(previousProcessed)
	return ratio > cfg.SignificantChangeThreshold
}

// FilterIncremental keeps records whose last modification falls inside
// the incremental window. Records without a timestamp are kept.
func FilterIncremental(records []catalog.ModelRecord, now time.Time, cfg ArbitrationConfig) []catalog.ModelRecord {
	cfg = cfg.withDefaults()
	cutoff := now.Add(-time.Duration(cfg.IncrementalWindowHours) * time.Hour)

	kept := make([]catalog.ModelRecord, 0, len(records))
	for _, r := range records {
		if r.LastModified != nil && r.LastModified.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}
