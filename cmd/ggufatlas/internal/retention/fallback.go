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
	"log/slog"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// FallbackMaxAge bounds how stale replayed state may be. Anything older
// would publish a dataset the freshness indicator could not honestly
// call current.
const FallbackMaxAge = 24 * time.Hour

// fallbackConfidence marks replayed refs as degraded relative to a
// live listing.
const fallbackConfidence = 0.8

// Fallback rebuilds phase inputs from persisted state when the hub is
// unreachable.
//
// # Description
//
// The leaderboard falls back to the last ranking snapshot; the recent
// window falls back to the last saved extraction. Both refuse data
// older than FallbackMaxAge, so a run degraded this way still serves
// same-day state.
type Fallback struct {
	store  *StateStore
	logger *slog.Logger

	// now is a test seam.
	now func() time.Time
}

// NewFallback builds a fallback provider over the state store.
func NewFallback(store *StateStore, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{store: store, logger: logger, now: time.Now}
}

// TopModels replays the last persisted leaderboard. Returns false when
// no snapshot exists, it is too stale, or it cannot be read.
func (f *Fallback) TopModels() (*TopModelsResult, bool) {
	snap, err := f.store.LoadRanking()
	if err != nil || snap == nil {
		return nil, false
	}
	age := f.now().UTC().Sub(snap.TakenAt)
	if age > FallbackMaxAge {
		f.logger.Warn("ranking snapshot too stale for fallback",
			"taken_at", snap.TakenAt, "age", age)
		return nil, false
	}

	result := &TopModelsResult{Rankings: snap.Rankings}
	for _, r := range snap.Rankings {
		result.Models = append(result.Models, catalog.ModelRef{
			ID:              r.ModelID,
			DiscoveryMethod: MethodTopDownloads,
			ConfidenceScore: fallbackConfidence,
			Source:          string(catalog.SourceTop),
			Attributes: map[string]any{
				"downloads": r.DownloadCount,
				"rank":      r.Rank,
			},
		})
	}
	f.logger.Info("leaderboard served from last snapshot",
		"taken_at", snap.TakenAt, "models", len(result.Models))
	return result, true
}

// RecentModels replays the last persisted recent-window extraction.
// Returns false when no snapshot exists, it is too stale, or it cannot
// be read.
func (f *Fallback) RecentModels() (*DateFilterResult, bool) {
	snap, err := f.store.LoadRecentWindow()
	if err != nil || snap == nil {
		return nil, false
	}
	age := f.now().UTC().Sub(snap.SavedAt)
	if age > FallbackMaxAge {
		f.logger.Warn("recent-window snapshot too stale for fallback",
			"saved_at", snap.SavedAt, "age", age)
		return nil, false
	}

	models := make([]catalog.ModelRef, len(snap.Models))
	copy(models, snap.Models)
	for i := range models {
		if models[i].ConfidenceScore > fallbackConfidence {
			models[i].ConfidenceScore = fallbackConfidence
		}
	}
	f.logger.Info("recent window served from last snapshot",
		"saved_at", snap.SavedAt, "models", len(models))
	return &DateFilterResult{
		Models:  models,
		From:    snap.From,
		To:      snap.To,
		Success: true,
	}, true
}
