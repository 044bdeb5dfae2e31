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
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// Discovery method tags for retention-sourced refs.
const (
	MethodDateFiltered       = "date_filtered"
	MethodDateFilteredNoDate = "date_filtered_no_date"
)

// DateFilterConfig controls the recent-window extraction.
type DateFilterConfig struct {
	// WindowDays is the recency window. Default: 30.
	WindowDays int

	// KeepUndated retains models without a creation timestamp at
	// reduced confidence instead of dropping them.
	KeepUndated bool
}

// DateFilterResult is the G1 phase output.
type DateFilterResult struct {
	Models   []catalog.ModelRef `json:"-"`
	From     time.Time          `json:"from"`
	To       time.Time          `json:"to"`
	APICalls int                `json:"apiCalls"`
	Duration time.Duration      `json:"duration"`
	Success  bool               `json:"success"`
}

// DateFilter extracts models created inside the recency window.
type DateFilter struct {
	client  hub.Client
	fetcher *fetch.Fetcher
	cfg     DateFilterConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewDateFilter builds the G1 extractor.
func NewDateFilter(client hub.Client, fetcher *fetch.Fetcher, cfg DateFilterConfig, logger *slog.Logger) *DateFilter {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DateFilter{client: client, fetcher: fetcher, cfg: cfg, logger: logger, now: time.Now}
}

// Extract lists gguf models newest-first and keeps those created at or
// after the cutoff.
//
// # Description
//
// The listing is sorted by creation time descending, so the scan stops
// at the first dated model older than the cutoff. Undated models are
// kept at confidence 0.8 when KeepUndated is set, otherwise skipped.
// Timestamps without a zone are treated as UTC by the hub client.
func (f *DateFilter) Extract(ctx context.Context) (*DateFilterResult, error) {
	start := f.now()
	cutoff := start.UTC().AddDate(0, 0, -f.cfg.WindowDays)
	result := &DateFilterResult{From: cutoff, To: start.UTC()}

	var summaries []hub.ModelSummary
	err := f.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		summaries, err = f.client.ListModels(ctx, hub.ListParams{
			Filter: "gguf", Sort: hub.SortCreatedAt, Direction: -1,
		})
		return err
	})
	result.APICalls = 1
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("date-filtered listing: %w", err)
	}

	for _, m := range summaries {
		if !catalog.ValidModelID(m.ID) {
			continue
		}
		if m.CreatedAt == nil {
			if f.cfg.KeepUndated && catalog.LikelyHasGGUF(m.ID, m.Tags) {
				result.Models = append(result.Models, refFromSummary(m, MethodDateFilteredNoDate, 0.8))
			}
			continue
		}
		if m.CreatedAt.Before(cutoff) {
			// Sorted by creation descending: everything after this is
			// older still.
			break
		}
		if !catalog.LikelyHasGGUF(m.ID, m.Tags) {
			continue
		}
		result.Models = append(result.Models, refFromSummary(m, MethodDateFiltered, 1.0))
	}

	result.Success = true
	result.Duration = time.Since(start)
	f.logger.Info("recent-window extraction finished",
		"window_days", f.cfg.WindowDays,
		"models", len(result.Models),
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return result, nil
}

// refFromSummary converts a hub summary into a retention ref.
func refFromSummary(m hub.ModelSummary, method string, confidence float64) catalog.ModelRef {
	attrs := map[string]any{
		"downloads": m.Downloads,
		"likes":     m.Likes,
		"tags":      m.Tags,
	}
	if m.CreatedAt != nil {
		attrs["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	if m.LastModified != nil {
		attrs["last_modified"] = m.LastModified.UTC().Format(time.RFC3339)
	}
	return catalog.ModelRef{
		ID:              m.ID,
		DiscoveryMethod: method,
		ConfidenceScore: confidence,
		Source:          string(catalog.SourceRecent),
		Attributes:      attrs,
	}
}
