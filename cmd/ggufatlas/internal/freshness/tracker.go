// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package freshness stamps records with sync-relative staleness and
// publishes the site-wide freshness indicator.
package freshness

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Freshness statuses.
const (
	StatusFresh     = "fresh"
	StatusStale     = "stale"
	StatusVeryStale = "very_stale"
	StatusUnknown   = "unknown"
)

// Staleness boundaries in hours since last modification.
const (
	freshHours = 24.0
	staleHours = 25.0
)

// Artifact file names under the data directory.
const (
	MetadataFile  = "freshness_metadata.json"
	IndicatorFile = "freshness_indicators.json"
)

// Metadata is the site-wide freshness aggregate for one sync run.
type Metadata struct {
	LastSynced        time.Time `json:"lastSynced"`
	SyncDuration      float64   `json:"syncDurationSeconds"`
	TotalModels       int       `json:"totalModels"`
	WithTimestamps    int       `json:"modelsWithTimestamps"`
	WithoutTimestamps int       `json:"modelsWithoutTimestamps"`

	FreshCount     int `json:"freshCount"`
	StaleCount     int `json:"staleCount"`
	VeryStaleCount int `json:"veryStaleCount"`

	// FreshnessScore is fresh / total in [0,1]; 0 for an empty run.
	FreshnessScore float64 `json:"freshnessScore"`

	OldestModified *time.Time `json:"oldestModified,omitempty"`
	NewestModified *time.Time `json:"newestModified,omitempty"`

	Warnings []string `json:"warnings"`
}

// Indicator is the user-facing staleness banner data.
type Indicator struct {
	Status               string    `json:"status"`
	StatusColor          string    `json:"statusColor"`
	Message              string    `json:"message"`
	HoursSinceSync       float64   `json:"hoursSinceSync"`
	ShowStalenessWarning bool      `json:"show_staleness_warning"`
	Warnings             []string  `json:"warnings"`
	LastSynced           time.Time `json:"lastSynced"`
}

// Tracker stamps records against a fixed sync start time.
type Tracker struct {
	syncStart time.Time
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker builds a tracker anchored at syncStart.
func NewTracker(syncStart time.Time, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{syncStart: syncStart.UTC(), logger: logger, now: time.Now}
}

// StatusFor classifies hours-since-modified into a freshness status.
func StatusFor(hoursSinceModified float64) string {
	switch {
	case hoursSinceModified < 0:
		return StatusUnknown
	case hoursSinceModified < freshHours:
		return StatusFresh
	case hoursSinceModified <= staleHours:
		return StatusStale
	default:
		return StatusVeryStale
	}
}

// Stamp attaches a FreshnessAnnotation to every record in place.
func (t *Tracker) Stamp(records []catalog.ModelRecord) {
	now := t.now().UTC()
	sinceSync := now.Sub(t.syncStart).Hours()

	for i := range records {
		ann := &catalog.FreshnessAnnotation{
			LastSynced:         t.syncStart,
			HoursSinceModified: -1,
			HoursSinceSynced:   sinceSync,
		}
		if records[i].LastModified != nil {
			ann.HoursSinceModified = t.syncStart.Sub(records[i].LastModified.UTC()).Hours()
		}
		ann.Status = StatusFor(ann.HoursSinceModified)
		records[i].Freshness = ann
	}
}

// BuildMetadata aggregates stamped records into the site-wide view.
//
// # Description
//
// Counts per-status totals, tracks the oldest and newest modification
// timestamps, and collects human-readable warnings: a very-stale
// majority, a large untimestamped fraction, or an old sync.
func (t *Tracker) BuildMetadata(records []catalog.ModelRecord, syncDuration time.Duration) *Metadata {
	meta := &Metadata{
		LastSynced:   t.syncStart,
		SyncDuration: syncDuration.Seconds(),
		TotalModels:  len(records),
		Warnings:     []string{},
	}

	for i := range records {
		ann := records[i].Freshness
		if ann == nil {
			meta.WithoutTimestamps++
			continue
		}
		switch ann.Status {
		case StatusFresh:
			meta.FreshCount++
		case StatusStale:
			meta.StaleCount++
		case StatusVeryStale:
			meta.VeryStaleCount++
		}
		if records[i].LastModified == nil {
			meta.WithoutTimestamps++
			continue
		}
		meta.WithTimestamps++
		mod := records[i].LastModified.UTC()
		if meta.OldestModified == nil || mod.Before(*meta.OldestModified) {
			m := mod
			meta.OldestModified = &m
		}
		if meta.NewestModified == nil || mod.After(*meta.NewestModified) {
			m := mod
			meta.NewestModified = &m
		}
	}

	if meta.TotalModels > 0 {
		meta.FreshnessScore = float64(meta.FreshCount) / float64(meta.TotalModels)

		if meta.VeryStaleCount > meta.TotalModels/2 {
			meta.Warnings = append(meta.Warnings,
				fmt.Sprintf("%d of %d models are very stale", meta.VeryStaleCount, meta.TotalModels))
		}
		if meta.WithoutTimestamps > meta.TotalModels/4 {
			meta.Warnings = append(meta.Warnings,
				fmt.Sprintf("%d models have no modification timestamp", meta.WithoutTimestamps))
		}
	}

	if age := t.now().UTC().Sub(t.syncStart).Hours(); age > staleHours {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("last sync was %.0f hours ago", age))
	}

	return meta
}

// BuildIndicator derives the site banner from the aggregate.
func (t *Tracker) BuildIndicator(meta *Metadata) *Indicator {
	hours := t.now().UTC().Sub(meta.LastSynced).Hours()
	if hours < 0 {
		hours = 0
	}

	ind := &Indicator{
		HoursSinceSync: hours,
		Warnings:       meta.Warnings,
		LastSynced:     meta.LastSynced,
	}
	switch {
	case hours < freshHours:
		ind.Status = StatusFresh
		ind.StatusColor = "green"
	case hours <= staleHours:
		ind.Status = StatusStale
		ind.StatusColor = "yellow"
	default:
		ind.Status = StatusVeryStale
		ind.StatusColor = "red"
	}

	switch {
	case hours < 1:
		ind.Message = "Updated less than an hour ago"
	case hours < 2:
		ind.Message = "Updated 1 hour ago"
	default:
		ind.Message = fmt.Sprintf("Updated %.0f hours ago", hours)
	}

	ind.ShowStalenessWarning = hours > staleHours || len(meta.Warnings) > 0
	return ind
}

// WriteArtifacts persists the metadata and indicator under dataDir.
func (t *Tracker) WriteArtifacts(dataDir string, meta *Metadata, ind *Indicator) error {
	if err := artifacts.WriteJSONAtomic(filepath.Join(dataDir, MetadataFile), meta); err != nil {
		return fmt.Errorf("write freshness metadata: %w", err)
	}
	if err := artifacts.WriteJSONAtomic(filepath.Join(dataDir, IndicatorFile), ind); err != nil {
		return fmt.Errorf("write freshness indicator: %w", err)
	}
	t.logger.Info("freshness artifacts written",
		"total", meta.TotalModels,
		"score", fmt.Sprintf("%.2f", meta.FreshnessScore),
		"status", ind.Status,
	)
	return nil
}
