// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package freshness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

func recordModifiedAgo(id string, hours float64, syncStart time.Time) catalog.ModelRecord {
	mod := syncStart.Add(-time.Duration(hours * float64(time.Hour)))
	return catalog.ModelRecord{ID: id, LastModified: &mod}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusFresh, StatusFor(0))
	assert.Equal(t, StatusFresh, StatusFor(23.9))
	assert.Equal(t, StatusStale, StatusFor(24))
	assert.Equal(t, StatusStale, StatusFor(25))
	assert.Equal(t, StatusVeryStale, StatusFor(25.1))
	assert.Equal(t, StatusUnknown, StatusFor(-1))
}

func TestStampRecords(t *testing.T) {
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	records := []catalog.ModelRecord{
		recordModifiedAgo("org/fresh", 2, syncStart),
		recordModifiedAgo("org/stale", 24.5, syncStart),
		recordModifiedAgo("org/ancient", 700, syncStart),
		{ID: "org/undated"},
	}

	tr := NewTracker(syncStart, nil)
	tr.now = func() time.Time { return syncStart.Add(3 * time.Hour) }
	tr.Stamp(records)

	assert.Equal(t, StatusFresh, records[0].Freshness.Status)
	assert.InDelta(t, 2.0, records[0].Freshness.HoursSinceModified, 0.001)
	assert.Equal(t, StatusStale, records[1].Freshness.Status)
	assert.Equal(t, StatusVeryStale, records[2].Freshness.Status)
	assert.Equal(t, StatusUnknown, records[3].Freshness.Status)
	assert.Equal(t, -1.0, records[3].Freshness.HoursSinceModified)

	for _, r := range records {
		assert.Equal(t, syncStart, r.Freshness.LastSynced)
		assert.InDelta(t, 3.0, r.Freshness.HoursSinceSynced, 0.001)
	}
}

func TestBuildMetadata(t *testing.T) {
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	records := []catalog.ModelRecord{
		recordModifiedAgo("org/a", 1, syncStart),
		recordModifiedAgo("org/b", 10, syncStart),
		recordModifiedAgo("org/c", 48, syncStart),
		{ID: "org/undated"},
	}

	tr := NewTracker(syncStart, nil)
	tr.now = func() time.Time { return syncStart.Add(time.Hour) }
	tr.Stamp(records)

	meta := tr.BuildMetadata(records, 90*time.Second)
	assert.Equal(t, 4, meta.TotalModels)
	assert.Equal(t, 2, meta.FreshCount)
	assert.Equal(t, 1, meta.VeryStaleCount)
	assert.Equal(t, 3, meta.WithTimestamps)
	assert.Equal(t, 1, meta.WithoutTimestamps)
	assert.InDelta(t, 0.5, meta.FreshnessScore, 0.001)
	assert.Equal(t, 90.0, meta.SyncDuration)

	require.NotNil(t, meta.OldestModified)
	require.NotNil(t, meta.NewestModified)
	assert.Equal(t, syncStart.Add(-48*time.Hour), *meta.OldestModified)
	assert.Equal(t, syncStart.Add(-1*time.Hour), *meta.NewestModified)

	assert.Empty(t, meta.Warnings)
}

func TestBuildMetadataWarnings(t *testing.T) {
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	records := []catalog.ModelRecord{
		recordModifiedAgo("org/a", 100, syncStart),
		recordModifiedAgo("org/b", 200, syncStart),
		{ID: "org/undated"},
	}

	tr := NewTracker(syncStart, nil)
	// Observed 30 hours after the sync ran.
	tr.now = func() time.Time { return syncStart.Add(30 * time.Hour) }
	tr.Stamp(records)

	meta := tr.BuildMetadata(records, time.Minute)
	// Very-stale majority, untimestamped fraction, and old sync.
	assert.Len(t, meta.Warnings, 3)
	assert.Zero(t, meta.FreshnessScore)
}

func TestBuildIndicator(t *testing.T) {
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(syncStart, nil)

	cases := []struct {
		hoursAfter float64
		status     string
		color      string
		warn       bool
	}{
		{2, StatusFresh, "green", false},
		{24.5, StatusStale, "yellow", false},
		{30, StatusVeryStale, "red", true},
	}
	for _, tc := range cases {
		tr.now = func() time.Time {
			return syncStart.Add(time.Duration(tc.hoursAfter * float64(time.Hour)))
		}
		ind := tr.BuildIndicator(&Metadata{LastSynced: syncStart, Warnings: []string{}})
		assert.Equal(t, tc.status, ind.Status)
		assert.Equal(t, tc.color, ind.StatusColor)
		assert.Equal(t, tc.warn, ind.ShowStalenessWarning)
	}
}

func TestBuildIndicatorMessages(t *testing.T) {
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(syncStart, nil)

	tr.now = func() time.Time { return syncStart.Add(20 * time.Minute) }
	assert.Equal(t, "Updated less than an hour ago",
		tr.BuildIndicator(&Metadata{LastSynced: syncStart}).Message)

	tr.now = func() time.Time { return syncStart.Add(90 * time.Minute) }
	assert.Equal(t, "Updated 1 hour ago",
		tr.BuildIndicator(&Metadata{LastSynced: syncStart}).Message)

	tr.now = func() time.Time { return syncStart.Add(5 * time.Hour) }
	assert.Equal(t, "Updated 5 hours ago",
		tr.BuildIndicator(&Metadata{LastSynced: syncStart}).Message)
}

func TestIndicatorWarningFromMetadata(t *testing.T) {
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(syncStart, nil)
	tr.now = func() time.Time { return syncStart.Add(time.Hour) }

	ind := tr.BuildIndicator(&Metadata{
		LastSynced: syncStart,
		Warnings:   []string{"3 of 4 models are very stale"},
	})
	assert.Equal(t, StatusFresh, ind.Status)
	assert.True(t, ind.ShowStalenessWarning, "warnings force the banner even when fresh")
}

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	syncStart := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(syncStart, nil)
	tr.now = func() time.Time { return syncStart.Add(time.Hour) }

	meta := tr.BuildMetadata(nil, time.Minute)
	ind := tr.BuildIndicator(meta)
	require.NoError(t, tr.WriteArtifacts(dir, meta, ind))

	for _, name := range []string{MetadataFile, IndicatorFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}
