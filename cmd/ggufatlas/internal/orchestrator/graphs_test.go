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
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/completeness"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/retention"
)

// stubHub serves one canned listing for every query and a single-file
// gguf repository for every model.
type stubHub struct {
	models  []hub.ModelSummary
	listErr error
}

func (s *stubHub) ListModels(_ context.Context, _ hub.ListParams) ([]hub.ModelSummary, error) {
	return s.models, s.listErr
}

func (s *stubHub) ModelInfo(_ context.Context, id string) (*hub.ModelSummary, error) {
	return &hub.ModelSummary{ID: id, Siblings: []hub.Sibling{{Rfilename: "model.gguf", Size: 128}}}, nil
}

func (s *stubHub) ListRepoFiles(_ context.Context, _ string) ([]string, error) {
	return []string{"model.gguf"}, nil
}

func (s *stubHub) GetPathsInfo(_ context.Context, _ string, paths []string) ([]hub.PathInfo, error) {
	lm := time.Now().UTC().Add(-100 * time.Hour)
	out := make([]hub.PathInfo, 0, len(paths))
	for _, p := range paths {
		out = append(out, hub.PathInfo{Path: p, Size: 128, LastModified: &lm})
	}
	return out, nil
}

func retentionDeps(t *testing.T, client hub.Client) Deps {
	t.Helper()
	return Deps{
		Hub:            client,
		Fetcher:        fetch.NewFetcher(fetch.FetcherConfig{MaxConcurrency: 4}),
		Store:          retention.NewStateStore(filepath.Join(t.TempDir(), "retention")),
		Logger:         slog.Default(),
		TopModelsCount: 5,
		RetentionDays:  30,
	}
}

// TestRetentionGraphPersistsMergedState covers the graph's durable
// output: after a retention run the tracking table and the merged
// model set are both on disk, so a later cleanup has data to act on.
func TestRetentionGraphPersistsMergedState(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-24 * time.Hour)
	old := now.AddDate(-1, 0, 0)
	d := retentionDeps(t, &stubHub{models: []hub.ModelSummary{
		{ID: "org/fresh-gguf", CreatedAt: &recent, Downloads: 100, Tags: []string{"gguf"}},
		{ID: "org/evergreen-gguf", CreatedAt: &old, Downloads: 50000, Tags: []string{"gguf"}},
	}})

	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention, DataDir: t.TempDir()})
	report := o.Run(context.Background(), BuildRetentionPhases(d))
	require.True(t, report.OverallSuccess)

	table, err := d.Store.LoadMetadata()
	require.NoError(t, err)
	assert.Contains(t, table, "org/fresh-gguf")
	assert.Contains(t, table, "org/evergreen-gguf")
	assert.False(t, table["org/fresh-gguf"].FirstSeen.IsZero())
	assert.Equal(t, int64(50000), table["org/evergreen-gguf"].DownloadCount)

	snap, err := d.Store.LoadTopModels()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Models, 2)

	_, err = os.Stat(d.Store.TopModelsPath())
	assert.NoError(t, err)
}

// TestRetentionGraphDryRunSkipsStateWrites pins the dry-run contract:
// the merge still runs but nothing lands in the state directory.
func TestRetentionGraphDryRunSkipsStateWrites(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-24 * time.Hour)
	d := retentionDeps(t, &stubHub{models: []hub.ModelSummary{
		{ID: "org/fresh-gguf", CreatedAt: &recent, Downloads: 100, Tags: []string{"gguf"}},
	}})
	d.DryRun = true

	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention, DataDir: t.TempDir(), DryRun: true})
	report := o.Run(context.Background(), BuildRetentionPhases(d))
	require.True(t, report.OverallSuccess)

	table, err := d.Store.LoadMetadata()
	require.NoError(t, err)
	assert.Empty(t, table)
	_, err = os.Stat(d.Store.TopModelsPath())
	assert.True(t, os.IsNotExist(err))
}

// TestRetentionGraphFallsBackToSnapshots exercises the degradation
// ladder: with the hub down, both listing phases replay same-day
// snapshots and the run still produces a merged, persisted state.
func TestRetentionGraphFallsBackToSnapshots(t *testing.T) {
	now := time.Now().UTC()
	d := retentionDeps(t, &stubHub{listErr: &hub.APIError{
		StatusCode: http.StatusServiceUnavailable,
		Operation:  "list_models",
		Message:    "upstream unavailable",
	}})

	require.NoError(t, d.Store.SaveRanking(retention.RankingSnapshot{
		TakenAt: now.Add(-2 * time.Hour),
		Rankings: []catalog.TopRanking{
			{ModelID: "org/leader", Rank: 1, DownloadCount: 9000},
		},
	}))
	require.NoError(t, d.Store.SaveRecentWindow(retention.RecentSnapshot{
		SavedAt: now.Add(-2 * time.Hour),
		From:    now.AddDate(0, 0, -30),
		To:      now,
		Models: []catalog.ModelRef{{
			ID:              "org/newcomer",
			DiscoveryMethod: retention.MethodDateFiltered,
			ConfidenceScore: 1.0,
			Source:          string(catalog.SourceRecent),
			Attributes:      map[string]any{"downloads": int64(10)},
		}},
	}))

	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention, DataDir: t.TempDir()})
	report := o.Run(context.Background(), BuildRetentionPhases(d))
	require.True(t, report.OverallSuccess)

	top := report.Phase(PhaseTopModels)
	require.NotNil(t, top)
	assert.Equal(t, true, top.Metrics["recovered"])
	assert.Equal(t, "last_ranking_snapshot", top.Metrics["fallback_source"])

	window := report.Phase(PhaseDateFilter)
	require.NotNil(t, window)
	assert.Equal(t, true, window.Metrics["recovered"])

	table, err := d.Store.LoadMetadata()
	require.NoError(t, err)
	assert.Contains(t, table, "org/leader")
	assert.Contains(t, table, "org/newcomer")
}

func fullDeps(t *testing.T, client hub.Client) Deps {
	t.Helper()
	d := retentionDeps(t, client)
	d.Writer = artifacts.NewWriter(t.TempDir(), false, slog.Default())
	d.SkipAccessChecks = true
	return d
}

// TestFullGraphEscalatesIncrementalRun pins the arbitration follow-up:
// when the processed count swings past the change threshold, the
// incremental filter is skipped and the whole set flows on.
func TestFullGraphEscalatesIncrementalRun(t *testing.T) {
	now := time.Now().UTC()
	lm := now.Add(-100 * time.Hour)
	created := now.AddDate(0, -6, 0)
	models := []hub.ModelSummary{
		{ID: "org/alpha-gguf", CreatedAt: &created, LastModified: &lm, Downloads: 10, Tags: []string{"gguf"}},
		{ID: "org/beta-gguf", CreatedAt: &created, LastModified: &lm, Downloads: 20, Tags: []string{"gguf"}},
		{ID: "org/gamma-gguf", CreatedAt: &created, LastModified: &lm, Downloads: 30, Tags: []string{"gguf"}},
	}

	d := fullDeps(t, &stubHub{models: models})
	d.PrevSync = &catalog.SyncMetadata{ModelsProcessed: 1, Success: true}

	o := newTestOrchestrator(t, Config{Mode: catalog.SyncIncremental, DataDir: t.TempDir()})
	report := o.Run(context.Background(), BuildFullPhases(d, catalog.SyncIncremental, now))
	require.True(t, report.OverallSuccess)

	enrichment := report.Phase(PhaseEnrichment)
	require.NotNil(t, enrichment)
	assert.Equal(t, 3, enrichment.DataCount)
	assert.Equal(t, true, enrichment.Metrics["escalated_to_full"])

	// Control: a stable baseline keeps the window filter, which drops
	// every record modified outside the window.
	d2 := fullDeps(t, &stubHub{models: models})
	d2.PrevSync = &catalog.SyncMetadata{ModelsProcessed: 3, Success: true}

	o2 := newTestOrchestrator(t, Config{Mode: catalog.SyncIncremental, DataDir: t.TempDir()})
	report2 := o2.Run(context.Background(), BuildFullPhases(d2, catalog.SyncIncremental, now))
	require.True(t, report2.OverallSuccess)
	enrichment2 := report2.Phase(PhaseEnrichment)
	require.NotNil(t, enrichment2)
	assert.Zero(t, enrichment2.DataCount)
	assert.Nil(t, enrichment2.Metrics["escalated_to_full"])
}

// TestFullGraphPublishesCompletenessMetadata checks the completeness
// report lands next to the freshness artifacts.
func TestFullGraphPublishesCompletenessMetadata(t *testing.T) {
	now := time.Now().UTC()
	created := now.AddDate(0, -6, 0)
	d := fullDeps(t, &stubHub{models: []hub.ModelSummary{
		{ID: "org/alpha-gguf", CreatedAt: &created, Downloads: 10, Tags: []string{"gguf"}},
	}})

	o := newTestOrchestrator(t, Config{Mode: catalog.SyncFull, DataDir: t.TempDir()})
	report := o.Run(context.Background(), BuildFullPhases(d, catalog.SyncFull, now))
	require.True(t, report.OverallSuccess)

	path := filepath.Join(d.Writer.OutputDir(), "data", completeness.MetadataFile)
	var written completeness.Report
	require.NoError(t, artifacts.ReadJSON(path, &written))
	assert.Equal(t, 1, written.HubTotal)
	assert.Equal(t, 1, written.ProcessedWithFiles)
	assert.NotEmpty(t, written.Status)
}
