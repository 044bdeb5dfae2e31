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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/recovery"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/telemetry"
)

func okPhase(name string, count int, metrics map[string]any) Phase {
	return Phase{Name: name, Run: func(_ context.Context) (PhaseOutput, error) {
		return PhaseOutput{Count: count, Metrics: metrics}, nil
	}}
}

func failPhase(name string, err error) Phase {
	return Phase{Name: name, Run: func(_ context.Context) (PhaseOutput, error) {
		return PhaseOutput{}, err
	}}
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	reports := NewReportStore(filepath.Join(cfg.DataDir, "reports"), nil)
	rollback := recovery.NewRollbackManager(filepath.Join(cfg.DataDir, "backups"), nil)
	return New(cfg, rollback, reports, nil)
}

func TestRunAllPhasesSucceed(t *testing.T) {
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention})

	report := o.Run(context.Background(), []Phase{
		okPhase(PhaseTopModels, 20, map[string]any{"api_calls": 1}),
		okPhase(PhaseDateFilter, 150, map[string]any{"api_calls": 2}),
		okPhase(PhaseMerge, 160, map[string]any{"duplicates_removed": 10}),
		okPhase(PhaseCleanup, 5, map[string]any{"freed_bytes": int64(2 * 1024 * 1024)}),
	})

	assert.True(t, report.OverallSuccess)
	assert.Equal(t, 4, report.PhasesCompleted)
	assert.Zero(t, report.PhasesFailed)
	assert.Equal(t, 20, report.TopModelsUpdated)
	assert.Equal(t, 150, report.RecentModelsFetched)
	assert.Equal(t, 160, report.ModelsMerged)
	assert.Equal(t, 10, report.DuplicatesRemoved)
	assert.Equal(t, 5, report.ModelsCleanedUp)
	assert.InDelta(t, 2.0, report.StorageFreedMB, 0.001)
	assert.Equal(t, 3, report.APICallsMade)
}

func TestRunPhaseFailureFailsRun(t *testing.T) {
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention})

	report := o.Run(context.Background(), []Phase{
		okPhase(PhaseTopModels, 20, nil),
		failPhase(PhaseDateFilter, errors.New("hub listing: 503")),
		okPhase(PhaseMerge, 20, nil),
	})

	assert.False(t, report.OverallSuccess)
	assert.Equal(t, 1, report.PhasesFailed)
	require.Len(t, report.ErrorsEncountered, 1)
	assert.Contains(t, report.ErrorsEncountered[0], PhaseDateFilter)

	failed := report.Phase(PhaseDateFilter)
	require.NotNil(t, failed)
	assert.NotEmpty(t, failed.Metrics["error_kind"])
}

func TestRetentionSuccessRequiresCorePhases(t *testing.T) {
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention})

	// All listed phases succeed but the merge never ran.
	report := o.Run(context.Background(), []Phase{
		okPhase(PhaseTopModels, 20, nil),
		okPhase(PhaseDateFilter, 100, nil),
	})
	assert.False(t, report.OverallSuccess, "merge phase missing")
}

func TestFullModeSuccessRule(t *testing.T) {
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncFull})
	report := o.Run(context.Background(), []Phase{
		okPhase(PhaseDiscovery, 500, nil),
		okPhase(PhaseEnrichment, 480, nil),
	})
	assert.True(t, report.OverallSuccess)
	assert.Equal(t, 480, report.TotalModelsProcessed)
}

func TestRunCancellation(t *testing.T) {
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncRetention})

	ctx, cancel := context.WithCancel(context.Background())
	report := o.Run(ctx, []Phase{
		okPhase(PhaseTopModels, 20, nil),
		{Name: PhaseDateFilter, Run: func(ctx context.Context) (PhaseOutput, error) {
			cancel()
			return PhaseOutput{}, ctx.Err()
		}},
		okPhase(PhaseMerge, 0, nil),
	})

	assert.False(t, report.OverallSuccess)
	assert.Equal(t, "cancelled", report.Phase(PhaseDateFilter).ErrorMessage)
	assert.Equal(t, "cancelled", report.Phase(PhaseMerge).ErrorMessage,
		"phases after cancellation never run")
}

func TestRunWallClockBudget(t *testing.T) {
	o := newTestOrchestrator(t, Config{
		Mode:            catalog.SyncRetention,
		WallClockBudget: 10 * time.Millisecond,
	})

	report := o.Run(context.Background(), []Phase{
		{Name: PhaseTopModels, Run: func(ctx context.Context) (PhaseOutput, error) {
			select {
			case <-ctx.Done():
				return PhaseOutput{}, ctx.Err()
			case <-time.After(5 * time.Second):
				return PhaseOutput{Count: 1}, nil
			}
		}},
	})

	assert.False(t, report.OverallSuccess)
	assert.Equal(t, "cancelled", report.Phase(PhaseTopModels).ErrorMessage)
}

func TestRunPanicRecovery(t *testing.T) {
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncFull})

	report := o.Run(context.Background(), []Phase{
		{Name: PhaseDiscovery, Run: func(_ context.Context) (PhaseOutput, error) {
			panic("index out of range")
		}},
	})

	assert.False(t, report.OverallSuccess)
	assert.Contains(t, report.Phase(PhaseDiscovery).ErrorMessage, "panic")
}

func TestEmergencyRollback(t *testing.T) {
	dataDir := t.TempDir()

	protected := filepath.Join(dataDir, "models.json")
	require.NoError(t, os.WriteFile(protected, []byte(`{"v":1}`), 0640))

	o := newTestOrchestrator(t, Config{
		Mode:                  catalog.SyncRetention,
		DataDir:               dataDir,
		PreserveDataOnFailure: true,
	})

	report := o.Run(context.Background(), []Phase{
		{
			Name:      PhaseTopModels,
			Critical:  true,
			Artifacts: []string{protected},
			Run: func(_ context.Context) (PhaseOutput, error) {
				// Corrupt the artifact, then fail.
				if err := os.WriteFile(protected, []byte("garbage"), 0640); err != nil {
					return PhaseOutput{}, err
				}
				return PhaseOutput{}, errors.New("phase blew up")
			},
		},
	})

	assert.False(t, report.OverallSuccess)
	assert.True(t, report.RollbackPerformed)
	assert.True(t, report.RollbackSuccessful)

	data, err := os.ReadFile(protected)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(data))
}

func TestDryRunSkipsPersistence(t *testing.T) {
	dataDir := t.TempDir()
	o := newTestOrchestrator(t, Config{
		Mode:    catalog.SyncFull,
		DataDir: dataDir,
		DryRun:  true,
	})

	report := o.Run(context.Background(), []Phase{okPhase(PhaseDiscovery, 10, nil)})
	assert.True(t, report.OverallSuccess)

	_, err := os.Stat(filepath.Join(dataDir, SyncMetadataFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dataDir, "reports", LatestReportFile))
	assert.True(t, os.IsNotExist(err))
}

func TestRunPersistsSyncMetadata(t *testing.T) {
	dataDir := t.TempDir()
	o := newTestOrchestrator(t, Config{Mode: catalog.SyncFull, DataDir: dataDir})

	o.Run(context.Background(), []Phase{
		okPhase(PhaseEnrichment, 480, nil),
	})

	meta, err := LoadSyncMetadata(dataDir)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.Success)
	assert.Equal(t, catalog.SyncFull, meta.SyncMode)
	assert.Equal(t, 480, meta.ModelsProcessed)
}

func TestLoadSyncMetadataAbsent(t *testing.T) {
	meta, err := LoadSyncMetadata(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, meta)
}

// =============================================================================
// Report store
// =============================================================================

func TestReportStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewReportStore(dir, nil)

	report := &catalog.UpdateReport{ReportID: "r1", Mode: catalog.SyncFull, OverallSuccess: true}
	require.NoError(t, store.Save(report))

	loaded, err := store.Latest()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "r1", loaded.ReportID)
	assert.True(t, loaded.OverallSuccess)
}

func TestReportStoreEmptyLatest(t *testing.T) {
	store := NewReportStore(t.TempDir(), nil)
	loaded, err := store.Latest()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestReportStoreTrimsRing(t *testing.T) {
	dir := t.TempDir()
	store := NewReportStore(dir, nil)

	// Distinct timestamps per save keep the file names unique.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxRetainedReports+5; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		store.now = func() time.Time { return tick }
		require.NoError(t, store.Save(&catalog.UpdateReport{ReportID: "r"}))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "update_report_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, maxRetainedReports)
}

// =============================================================================
// Sync-mode arbitration
// =============================================================================

func TestArbitrate(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cfg := ArbitrationConfig{}

	// No previous sync: full.
	assert.Equal(t, catalog.SyncFull, Arbitrate(nil, catalog.SyncFull, now, cfg))

	// Recent successful sync: incremental.
	recent := &catalog.SyncMetadata{LastSyncTime: now.Add(-24 * time.Hour), Success: true}
	assert.Equal(t, catalog.SyncIncremental, Arbitrate(recent, catalog.SyncFull, now, cfg))

	// Old successful sync: full.
	old := &catalog.SyncMetadata{LastSyncTime: now.Add(-200 * time.Hour), Success: true}
	assert.Equal(t, catalog.SyncFull, Arbitrate(old, catalog.SyncFull, now, cfg))

	// Recent failed sync: full.
	failed := &catalog.SyncMetadata{LastSyncTime: now.Add(-1 * time.Hour), Success: false}
	assert.Equal(t, catalog.SyncFull, Arbitrate(failed, catalog.SyncFull, now, cfg))

	// Explicit requests pass through.
	assert.Equal(t, catalog.SyncRetention, Arbitrate(recent, catalog.SyncRetention, now, cfg))
	assert.Equal(t, catalog.SyncIncremental, Arbitrate(nil, catalog.SyncIncremental, now, cfg))
}

func TestShouldEscalate(t *testing.T) {
	cfg := ArbitrationConfig{}
	assert.False(t, ShouldEscalate(1000, 1050, cfg), "5% change stays incremental")
	assert.True(t, ShouldEscalate(1000, 1200, cfg), "20% growth escalates")
	assert.True(t, ShouldEscalate(1000, 800, cfg), "20% shrink escalates")
	assert.False(t, ShouldEscalate(0, 500, cfg), "no baseline, no escalation")
}

func TestFilterIncremental(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Hour)
	old := now.Add(-100 * time.Hour)

	records := []catalog.ModelRecord{
		{ID: "org/recent", LastModified: &recent},
		{ID: "org/old", LastModified: &old},
		{ID: "org/undated"},
	}

	kept := FilterIncremental(records, now, ArbitrationConfig{})
	var ids []string
	for _, r := range kept {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"org/recent", "org/undated"}, ids)
}

// =============================================================================
// Telemetry Tests
// =============================================================================

// counterSum totals every data point of a counter across scopes.
func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRunRecordsPhaseTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := telemetry.NewMetrics(provider.Meter("orchestrator_test"))
	require.NoError(t, err)

	o := newTestOrchestrator(t, Config{Mode: catalog.SyncFull, Metrics: m})
	report := o.Run(context.Background(), []Phase{
		okPhase(PhaseDiscovery, 40, nil),
		okPhase(PhaseEnrichment, 38, nil),
		okPhase(PhaseValidation, 38, map[string]any{"issues": 4, "repairs": 2}),
		failPhase(PhasePublish, errors.New("disk full")),
	})
	assert.False(t, report.OverallSuccess)

	assert.Equal(t, int64(40), counterSum(t, reader, "ggufatlas_discovered_models_total"))
	assert.Equal(t, int64(38), counterSum(t, reader, "ggufatlas_enriched_models_total"))
	assert.Equal(t, int64(4), counterSum(t, reader, "ggufatlas_validation_issues_total"))
	assert.Equal(t, int64(2), counterSum(t, reader, "ggufatlas_auto_repairs_total"))
	assert.Equal(t, int64(1), counterSum(t, reader, "ggufatlas_phase_failures_total"))
	assert.Equal(t, int64(1), counterSum(t, reader, "ggufatlas_errors_total"))
}
