// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator executes the phase graph for one update run,
// wraps each phase with error classification and rollback points, and
// persists the resulting report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/recovery"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/telemetry"
)

// Phase names as recorded in PhaseResult and reports.
const (
	PhaseTopModels    = "top_models_update"
	PhaseDateFilter   = "date_filtered_extraction"
	PhaseMerge        = "merge"
	PhaseCleanup      = "cleanup"
	PhaseDiscovery    = "discovery"
	PhaseEnrichment   = "enrichment"
	PhaseValidation   = "validation"
	PhaseCompleteness = "completeness"
	PhasePublish      = "publish"
)

// SyncMetadataFile holds the previous run's outcome under the data dir.
const SyncMetadataFile = "last_sync_metadata.json"

const defaultWallClockBudget = 6 * time.Hour

// PhaseOutput is what a phase hands back on success.
type PhaseOutput struct {
	// Count is the phase's primary data count (models produced,
	// removed, ranked).
	Count int

	// Metrics are free-form numbers folded into the PhaseResult. The
	// keys "api_calls", "duplicates_removed", and "freed_bytes" also
	// feed the report aggregates.
	Metrics map[string]any

	// Recovered marks a phase that succeeded via fallback data after a
	// classified error.
	Recovered bool
}

// Phase is one unit of the orchestrated graph.
type Phase struct {
	Name string

	// Critical phases get a rollback point covering Artifacts before
	// they run.
	Critical  bool
	Artifacts []string

	Run func(ctx context.Context) (PhaseOutput, error)
}

// Config controls a single orchestrated run.
type Config struct {
	Mode    catalog.SyncMode
	DataDir string

	// DryRun skips rollback points, report persistence, and sync
	// metadata writes. Phases are expected to be wired with dry-run
	// writers themselves.
	DryRun bool

	// PreserveDataOnFailure restores the most recent rollback point
	// when the run fails.
	PreserveDataOnFailure bool

	// WallClockBudget bounds the whole run. Default: 6h.
	WallClockBudget time.Duration

	// Metrics receives phase durations, failures, and retention
	// counters. Nil disables metric recording.
	Metrics *telemetry.Metrics
}

// Orchestrator runs phases in order and aggregates the report.
type Orchestrator struct {
	cfg      Config
	rollback *recovery.RollbackManager
	reports  *ReportStore
	logger   *slog.Logger
	now      func() time.Time
}

// New builds an orchestrator. rollback and reports may be nil for
// dry runs.
func New(cfg Config, rollback *recovery.RollbackManager, reports *ReportStore, logger *slog.Logger) *Orchestrator {
	if cfg.WallClockBudget <= 0 {
		cfg.WallClockBudget = defaultWallClockBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, rollback: rollback, reports: reports, logger: logger, now: time.Now}
}

// Run executes the phases in order and returns the aggregated report.
//
// # Description
//
// Strict happens-before across phases: each starts only after its
// predecessor returned a PhaseResult. Critical phases get a rollback
// point first. Cancellation or an exhausted wall-clock budget marks the
// current and remaining phases failed with error "cancelled". On
// failure with PreserveDataOnFailure, the latest rollback point is
// restored. The report is persisted regardless of outcome unless the
// run is a dry run.
func (o *Orchestrator) Run(ctx context.Context, phases []Phase) *catalog.UpdateReport {
	start := o.now().UTC()
	report := &catalog.UpdateReport{
		ReportID:  uuid.NewString(),
		Mode:      o.cfg.Mode,
		StartTime: start,
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.WallClockBudget)
	defer cancel()

	for _, phase := range phases {
		if ctx.Err() != nil {
			report.AddPhase(catalog.PhaseResult{
				PhaseName:    phase.Name,
				Success:      false,
				ErrorMessage: "cancelled",
			})
			continue
		}

		if phase.Critical && !o.cfg.DryRun && o.rollback != nil {
			if _, err := o.rollback.CreatePoint(phase.Name, phase.Artifacts); err != nil {
				o.logger.Warn("rollback point creation failed",
					"phase", phase.Name, "error", err)
			}
		}

		result := o.runPhase(ctx, phase)
		report.AddPhase(result)
		o.aggregate(report, phase.Name, result)
		o.observe(ctx, phase.Name, result)
	}

	report.EndTime = o.now().UTC()
	report.OverallSuccess = o.overallSuccess(report)

	if !report.OverallSuccess && o.cfg.PreserveDataOnFailure && !o.cfg.DryRun {
		o.emergencyRollback(report)
	}

	o.persist(report)
	return report
}

// runPhase wraps one phase with timing, panic recovery, and error
// classification.
func (o *Orchestrator) runPhase(ctx context.Context, phase Phase) (result catalog.PhaseResult) {
	start := o.now()
	result = catalog.PhaseResult{PhaseName: phase.Name}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.ErrorMessage = fmt.Sprintf("panic: %v", r)
			o.logger.Error("phase panicked", "phase", phase.Name, "panic", r)
		}
		result.DurationSeconds = o.now().Sub(start).Seconds()
	}()

	o.logger.Info("phase starting", "phase", phase.Name)
	output, err := phase.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.ErrorMessage = "cancelled"
		} else {
			c := recovery.Classify(err)
			result.ErrorMessage = err.Error()
			result.Metrics = map[string]any{"error_kind": string(c.Kind)}
			o.logger.Error("phase failed",
				"phase", phase.Name,
				"error", err,
				"kind", c.Kind,
				"severity", c.Severity,
			)
		}
		return result
	}

	result.Success = true
	result.DataCount = output.Count
	result.Metrics = output.Metrics
	if output.Recovered {
		if result.Metrics == nil {
			result.Metrics = map[string]any{}
		}
		result.Metrics["recovered"] = true
	}
	o.logger.Info("phase finished", "phase", phase.Name, "count", output.Count)
	return result
}

// aggregate folds a phase result into the report totals.
func (o *Orchestrator) aggregate(report *catalog.UpdateReport, name string, result catalog.PhaseResult) {
	report.APICallsMade += metricInt(result.Metrics, "api_calls")
	if !result.Success {
		return
	}
	switch name {
	case PhaseTopModels:
		report.TopModelsUpdated = result.DataCount
	case PhaseDateFilter:
		report.RecentModelsFetched = result.DataCount
	case PhaseMerge:
		report.ModelsMerged = result.DataCount
		report.DuplicatesRemoved = metricInt(result.Metrics, "duplicates_removed")
	case PhaseCleanup:
		report.ModelsCleanedUp = result.DataCount
		report.StorageFreedMB = float64(metricInt64(result.Metrics, "freed_bytes")) / (1024 * 1024)
	case PhaseEnrichment:
		report.TotalModelsProcessed = result.DataCount
	}
}

// observe feeds a phase result into the pipeline metrics.
func (o *Orchestrator) observe(ctx context.Context, name string, result catalog.PhaseResult) {
	m := o.cfg.Metrics
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", name))
	m.PhaseDuration.Record(ctx, result.DurationSeconds, attrs)
	if !result.Success {
		m.PhaseFailuresTotal.Add(ctx, 1, attrs)
		m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", name),
			attribute.String("kind", metricString(result.Metrics, "error_kind")),
		))
		return
	}
	switch name {
	case PhaseDiscovery:
		m.DiscoveredModelsTotal.Add(ctx, int64(result.DataCount))
	case PhaseEnrichment:
		m.EnrichedModelsTotal.Add(ctx, int64(result.DataCount))
	case PhaseValidation:
		m.ValidationIssuesTotal.Add(ctx, metricInt64(result.Metrics, "issues"))
		m.AutoRepairsTotal.Add(ctx, metricInt64(result.Metrics, "repairs"))
	case PhaseCleanup:
		m.ModelsCleanedTotal.Add(ctx, int64(result.DataCount))
		m.StorageFreedBytes.Add(ctx, metricInt64(result.Metrics, "freed_bytes"))
	}
}

// overallSuccess applies the success rule for the run mode.
//
// Retention runs require the ranking, extraction, and merge phases all
// successful. Any failed phase fails the run in every mode.
func (o *Orchestrator) overallSuccess(report *catalog.UpdateReport) bool {
	if report.PhasesFailed > 0 || len(report.Phases) == 0 {
		return false
	}
	if o.cfg.Mode == catalog.SyncRetention {
		for _, name := range []string{PhaseTopModels, PhaseDateFilter, PhaseMerge} {
			p := report.Phase(name)
			if p == nil || !p.Success {
				return false
			}
		}
	}
	return true
}

// emergencyRollback restores the latest rollback point.
func (o *Orchestrator) emergencyRollback(report *catalog.UpdateReport) {
	report.RollbackPerformed = true
	if o.rollback == nil {
		return
	}
	point := o.rollback.Latest()
	if point == nil {
		o.logger.Warn("no rollback point available for emergency restore")
		return
	}
	if err := o.rollback.Rollback(point); err != nil {
		o.logger.Error("emergency rollback failed", "tag", point.Tag, "error", err)
		return
	}
	report.RollbackSuccessful = true
	o.logger.Info("emergency rollback restored", "tag", point.Tag)
}

// persist writes the report and the sync metadata for the next run.
func (o *Orchestrator) persist(report *catalog.UpdateReport) {
	if o.cfg.DryRun {
		o.logger.Info("dry run: skipping report and sync metadata writes")
		return
	}

	if o.reports != nil {
		if err := o.reports.Save(report); err != nil {
			o.logger.Error("report persistence failed", "error", err)
		}
	}

	meta := catalog.SyncMetadata{
		LastSyncTime:    report.StartTime,
		SyncMode:        report.Mode,
		ModelsProcessed: report.TotalModelsProcessed,
		ModelsRemoved:   report.ModelsCleanedUp,
		DurationSeconds: report.EndTime.Sub(report.StartTime).Seconds(),
		Success:         report.OverallSuccess,
	}
	if !report.OverallSuccess && len(report.ErrorsEncountered) > 0 {
		meta.ErrorMessage = report.ErrorsEncountered[0]
	}
	path := filepath.Join(o.cfg.DataDir, SyncMetadataFile)
	if err := artifacts.WriteJSONAtomic(path, meta); err != nil {
		o.logger.Error("sync metadata write failed", "error", err)
	}
}

// LoadSyncMetadata reads the previous run's metadata, nil when absent.
func LoadSyncMetadata(dataDir string) (*catalog.SyncMetadata, error) {
	var meta catalog.SyncMetadata
	err := artifacts.ReadJSON(filepath.Join(dataDir, SyncMetadataFile), &meta)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func metricInt(m map[string]any, key string) int {
	return int(metricInt64(m, key))
}

func metricInt64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func metricString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return "unknown"
}
