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
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/cachestore"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/completeness"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/discovery"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/enrich"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/freshness"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/recovery"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/retention"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/validate"
)

// accessSampleSize bounds the number of download URLs probed per run.
const accessSampleSize = 100

// Deps carries the wired components shared by the phase builders.
type Deps struct {
	Hub     hub.Client
	Fetcher *fetch.Fetcher
	Cache   *cachestore.Cache
	Alerts  *recovery.AlertDispatcher
	Store   *retention.StateStore
	Writer  *artifacts.Writer
	Logger  *slog.Logger

	HubBaseURL string

	RetentionDays    int
	TopModelsCount   int
	KeepUndated      bool
	KeepRankHistory  bool
	RankHistoryDays  int
	Cleanup          retention.CleanupConfig
	Arbitration      ArbitrationConfig
	SkipAccessChecks bool

	// PrevSync is the previous run's outcome, used to escalate an
	// incremental run whose processed count shifted too far.
	PrevSync *catalog.SyncMetadata

	// DryRun suppresses retention state writes.
	DryRun bool
}

// BuildRetentionPhases wires the retention graph: ranking update, then
// the recent-window extraction, the merge, and cleanup when enabled.
//
// # Degradation
//
// When a listing phase fails against the hub, the phase consults the
// fallback provider before giving up: the leaderboard replays the last
// ranking snapshot and the recent window replays its last saved
// extraction, both bounded to 24 hours of staleness. A recent window
// that comes back empty is retried once with the window doubled before
// the result is accepted.
func BuildRetentionPhases(d Deps) []Phase {
	var (
		topResult    *retention.TopModelsResult
		recentResult *retention.DateFilterResult
	)
	fallback := retention.NewFallback(d.Store, d.Logger)

	phases := []Phase{
		{
			Name:      PhaseTopModels,
			Critical:  true,
			Artifacts: []string{d.Store.RankingPath()},
			Run: func(ctx context.Context) (PhaseOutput, error) {
				tm := retention.NewTopModels(d.Hub, d.Fetcher, d.Store, retention.TopModelsConfig{
					K:           d.TopModelsCount,
					KeepHistory: d.KeepRankHistory,
					HistoryDays: d.RankHistoryDays,
				}, d.Logger)
				result, err := tm.Update(ctx)
				if err != nil {
					if ctx.Err() == nil {
						if cached, ok := fallback.TopModels(); ok {
							topResult = cached
							return PhaseOutput{
								Count:     len(cached.Rankings),
								Recovered: true,
								Metrics: map[string]any{
									"api_calls":       result.APICalls,
									"fallback_source": "last_ranking_snapshot",
								},
							}, nil
						}
					}
					return PhaseOutput{}, err
				}
				topResult = result
				return PhaseOutput{
					Count: len(result.Rankings),
					Metrics: map[string]any{
						"api_calls":       result.APICalls,
						"new_entries":     len(result.Changes.NewEntries),
						"dropped_out":     len(result.Changes.DroppedOut),
						"stability_ratio": result.Changes.StabilityRatio,
					},
				}, nil
			},
		},
		{
			Name:      PhaseDateFilter,
			Critical:  true,
			Artifacts: []string{d.Store.RankingPath()},
			Run: func(ctx context.Context) (PhaseOutput, error) {
				df := retention.NewDateFilter(d.Hub, d.Fetcher, retention.DateFilterConfig{
					WindowDays:  d.RetentionDays,
					KeepUndated: d.KeepUndated,
				}, d.Logger)
				result, err := df.Extract(ctx)
				apiCalls := result.APICalls
				metrics := map[string]any{"api_calls": apiCalls}

				if err != nil {
					if ctx.Err() == nil {
						if cached, ok := fallback.RecentModels(); ok {
							recentResult = cached
							metrics["fallback_source"] = "last_recent_snapshot"
							return PhaseOutput{
								Count:     len(cached.Models),
								Recovered: true,
								Metrics:   metrics,
							}, nil
						}
					}
					return PhaseOutput{}, err
				}

				if len(result.Models) == 0 {
					wide := retention.NewDateFilter(d.Hub, d.Fetcher, retention.DateFilterConfig{
						WindowDays:  2 * d.RetentionDays,
						KeepUndated: d.KeepUndated,
					}, d.Logger)
					widened, werr := wide.Extract(ctx)
					apiCalls += widened.APICalls
					metrics["api_calls"] = apiCalls
					if werr == nil && len(widened.Models) > 0 {
						metrics["extended_window"] = true
						result = widened
					}
				}

				recentResult = result
				if !d.DryRun {
					if serr := d.Store.SaveRecentWindow(retention.RecentSnapshot{
						SavedAt: time.Now().UTC(),
						From:    result.From,
						To:      result.To,
						Models:  result.Models,
					}); serr != nil {
						d.Logger.Warn("recent-window snapshot write failed", "error", serr)
					}
				}
				return PhaseOutput{Count: len(result.Models), Metrics: metrics}, nil
			},
		},
		{
			Name:     PhaseMerge,
			Critical: true,
			Artifacts: []string{
				d.Store.RankingPath(),
				d.Store.MetadataPath(),
				d.Store.TopModelsPath(),
			},
			Run: func(ctx context.Context) (PhaseOutput, error) {
				if topResult == nil || recentResult == nil {
					return PhaseOutput{}, fmt.Errorf("merge inputs unavailable: predecessor phase failed")
				}
				result := retention.NewMerger(d.Logger).Merge(recentResult.Models, topResult.Models)

				if !d.DryRun {
					now := time.Now().UTC()
					tracked, err := d.Store.UpsertTracking(result.Models, now)
					if err != nil {
						return PhaseOutput{}, fmt.Errorf("update tracking table: %w", err)
					}
					if err := d.Store.SaveTopModels(retention.TopModelsSnapshot{
						UpdatedAt: now,
						Models:    result.Models,
					}); err != nil {
						return PhaseOutput{}, fmt.Errorf("persist merged models: %w", err)
					}
					d.Logger.Info("retention state persisted",
						"merged", len(result.Models), "tracked", tracked)
				}

				return PhaseOutput{
					Count: len(result.Models),
					Metrics: map[string]any{
						"duplicates_removed": result.DuplicatesRemoved,
						"integrity_score":    result.IntegrityScore,
					},
				}, nil
			},
		},
	}

	if d.Cleanup.Enabled {
		phases = append(phases, Phase{
			Name: PhaseCleanup,
			Run: func(ctx context.Context) (PhaseOutput, error) {
				topIDs := map[string]bool{}
				if topResult != nil {
					for _, r := range topResult.Rankings {
						topIDs[r.ModelID] = true
					}
				}
				c := retention.NewCleanup(d.Store, d.Cleanup, d.Logger)
				result, err := c.Run(ctx, topIDs)
				if err != nil {
					return PhaseOutput{}, err
				}
				return PhaseOutput{
					Count: result.Removed,
					Metrics: map[string]any{
						"freed_bytes": result.FreedBytes,
						"batches":     result.Batches,
						"preserved":   result.Preserved,
					},
				}, nil
			},
		})
	}
	return phases
}

// BuildFullPhases wires the harvesting graph: discovery through
// completeness, then freshness stamping and artifact publication.
//
// # Description
//
// Phase outputs flow through closure variables: discovery's refs feed
// enrichment, enrichment's records feed validation, and so on.
// Incremental mode filters enriched records to the recent-modification
// window before validation. Completeness recovery feeds recovered refs
// back through a second enrichment pass inside the same phase.
func BuildFullPhases(d Deps, mode catalog.SyncMode, syncStart time.Time) []Phase {
	var (
		refs       []catalog.ModelRef
		records    []catalog.ModelRecord
		accessRate = -1.0
	)

	enricher := enrich.NewEnricher(d.Hub, d.Fetcher, enrich.Config{
		BaseURL: d.HubBaseURL,
		Logger:  d.Logger,
	})

	return []Phase{
		{
			Name: PhaseDiscovery,
			Run: func(ctx context.Context) (PhaseOutput, error) {
				engine := discovery.NewEngine(d.Hub, d.Fetcher, d.Logger)
				merged, metrics, err := engine.Run(ctx)
				if err != nil {
					return PhaseOutput{}, err
				}
				refs = merged
				return PhaseOutput{
					Count: len(merged),
					Metrics: map[string]any{
						"api_calls":      metrics.APICalls,
						"raw_candidates": metrics.TotalRaw,
						"multi_strategy": metrics.MultiStrategy,
						"dedup_rate":     metrics.DedupRate,
					},
				}, nil
			},
		},
		{
			Name: PhaseEnrichment,
			Run: func(ctx context.Context) (PhaseOutput, error) {
				batch := enricher.EnrichBatch(ctx, refs, nil)
				if batch.Cancelled {
					return PhaseOutput{}, ctx.Err()
				}
				records = batch.Models
				metrics := map[string]any{
					"dropped_no_gguf": batch.Dropped,
					"failures":        len(batch.Failures),
				}
				if mode == catalog.SyncIncremental {
					if d.PrevSync != nil && ShouldEscalate(d.PrevSync.ModelsProcessed, len(records), d.Arbitration) {
						// The catalog shifted too much for a window
						// filter to be trustworthy; keep the full set.
						metrics["escalated_to_full"] = true
						d.Logger.Warn("incremental run escalated to full",
							"previous_processed", d.PrevSync.ModelsProcessed,
							"current_processed", len(records))
					} else {
						records = FilterIncremental(records, syncStart, d.Arbitration)
					}
				}
				return PhaseOutput{Count: len(records), Metrics: metrics}, nil
			},
		},
		{
			Name: PhaseValidation,
			Run: func(ctx context.Context) (PhaseOutput, error) {
				engine := validate.NewEngine(d.Logger)
				valid, issues, repairs := 0, 0, 0
				out := make([]catalog.ModelRecord, 0, len(records))
				for _, rec := range records {
					result := engine.ProcessRecord(rec)
					issues += result.Annotation.IssuesCount
					repairs += result.Annotation.AutoFixesApplied
					if result.Record == nil {
						continue
					}
					out = append(out, *result.Record)
					if result.Annotation.IsValid {
						valid++
					}
				}
				records = out

				metrics := map[string]any{
					"valid":   valid,
					"issues":  issues,
					"repairs": repairs,
				}
				if !d.SkipAccessChecks {
					rate, checked := checkAccessSample(ctx, d, records)
					if checked > 0 {
						accessRate = rate
						metrics["urls_checked"] = checked
						metrics["accessibility_rate"] = rate
					}
				}
				return PhaseOutput{Count: len(records), Metrics: metrics}, nil
			},
		},
		{
			Name: PhaseCompleteness,
			Run: func(ctx context.Context) (PhaseOutput, error) {
				verifier := completeness.NewVerifier(d.Hub, d.Fetcher, d.Cache, d.Alerts, d.Logger)
				report, err := verifier.Verify(ctx, records, accessRate)
				if err != nil {
					return PhaseOutput{}, err
				}

				metrics := map[string]any{
					"score":     report.Score,
					"status":    report.Status,
					"hub_total": report.HubTotal,
				}

				if len(report.MissingModels) > 0 {
					rec, err := verifier.RecoverMissing(ctx, report.MissingModels)
					if err != nil {
						d.Logger.Warn("missing-model recovery aborted", "error", err)
					}
					if rec != nil && len(rec.Recovered) > 0 {
						batch := enricher.EnrichBatch(ctx, rec.Recovered, nil)
						records = append(records, batch.Models...)
						metrics["recovered"] = len(batch.Models)
						metrics["recovery_rate"] = rec.RecoveryRate
					}
				}

				if !d.Writer.DryRun() {
					dataDir := filepath.Join(d.Writer.OutputDir(), "data")
					if err := completeness.WriteReport(dataDir, report); err != nil {
						d.Logger.Error("completeness metadata write failed", "error", err)
					}
				}
				return PhaseOutput{Count: report.ProcessedWithFiles, Metrics: metrics}, nil
			},
		},
		{
			Name:      PhasePublish,
			Critical:  true,
			Artifacts: d.Writer.ArtifactPaths(),
			Run: func(ctx context.Context) (PhaseOutput, error) {
				tracker := freshness.NewTracker(syncStart, d.Logger)
				tracker.Stamp(records)

				written, err := d.Writer.WriteAll(records)
				if err != nil {
					return PhaseOutput{}, err
				}

				meta := tracker.BuildMetadata(records, time.Since(syncStart))
				ind := tracker.BuildIndicator(meta)
				if !d.Writer.DryRun() {
					dataDir := filepath.Join(d.Writer.OutputDir(), "data")
					if err := tracker.WriteArtifacts(dataDir, meta, ind); err != nil {
						return PhaseOutput{}, err
					}
				}
				return PhaseOutput{
					Count: len(records),
					Metrics: map[string]any{
						"artifacts_written": len(written) + 2,
						"freshness_score":   meta.FreshnessScore,
					},
				}, nil
			},
		},
	}
}

// checkAccessSample probes a bounded sample of download URLs and
// returns the accessible fraction.
func checkAccessSample(ctx context.Context, d Deps, records []catalog.ModelRecord) (float64, int) {
	var urls []string
	for _, rec := range records {
		for _, f := range rec.Files {
			if len(urls) >= accessSampleSize {
				break
			}
			urls = append(urls, f.DownloadURL)
		}
		if len(urls) >= accessSampleSize {
			break
		}
	}
	if len(urls) == 0 {
		return 0, 0
	}

	checker := validate.NewAccessChecker(d.Cache, d.Fetcher, d.Logger)
	results, err := checker.CheckAll(ctx, urls)
	if err != nil {
		d.Logger.Warn("access sampling aborted", "error", err)
		return 0, 0
	}
	accessible := 0
	for _, r := range results {
		if r.Accessible {
			accessible++
		}
	}
	return float64(accessible) / float64(len(results)), len(results)
}
