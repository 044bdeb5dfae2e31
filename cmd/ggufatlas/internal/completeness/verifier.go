// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package completeness measures how much of the hub's GGUF universe a
// finished run actually captured, and recovers the models it missed.
package completeness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/cachestore"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/recovery"
)

// MetadataFile is the published completeness artifact name.
const MetadataFile = "completeness_metadata.json"

const (
	// hubTotalCacheKey and hubTotalTTL cache the expensive full count.
	hubTotalCacheKey = "hub_total:gguf"
	hubTotalTTL      = time.Hour

	// recentSampleSize is how many recently modified models are checked
	// for membership in the processed set.
	recentSampleSize = 100
)

// Status thresholds on the completeness score.
const (
	StatusExcellent = "excellent" // >= 98
	StatusGood      = "good"      // >= 95
	StatusWarning   = "warning"   // >= 90
	StatusCritical  = "critical"  // < 90
)

// Report is the verifier's full output.
type Report struct {
	HubTotal           int      `json:"hubTotal"`
	HubTotalFromCache  bool     `json:"hubTotalFromCache"`
	ProcessedWithFiles int      `json:"processedWithFiles"`
	Score              float64  `json:"completenessScore"`
	Status             string   `json:"status"`
	MissingModels      []string `json:"missingModels,omitempty"`

	// CompleteDataRate is the fraction of processed models whose every
	// file carries a non-zero size, in [0,1].
	CompleteDataRate float64 `json:"completeDataRate"`

	// FileAccessibilityRate is the fraction of checked URLs found
	// accessible, in [0,1]. Negative when no check ran.
	FileAccessibilityRate float64 `json:"fileAccessibilityRate"`

	VerifiedAt time.Time `json:"verifiedAt"`
}

// WriteReport publishes the report as the completeness artifact
// under dir.
func WriteReport(dir string, report *Report) error {
	if err := artifacts.WriteJSONAtomic(filepath.Join(dir, MetadataFile), report); err != nil {
		return fmt.Errorf("write completeness metadata: %w", err)
	}
	return nil
}

// Verifier computes completeness reports against the live hub.
type Verifier struct {
	client  hub.Client
	fetcher *fetch.Fetcher
	cache   *cachestore.Cache
	alerts  *recovery.AlertDispatcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewVerifier builds a verifier. cache and alerts may be nil.
func NewVerifier(client hub.Client, fetcher *fetch.Fetcher, cache *cachestore.Cache, alerts *recovery.AlertDispatcher, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		client:  client,
		fetcher: fetcher,
		cache:   cache,
		alerts:  alerts,
		logger:  logger,
		now:     time.Now,
	}
}

// Verify measures the processed set against the hub.
//
// # Description
//
// The hub total comes from a full gguf-tag listing, cached for an hour.
// When the listing fails, a stale cached total is used if present;
// otherwise the total is zero and the score degrades to zero rather
// than failing the run. accessibilityRate below zero means no URL check
// ran this cycle and suppresses the accessibility alert.
func (v *Verifier) Verify(ctx context.Context, processed []catalog.ModelRecord, accessibilityRate float64) (*Report, error) {
	report := &Report{
		FileAccessibilityRate: accessibilityRate,
		VerifiedAt:            v.now().UTC(),
	}

	total, fromCache := v.hubTotal(ctx)
	report.HubTotal = total
	report.HubTotalFromCache = fromCache

	processedIDs := make(map[string]bool, len(processed))
	complete := 0
	for _, m := range processed {
		processedIDs[m.ID] = true
		if len(m.Files) > 0 {
			report.ProcessedWithFiles++
			if allSizesKnown(m.Files) {
				complete++
			}
		}
	}
	if report.ProcessedWithFiles > 0 {
		report.CompleteDataRate = float64(complete) / float64(report.ProcessedWithFiles)
	}

	if total > 0 {
		report.Score = 100 * float64(report.ProcessedWithFiles) / float64(total)
		if report.Score > 100 {
			report.Score = 100
		}
	}
	report.Status = statusFor(report.Score)

	missing, err := v.sampleMissing(ctx, processedIDs)
	if err != nil {
		v.logger.Warn("recent-model sampling failed", "error", err)
	} else {
		report.MissingModels = missing
	}

	v.emitAlerts(ctx, report)

	v.logger.Info("completeness verified",
		"score", fmt.Sprintf("%.1f", report.Score),
		"status", report.Status,
		"hub_total", report.HubTotal,
		"processed", report.ProcessedWithFiles,
		"missing_sampled", len(report.MissingModels),
	)
	return report, nil
}

// hubTotal returns the gguf-tagged model count, preferring a fresh
// listing and falling back to the cached value.
func (v *Verifier) hubTotal(ctx context.Context) (int, bool) {
	var summaries []hub.ModelSummary
	err := v.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		summaries, err = v.client.ListModels(ctx, hub.ListParams{Filter: "gguf"})
		return err
	})
	if err == nil {
		total := len(summaries)
		if v.cache != nil {
			if cerr := v.cache.SetJSON(hubTotalCacheKey, total, hubTotalTTL); cerr != nil {
				v.logger.Warn("hub total cache write failed", "error", cerr)
			}
		}
		return total, false
	}

	v.logger.Warn("hub total listing failed, trying cache", "error", err)
	if v.cache != nil {
		var cached int
		if cerr := v.cache.GetJSON(hubTotalCacheKey, &cached); cerr == nil {
			return cached, true
		}
	}
	return 0, false
}

// sampleMissing lists the most recently modified gguf models and
// returns the ids absent from the processed set.
func (v *Verifier) sampleMissing(ctx context.Context, processedIDs map[string]bool) ([]string, error) {
	var recent []hub.ModelSummary
	err := v.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		recent, err = v.client.ListModels(ctx, hub.ListParams{
			Filter: "gguf", Sort: hub.SortModified, Direction: -1,
			Limit: recentSampleSize,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, m := range recent {
		if catalog.ValidModelID(m.ID) && !processedIDs[m.ID] {
			missing = append(missing, m.ID)
		}
	}
	return missing, nil
}

func (v *Verifier) emitAlerts(ctx context.Context, report *Report) {
	if v.alerts == nil {
		return
	}

	switch {
	case report.Score < 90:
		v.alerts.Dispatch(ctx, "completeness/score", recovery.Alert{
			Severity: recovery.SeverityCritical,
			Title:    "dataset completeness critical",
			Message:  fmt.Sprintf("completeness score %.1f below 90", report.Score),
			Context:  map[string]any{"score": report.Score, "hub_total": report.HubTotal},
		})
	case report.Score < 95:
		v.alerts.Dispatch(ctx, "completeness/score", recovery.Alert{
			Severity: recovery.SeverityMedium,
			Title:    "dataset completeness degraded",
			Message:  fmt.Sprintf("completeness score %.1f below 95", report.Score),
		})
	}

	if len(report.MissingModels) >= 50 {
		v.alerts.Dispatch(ctx, "completeness/missing", recovery.Alert{
			Severity: recovery.SeverityMedium,
			Title:    "many recently modified models missing",
			Message:  fmt.Sprintf("%d of the %d most recent hub models are absent", len(report.MissingModels), recentSampleSize),
		})
	}
	if report.CompleteDataRate < 0.8 && report.ProcessedWithFiles > 0 {
		v.alerts.Dispatch(ctx, "completeness/data", recovery.Alert{
			Severity: recovery.SeverityMedium,
			Title:    "complete-data rate low",
			Message:  fmt.Sprintf("only %.0f%% of models carry full size data", report.CompleteDataRate*100),
		})
	}
	if report.FileAccessibilityRate >= 0 && report.FileAccessibilityRate < 0.9 {
		v.alerts.Dispatch(ctx, "completeness/access", recovery.Alert{
			Severity: recovery.SeverityMedium,
			Title:    "file accessibility low",
			Message:  fmt.Sprintf("only %.0f%% of checked URLs are accessible", report.FileAccessibilityRate*100),
		})
	}
}

func statusFor(score float64) string {
	switch {
	case score >= 98:
		return StatusExcellent
	case score >= 95:
		return StatusGood
	case score >= 90:
		return StatusWarning
	default:
		return StatusCritical
	}
}

func allSizesKnown(files []catalog.FileRecord) bool {
	for _, f := range files {
		if f.SizeBytes == 0 {
			return false
		}
	}
	return true
}

// =============================================================================
// Missing-model recovery
// =============================================================================

// RecoveryResult summarizes one recovery pass over missing ids.
type RecoveryResult struct {
	Attempted    int                `json:"attempted"`
	Recovered    []catalog.ModelRef `json:"-"`
	RecoveredIDs []string           `json:"recoveredIds,omitempty"`
	NoGGUF       int                `json:"noGguf"`
	Failed       int                `json:"failed"`

	// RecoveryRate is recovered / attempted × 100.
	RecoveryRate float64 `json:"recoveryRate"`
}

// RecoverMissing fetches detail for each missing id and keeps those
// whose file listing includes a .gguf sibling. The returned refs feed
// straight back into enrichment.
func (v *Verifier) RecoverMissing(ctx context.Context, missing []string) (*RecoveryResult, error) {
	result := &RecoveryResult{Attempted: len(missing)}

	for _, id := range missing {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		var info *hub.ModelSummary
		err := v.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
			var err error
			info, err = v.client.ModelInfo(ctx, id)
			return err
		})
		if err != nil {
			result.Failed++
			v.logger.Debug("recovery fetch failed", "model", id, "error", err)
			continue
		}

		if !hasGGUFSibling(info.Siblings) {
			result.NoGGUF++
			continue
		}

		result.Recovered = append(result.Recovered, catalog.ModelRef{
			ID:              id,
			DiscoveryMethod: "completeness_recovery",
			ConfidenceScore: 1.0,
			Attributes: map[string]any{
				"downloads": info.Downloads,
				"likes":     info.Likes,
				"tags":      info.Tags,
			},
		})
		result.RecoveredIDs = append(result.RecoveredIDs, id)
	}

	if result.Attempted > 0 {
		result.RecoveryRate = 100 * float64(len(result.Recovered)) / float64(result.Attempted)
	}

	v.logger.Info("missing-model recovery finished",
		"attempted", result.Attempted,
		"recovered", len(result.Recovered),
		"no_gguf", result.NoGGUF,
		"failed", result.Failed,
		"recovery_rate", fmt.Sprintf("%.1f", result.RecoveryRate),
	)
	return result, nil
}

func hasGGUFSibling(siblings []hub.Sibling) bool {
	for _, s := range siblings {
		if strings.HasSuffix(strings.ToLower(s.Rfilename), ".gguf") {
			return true
		}
	}
	return false
}
