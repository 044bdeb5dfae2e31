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
	"sort"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// MethodTopDownloads tags refs produced by the leaderboard phase.
const MethodTopDownloads = "top_downloads"

// TopModelsConfig controls the leaderboard maintenance phase.
type TopModelsConfig struct {
	// K is the leaderboard size. Default: 20.
	K int

	// KeepHistory appends each snapshot to the history log.
	KeepHistory bool

	// HistoryDays bounds the history log. Default: 90.
	HistoryDays int
}

// RankChanges categorizes movement between two snapshots.
type RankChanges struct {
	MovedUp    []string `json:"movedUp"`
	MovedDown  []string `json:"movedDown"`
	NoChange   []string `json:"noChange"`
	NewEntries []string `json:"newEntries"`
	DroppedOut []string `json:"droppedOut"`

	// StabilityRatio is len(NoChange) / K.
	StabilityRatio float64 `json:"stabilityRatio"`
}

// TopModelsResult is the G2 phase output.
type TopModelsResult struct {
	Rankings []catalog.TopRanking `json:"rankings"`
	Models   []catalog.ModelRef   `json:"-"`
	Changes  RankChanges          `json:"changes"`
	APICalls int                  `json:"apiCalls"`
	Duration time.Duration        `json:"duration"`
}

// TopModels maintains the top-K-by-downloads leaderboard.
type TopModels struct {
	client  hub.Client
	fetcher *fetch.Fetcher
	store   *StateStore
	cfg     TopModelsConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewTopModels builds the G2 maintainer.
func NewTopModels(client hub.Client, fetcher *fetch.Fetcher, store *StateStore, cfg TopModelsConfig, logger *slog.Logger) *TopModels {
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TopModels{client: client, fetcher: fetcher, store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Update fetches the current leaderboard, compares it against the
// previous snapshot, and persists the new state.
func (t *TopModels) Update(ctx context.Context) (*TopModelsResult, error) {
	start := t.now()
	result := &TopModelsResult{}

	var summaries []hub.ModelSummary
	err := t.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		summaries, err = t.client.ListModels(ctx, hub.ListParams{
			Filter: "gguf", Sort: hub.SortDownloads, Direction: -1,
			Limit: 2 * t.cfg.K,
		})
		return err
	})
	result.APICalls = 1
	if err != nil {
		return result, fmt.Errorf("top-models listing: %w", err)
	}

	// The hub already sorts by downloads; re-sort stably to guarantee
	// the order regardless of server behavior.
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Downloads > summaries[j].Downloads
	})
	if len(summaries) > t.cfg.K {
		summaries = summaries[:t.cfg.K]
	}

	previous, err := t.store.LoadRanking()
	if err != nil {
		return result, err
	}
	prevRanks := map[string]catalog.TopRanking{}
	if previous != nil {
		for _, r := range previous.Rankings {
			prevRanks[r.ModelID] = r
		}
	}

	today := start.UTC().Format("2006-01-02")
	current := make(map[string]bool, len(summaries))
	for i, m := range summaries {
		rank := i + 1
		entry := catalog.TopRanking{
			ModelID:       m.ID,
			Rank:          rank,
			DownloadCount: m.Downloads,
			DaysInTop:     1,
			FirstTopDate:  today,
		}
		if prev, ok := prevRanks[m.ID]; ok {
			p := prev.Rank
			entry.PreviousRank = &p
			entry.RankChange = p - rank
			entry.DaysInTop = prev.DaysInTop + 1
			entry.FirstTopDate = prev.FirstTopDate

			switch {
			case entry.RankChange > 0:
				result.Changes.MovedUp = append(result.Changes.MovedUp, m.ID)
			case entry.RankChange < 0:
				result.Changes.MovedDown = append(result.Changes.MovedDown, m.ID)
			default:
				result.Changes.NoChange = append(result.Changes.NoChange, m.ID)
			}
		} else {
			result.Changes.NewEntries = append(result.Changes.NewEntries, m.ID)
		}

		current[m.ID] = true
		result.Rankings = append(result.Rankings, entry)
		result.Models = append(result.Models, topRef(m, rank))
	}

	for id := range prevRanks {
		if !current[id] {
			result.Changes.DroppedOut = append(result.Changes.DroppedOut, id)
		}
	}
	result.Changes.StabilityRatio = float64(len(result.Changes.NoChange)) / float64(t.cfg.K)

	snap := RankingSnapshot{TakenAt: start.UTC(), Rankings: result.Rankings}
	if err := t.store.SaveRanking(snap); err != nil {
		return result, err
	}
	if t.cfg.KeepHistory {
		keep := time.Duration(t.cfg.HistoryDays) * 24 * time.Hour
		if err := t.store.AppendRankingHistory(snap, keep); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(start)
	t.logger.Info("top-models ranking updated",
		"k", t.cfg.K,
		"new_entries", len(result.Changes.NewEntries),
		"dropped_out", len(result.Changes.DroppedOut),
		"stability", fmt.Sprintf("%.2f", result.Changes.StabilityRatio),
	)
	return result, nil
}

// topRef converts a leaderboard summary into a retention ref carrying
// its rank.
func topRef(m hub.ModelSummary, rank int) catalog.ModelRef {
	ref := refFromSummary(m, MethodTopDownloads, 1.0)
	ref.Source = string(catalog.SourceTop)
	ref.Attributes["rank"] = rank
	return ref
}
