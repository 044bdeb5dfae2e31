// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention keeps the published dataset bounded: a recent
// window of uploads, a top-K downloads leaderboard, a merged view of
// both, and cleanup of everything that fell out.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// State file names under the state directory.
const (
	rankingFile        = "top_models_ranking.json"
	rankingHistoryFile = "top_models_ranking_history.json"
	metadataFile       = "retention_metadata.json"
	topModelsFile      = "top_models.json"
	recentModelsFile   = "recent_models.json"
)

// RankingSnapshot is one persisted leaderboard.
type RankingSnapshot struct {
	TakenAt  time.Time            `json:"takenAt"`
	Rankings []catalog.TopRanking `json:"rankings"`
}

// rankingHistory is the bounded append log of snapshots.
type rankingHistory struct {
	Snapshots []RankingSnapshot `json:"snapshots"`
}

// TopModelsSnapshot is the persisted merged model set, the retention
// graph's durable output.
type TopModelsSnapshot struct {
	UpdatedAt time.Time          `json:"updatedAt"`
	Models    []catalog.ModelRef `json:"models"`
}

// RecentSnapshot is the persisted recent-window extraction, kept so a
// later run can fall back to it when the hub is unreachable.
type RecentSnapshot struct {
	SavedAt time.Time          `json:"savedAt"`
	From    time.Time          `json:"from"`
	To      time.Time          `json:"to"`
	Models  []catalog.ModelRef `json:"models"`
}

// metadataState is the persisted per-model tracking table.
type metadataState struct {
	Models    map[string]catalog.RetentionMetadata `json:"models"`
	UpdatedAt time.Time                            `json:"updatedAt"`
}

// StateStore persists retention state as atomic JSON files.
//
// # Thread Safety
//
// Not safe for concurrent use. Phases run sequentially and each loads
// a consistent snapshot at start.
type StateStore struct {
	dir string
}

// NewStateStore roots a store at dir, creating it on first write.
func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

// LoadRanking returns the previous leaderboard, or nil when none exists.
func (s *StateStore) LoadRanking() (*RankingSnapshot, error) {
	var snap RankingSnapshot
	err := artifacts.ReadJSON(filepath.Join(s.dir, rankingFile), &snap)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ranking: %w", err)
	}
	return &snap, nil
}

// SaveRanking persists the current leaderboard.
func (s *StateStore) SaveRanking(snap RankingSnapshot) error {
	if err := artifacts.WriteJSONAtomic(filepath.Join(s.dir, rankingFile), snap); err != nil {
		return fmt.Errorf("save ranking: %w", err)
	}
	return nil
}

// AppendRankingHistory adds snap to the history log, dropping entries
// older than keep.
func (s *StateStore) AppendRankingHistory(snap RankingSnapshot, keep time.Duration) error {
	path := filepath.Join(s.dir, rankingHistoryFile)

	var history rankingHistory
	if err := artifacts.ReadJSON(path, &history); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load ranking history: %w", err)
	}

	cutoff := snap.TakenAt.Add(-keep)
	kept := history.Snapshots[:0]
	for _, old := range history.Snapshots {
		if !old.TakenAt.Before(cutoff) {
			kept = append(kept, old)
		}
	}
	history.Snapshots = append(kept, snap)

	sort.Slice(history.Snapshots, func(i, j int) bool {
		return history.Snapshots[i].TakenAt.Before(history.Snapshots[j].TakenAt)
	})
	if err := artifacts.WriteJSONAtomic(path, history); err != nil {
		return fmt.Errorf("save ranking history: %w", err)
	}
	return nil
}

// LoadMetadata returns the tracking table, empty when none exists.
func (s *StateStore) LoadMetadata() (map[string]catalog.RetentionMetadata, error) {
	var state metadataState
	err := artifacts.ReadJSON(filepath.Join(s.dir, metadataFile), &state)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]catalog.RetentionMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load retention metadata: %w", err)
	}
	if state.Models == nil {
		state.Models = map[string]catalog.RetentionMetadata{}
	}
	return state.Models, nil
}

// SaveMetadata persists the tracking table.
func (s *StateStore) SaveMetadata(models map[string]catalog.RetentionMetadata) error {
	state := metadataState{Models: models, UpdatedAt: time.Now().UTC()}
	if err := artifacts.WriteJSONAtomic(filepath.Join(s.dir, metadataFile), state); err != nil {
		return fmt.Errorf("save retention metadata: %w", err)
	}
	return nil
}

// LoadTopModels returns the last merged model set, nil when none exists.
func (s *StateStore) LoadTopModels() (*TopModelsSnapshot, error) {
	var snap TopModelsSnapshot
	err := artifacts.ReadJSON(filepath.Join(s.dir, topModelsFile), &snap)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load top models: %w", err)
	}
	return &snap, nil
}

// SaveTopModels persists the merged model set.
func (s *StateStore) SaveTopModels(snap TopModelsSnapshot) error {
	if err := artifacts.WriteJSONAtomic(filepath.Join(s.dir, topModelsFile), snap); err != nil {
		return fmt.Errorf("save top models: %w", err)
	}
	return nil
}

// LoadRecentWindow returns the last recent-window extraction, nil when
// none exists.
func (s *StateStore) LoadRecentWindow() (*RecentSnapshot, error) {
	var snap RecentSnapshot
	err := artifacts.ReadJSON(filepath.Join(s.dir, recentModelsFile), &snap)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recent window: %w", err)
	}
	return &snap, nil
}

// SaveRecentWindow persists the recent-window extraction.
func (s *StateStore) SaveRecentWindow(snap RecentSnapshot) error {
	if err := artifacts.WriteJSONAtomic(filepath.Join(s.dir, recentModelsFile), snap); err != nil {
		return fmt.Errorf("save recent window: %w", err)
	}
	return nil
}

// UpsertTracking folds a merged model set into the tracking table. New
// models get first_seen stamped; known models refresh last_updated,
// source, and download count. Returns the table size after the upsert.
func (s *StateStore) UpsertTracking(models []catalog.ModelRef, now time.Time) (int, error) {
	table, err := s.LoadMetadata()
	if err != nil {
		return 0, err
	}
	for _, ref := range models {
		meta, ok := table[ref.ID]
		if !ok {
			meta = catalog.RetentionMetadata{ModelID: ref.ID, FirstSeen: now}
		}
		meta.LastUpdated = now
		meta.Source = catalog.RetentionSource(ref.Source)
		meta.DownloadCount = ref.Downloads()
		meta.CleanupEligible = false
		table[ref.ID] = meta
	}
	if err := s.SaveMetadata(table); err != nil {
		return 0, err
	}
	return len(table), nil
}

// Dir exposes the state directory for rollback snapshots.
func (s *StateStore) Dir() string { return s.dir }

// RankingPath returns the leaderboard file path for rollback snapshots.
func (s *StateStore) RankingPath() string { return filepath.Join(s.dir, rankingFile) }

// MetadataPath returns the tracking table path for rollback snapshots.
func (s *StateStore) MetadataPath() string { return filepath.Join(s.dir, metadataFile) }

// TopModelsPath returns the merged model set path for rollback snapshots.
func (s *StateStore) TopModelsPath() string { return filepath.Join(s.dir, topModelsFile) }
