// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Published file names, relative to the output directory.
const (
	FileModels         = "data/models.json"
	FileSearchIndex    = "data/search-index.json"
	FileStatistics     = "data/statistics.json"
	FileFamilies       = "data/families.json"
	FileArchitectures  = "data/architectures.json"
	FileQuantizations  = "data/quantizations.json"
	FileModelsLight    = "data/models-light.json"
	FileLegacyModels   = "gguf_models.json"
	FileLegacySizes    = "gguf_models_estimated_sizes.json"
	lightModelCount    = 100
	statisticsTopCount = 10
	familiesTopCount   = 20
)

// GenerationMetadata stamps every artifact with its provenance.
type GenerationMetadata struct {
	GeneratedAt time.Time `json:"generatedAt"`
	ModelCount  int       `json:"modelCount"`
	Generator   string    `json:"generator"`
}

// Writer renders and persists the published artifact set.
//
// # Thread Safety
//
// Not safe for concurrent use; the orchestrator runs one writer per
// phase.
type Writer struct {
	outputDir string
	dryRun    bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewWriter builds a writer rooted at outputDir. With dryRun set, no
// file is written; the plan is logged instead.
func NewWriter(outputDir string, dryRun bool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{outputDir: outputDir, dryRun: dryRun, logger: logger, now: time.Now}
}

// WriteAll emits every artifact family for the given validated set and
// returns the list of files written (relative paths).
func (w *Writer) WriteAll(models []catalog.ModelRecord) ([]string, error) {
	meta := GenerationMetadata{
		GeneratedAt: w.now().UTC(),
		ModelCount:  len(models),
		Generator:   "ggufatlas",
	}

	files := []struct {
		path  string
		value any
	}{
		{FileModels, w.mainIndex(models, meta)},
		{FileSearchIndex, w.searchIndex(models, meta)},
		{FileStatistics, w.statistics(models, meta)},
		{FileFamilies, w.facet(models, func(m catalog.ModelRecord) []string { return []string{m.Family} }, meta)},
		{FileArchitectures, w.facet(models, func(m catalog.ModelRecord) []string { return []string{m.Architecture} }, meta)},
		{FileQuantizations, w.facet(models, func(m catalog.ModelRecord) []string { return m.Quantizations }, meta)},
		{FileModelsLight, w.lightIndex(models, meta)},
		{FileLegacyModels, w.legacyModels(models)},
		{FileLegacySizes, w.legacySizes(models)},
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		target := filepath.Join(w.outputDir, f.path)
		if w.dryRun {
			w.logger.Info("dry-run: would write artifact", "path", f.path)
			continue
		}
		if err := WriteJSONAtomic(target, f.value); err != nil {
			return written, fmt.Errorf("write artifact %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}

	if !w.dryRun {
		w.logger.Info("artifacts written", "count", len(written), "models", len(models))
	}
	return written, nil
}

// OutputDir returns the writer's root directory.
func (w *Writer) OutputDir() string { return w.outputDir }

// DryRun reports whether the writer is in dry-run mode.
func (w *Writer) DryRun() bool { return w.dryRun }

// ArtifactPaths returns the absolute paths of every file WriteAll
// touches. The orchestrator snapshots these before critical phases.
func (w *Writer) ArtifactPaths() []string {
	rel := []string{
		FileModels, FileSearchIndex, FileStatistics,
		FileFamilies, FileArchitectures, FileQuantizations,
		FileModelsLight, FileLegacyModels, FileLegacySizes,
	}
	out := make([]string, len(rel))
	for i, r := range rel {
		out[i] = filepath.Join(w.outputDir, r)
	}
	return out
}

// =============================================================================
// Main and light indexes
// =============================================================================

type modelsArtifact struct {
	Models   []catalog.ModelRecord `json:"models"`
	Metadata GenerationMetadata    `json:"metadata"`
}

func (w *Writer) mainIndex(models []catalog.ModelRecord, meta GenerationMetadata) modelsArtifact {
	out := make([]catalog.ModelRecord, 0, len(models))
	for _, m := range sortByDownloads(models) {
		out = append(out, optimizeRecord(m, descriptionLimitMain, tagLimitMain))
	}
	return modelsArtifact{Models: out, Metadata: meta}
}

type lightModel struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Architecture   string   `json:"architecture"`
	Downloads      int64    `json:"downloads"`
	Quantizations  []string `json:"quantizations"`
	TotalSizeBytes int64    `json:"totalSizeBytes"`
}

type lightArtifact struct {
	Models   []lightModel       `json:"models"`
	Metadata GenerationMetadata `json:"metadata"`
}

func (w *Writer) lightIndex(models []catalog.ModelRecord, meta GenerationMetadata) lightArtifact {
	ranked := sortByDownloads(models)
	if len(ranked) > lightModelCount {
		ranked = ranked[:lightModelCount]
	}
	out := make([]lightModel, 0, len(ranked))
	for _, m := range ranked {
		out = append(out, lightModel{
			ID:             m.ID,
			Name:           m.Name,
			Architecture:   m.Architecture,
			Downloads:      m.Downloads,
			Quantizations:  m.Quantizations,
			TotalSizeBytes: m.TotalSizeBytes,
		})
	}
	meta.ModelCount = len(out)
	return lightArtifact{Models: out, Metadata: meta}
}

// =============================================================================
// Search index
// =============================================================================

type searchEntry struct {
	SearchText      string   `json:"searchText"`
	Name            string   `json:"name"`
	Architecture    string   `json:"arch"`
	Family          string   `json:"family"`
	Quantizations   []string `json:"quants"`
	TotalSizeBytes  int64    `json:"size"`
	Downloads       int64    `json:"downloads"`
	FileCount       int      `json:"files"`
	DiscoveryMethod string   `json:"discoveryMethod"`
}

type searchArtifact struct {
	Models   map[string]searchEntry `json:"models"`
	Metadata GenerationMetadata     `json:"metadata"`
}

func (w *Writer) searchIndex(models []catalog.ModelRecord, meta GenerationMetadata) searchArtifact {
	out := make(map[string]searchEntry, len(models))
	for _, m := range models {
		parts := append([]string{m.ID, m.Name, m.Family, m.Architecture}, m.Quantizations...)
		parts = append(parts, m.Tags...)
		out[m.ID] = searchEntry{
			SearchText:      strings.ToLower(strings.Join(parts, " ")),
			Name:            m.Name,
			Architecture:    m.Architecture,
			Family:          m.Family,
			Quantizations:   m.Quantizations,
			TotalSizeBytes:  m.TotalSizeBytes,
			Downloads:       m.Downloads,
			FileCount:       len(m.Files),
			DiscoveryMethod: m.DiscoveryMethod,
		}
	}
	return searchArtifact{Models: out, Metadata: meta}
}

// =============================================================================
// Statistics
// =============================================================================

type topModel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Downloads int64  `json:"downloads"`
}

type statisticsArtifact struct {
	TotalModels    int   `json:"totalModels"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
	TotalDownloads int64 `json:"totalDownloads"`

	Architectures map[string]int `json:"architectures"`
	Families      map[string]int `json:"families"`
	Quantizations map[string]int `json:"quantizations"`
	SizeBuckets   map[string]int `json:"sizeBuckets"`

	TopByDownloads []topModel         `json:"topByDownloads"`
	Metadata       GenerationMetadata `json:"metadata"`
}

func (w *Writer) statistics(models []catalog.ModelRecord, meta GenerationMetadata) statisticsArtifact {
	stats := statisticsArtifact{
		TotalModels:   len(models),
		Architectures: map[string]int{},
		Families:      map[string]int{},
		Quantizations: map[string]int{},
		SizeBuckets:   map[string]int{},
		Metadata:      meta,
	}

	for _, m := range models {
		stats.TotalSizeBytes += m.TotalSizeBytes
		stats.TotalDownloads += m.Downloads
		stats.Architectures[m.Architecture]++
		stats.Families[m.Family]++
		for _, q := range m.Quantizations {
			stats.Quantizations[q]++
		}
		stats.SizeBuckets[catalog.SizeCategory(m.ID)]++
	}

	stats.Families = topCounts(stats.Families, familiesTopCount)

	for _, m := range sortByDownloads(models) {
		stats.TopByDownloads = append(stats.TopByDownloads, topModel{
			ID: m.ID, Name: m.Name, Downloads: m.Downloads,
		})
		if len(stats.TopByDownloads) == statisticsTopCount {
			break
		}
	}
	return stats
}

// topCounts keeps only the n highest-count entries of m.
func topCounts(m map[string]int, n int) map[string]int {
	if len(m) <= n {
		return m
	}
	type kv struct {
		k string
		v int
	}
	entries := make([]kv, 0, len(m))
	for k, v := range m {
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].v != entries[j].v {
			return entries[i].v > entries[j].v
		}
		return entries[i].k < entries[j].k
	})
	out := make(map[string]int, n)
	for _, e := range entries[:n] {
		out[e.k] = e.v
	}
	return out
}

// =============================================================================
// Faceted indexes
// =============================================================================

type facetEntry struct {
	Count  int      `json:"count"`
	Models []string `json:"models"`
}

type facetArtifact struct {
	Facets   map[string]facetEntry `json:"facets"`
	Metadata GenerationMetadata    `json:"metadata"`
}

// facet groups model ids by the keys keyFn yields per record. Empty
// keys are skipped.
func (w *Writer) facet(models []catalog.ModelRecord, keyFn func(catalog.ModelRecord) []string, meta GenerationMetadata) facetArtifact {
	groups := map[string][]string{}
	for _, m := range models {
		for _, key := range keyFn(m) {
			if key == "" {
				continue
			}
			groups[key] = append(groups[key], m.ID)
		}
	}

	out := make(map[string]facetEntry, len(groups))
	for key, ids := range groups {
		sort.Strings(ids)
		out[key] = facetEntry{Count: len(ids), Models: ids}
	}
	return facetArtifact{Facets: out, Metadata: meta}
}

// =============================================================================
// Legacy compatibility files
// =============================================================================

type legacyFile struct {
	Filename string `json:"filename"`
}

type legacyModel struct {
	ModelID            string       `json:"modelId"`
	Files              []legacyFile `json:"files"`
	Downloads          int64        `json:"downloads"`
	LastModified       *time.Time   `json:"lastModified,omitempty"`
	LastSynced         *time.Time   `json:"lastSynced,omitempty"`
	FreshnessStatus    string       `json:"freshnessStatus,omitempty"`
	HoursSinceModified float64      `json:"hoursSinceModified,omitempty"`
	HoursSinceSynced   float64      `json:"hoursSinceSynced,omitempty"`
}

func (w *Writer) legacyModels(models []catalog.ModelRecord) []legacyModel {
	out := make([]legacyModel, 0, len(models))
	for _, m := range sortByDownloads(models) {
		entry := legacyModel{
			ModelID:      m.ID,
			Downloads:    m.Downloads,
			LastModified: m.LastModified,
		}
		for _, f := range m.Files {
			entry.Files = append(entry.Files, legacyFile{Filename: f.Filename})
		}
		if fr := m.Freshness; fr != nil {
			synced := fr.LastSynced
			entry.LastSynced = &synced
			entry.FreshnessStatus = fr.Status
			entry.HoursSinceModified = fr.HoursSinceModified
			entry.HoursSinceSynced = fr.HoursSinceSynced
		}
		out = append(out, entry)
	}
	return out
}

type legacySizeEntry struct {
	TotalSize       int64            `json:"totalSize"`
	Files           map[string]int64 `json:"files"`
	LastUpdated     *time.Time       `json:"lastUpdated,omitempty"`
	FreshnessStatus string           `json:"freshnessStatus,omitempty"`
}

func (w *Writer) legacySizes(models []catalog.ModelRecord) map[string]legacySizeEntry {
	out := make(map[string]legacySizeEntry, len(models))
	for _, m := range models {
		files := make(map[string]int64, len(m.Files))
		for _, f := range m.Files {
			files[f.Filename] = f.SizeBytes
		}
		entry := legacySizeEntry{
			TotalSize:   m.TotalSizeBytes,
			Files:       files,
			LastUpdated: m.LastModified,
		}
		if m.Freshness != nil {
			entry.FreshnessStatus = m.Freshness.Status
		}
		out[m.ID] = entry
	}
	return out
}
