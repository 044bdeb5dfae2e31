// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enrich turns discovered ModelRefs into full ModelRecords by
// listing each repository's files and fetching per-file metadata.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// maxFilesPerModel caps per-file metadata calls. Repos with dozens of
// quantization variants would otherwise dominate the API budget.
const maxFilesPerModel = 10

// downloadURL builds the direct file link for a repo-relative filename.
func downloadURL(baseURL, id, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", strings.TrimRight(baseURL, "/"), id, filename)
}

// Enricher fetches file listings and metadata through the rate-limited
// fetcher and assembles ModelRecords.
//
// # Thread Safety
//
// Safe for concurrent use; per-model work shares the fetcher's limits.
type Enricher struct {
	client  hub.Client
	fetcher *fetch.Fetcher
	baseURL string
	logger  *slog.Logger
}

// Config configures an Enricher.
type Config struct {
	// BaseURL is the hub origin used to build download links.
	// Default: https://huggingface.co
	BaseURL string

	// Logger receives per-model enrichment events.
	Logger *slog.Logger
}

// NewEnricher builds an Enricher over the given client and fetcher.
func NewEnricher(client hub.Client, fetcher *fetch.Fetcher, cfg Config) *Enricher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://huggingface.co"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Enricher{
		client:  client,
		fetcher: fetcher,
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
	}
}

// EnrichModel builds the full record for one discovered ref.
//
// # Description
//
// Lists the repository files, keeps the first maxFilesPerModel .gguf
// entries, and fetches their metadata in one paths-info call. When the
// paths-info call fails, every file falls back to a zero-size record so
// a metadata outage degrades size data instead of losing models.
//
// A repository with no .gguf files returns (nil, nil): not an error,
// the ref simply leaves the pipeline.
func (e *Enricher) EnrichModel(ctx context.Context, ref catalog.ModelRef) (*catalog.ModelRecord, error) {
	var files []string
	err := e.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		files, err = e.client.ListRepoFiles(ctx, ref.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", ref.ID, err)
	}

	var ggufFiles []string
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f), ".gguf") {
			ggufFiles = append(ggufFiles, f)
			if len(ggufFiles) == maxFilesPerModel {
				break
			}
		}
	}
	if len(ggufFiles) == 0 {
		e.logger.Debug("no gguf files, dropping model", "model", ref.ID)
		return nil, nil
	}

	var infos []hub.PathInfo
	err = e.fetcher.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		infos, err = e.client.GetPathsInfo(ctx, ref.ID, ggufFiles)
		return err
	})
	if err != nil {
		e.logger.Warn("paths-info failed, using zero-size fallback",
			"model", ref.ID, "error", err)
		infos = nil
	}

	infoByPath := make(map[string]hub.PathInfo, len(infos))
	for _, pi := range infos {
		infoByPath[pi.Path] = pi
	}

	records := make([]catalog.FileRecord, 0, len(ggufFiles))
	for _, f := range ggufFiles {
		rec := catalog.FileRecord{
			Filename:     f,
			Quantization: catalog.QuantizationFromFilename(f),
			DownloadURL:  downloadURL(e.baseURL, ref.ID, f),
		}
		if pi, ok := infoByPath[f]; ok {
			rec.SizeBytes = pi.Size
			rec.LastModified = pi.LastModified
		}
		rec.SizeHuman = humanize.Bytes(uint64(rec.SizeBytes))
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].SizeBytes != records[j].SizeBytes {
			return records[i].SizeBytes > records[j].SizeBytes
		}
		return records[i].Filename < records[j].Filename
	})

	tags := ref.Tags()
	if tags == nil {
		tags = []string{}
	}
	model := &catalog.ModelRecord{
		ID:              ref.ID,
		Name:            catalog.DisplayName(ref.ID),
		Family:          catalog.FamilyOf(ref.ID),
		Architecture:    catalog.ArchitectureFor(ref.ID, tags),
		Files:           records,
		Downloads:       ref.Downloads(),
		Likes:           attrInt(ref.Attributes, "likes"),
		Tags:            tags,
		DiscoveryMethod: ref.DiscoveryMethod,
		ConfidenceScore: ref.ConfidenceScore,
		LastModified:    attrTime(ref.Attributes, "last_modified"),
		CreatedAt:       attrTime(ref.Attributes, "created_at"),
	}
	model.RecomputeTotals()
	return model, nil
}

func attrInt(attrs map[string]any, key string) int64 {
	switch v := attrs[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func attrTime(attrs map[string]any, key string) *time.Time {
	s, ok := attrs[key].(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
