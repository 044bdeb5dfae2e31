// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enrich

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// fakeHub serves canned file listings and path metadata.
type fakeHub struct {
	files        map[string][]string
	pathInfo     map[string][]hub.PathInfo
	listErr      error
	pathsErr     error
	listCalls    int
	pathsCalls   int
	pathsBatches [][]string
}

func (f *fakeHub) ListModels(_ context.Context, _ hub.ListParams) ([]hub.ModelSummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeHub) ModelInfo(_ context.Context, _ string) (*hub.ModelSummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeHub) ListRepoFiles(_ context.Context, id string) ([]string, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files[id], nil
}

func (f *fakeHub) GetPathsInfo(_ context.Context, id string, paths []string) ([]hub.PathInfo, error) {
	f.pathsCalls++
	f.pathsBatches = append(f.pathsBatches, paths)
	if f.pathsErr != nil {
		return nil, f.pathsErr
	}
	return f.pathInfo[id], nil
}

func testEnricher(client hub.Client) *Enricher {
	return NewEnricher(client, fetch.NewFetcher(fetch.FetcherConfig{MaxConcurrency: 4}), Config{})
}

func discoveredRef(id string) catalog.ModelRef {
	return catalog.ModelRef{
		ID:              id,
		DiscoveryMethod: "primary_gguf_tag",
		ConfidenceScore: 1.0,
		Attributes: map[string]any{
			"downloads":     int64(4200),
			"likes":         int64(17),
			"tags":          []string{"gguf", "llama"},
			"last_modified": "2026-01-15T08:30:00Z",
		},
	}
}

func TestEnrichModelBuildsRecord(t *testing.T) {
	mod := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	client := &fakeHub{
		files: map[string][]string{
			"org/llama-3-8b-gguf": {"README.md", "model.Q4_K_M.gguf", "model.Q8_0.gguf"},
		},
		pathInfo: map[string][]hub.PathInfo{
			"org/llama-3-8b-gguf": {
				{Path: "model.Q4_K_M.gguf", Size: 4_500_000_000, LastModified: &mod},
				{Path: "model.Q8_0.gguf", Size: 8_100_000_000},
			},
		},
	}

	rec, err := testEnricher(client).EnrichModel(context.Background(), discoveredRef("org/llama-3-8b-gguf"))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "Llama 3 8b Gguf", rec.Name)
	assert.Equal(t, "org", rec.Family)
	assert.Equal(t, "Llama", rec.Architecture)
	assert.Equal(t, int64(4200), rec.Downloads)
	assert.Equal(t, int64(17), rec.Likes)

	// Files sorted by size descending.
	require.Len(t, rec.Files, 2)
	assert.Equal(t, "model.Q8_0.gguf", rec.Files[0].Filename)
	assert.Equal(t, "Q8_0", rec.Files[0].Quantization)
	assert.Equal(t, "Q4_K_M", rec.Files[1].Quantization)
	assert.Equal(t, mod, *rec.Files[1].LastModified)
	assert.Equal(t,
		"https://huggingface.co/org/llama-3-8b-gguf/resolve/main/model.Q8_0.gguf",
		rec.Files[0].DownloadURL)

	assert.Equal(t, int64(12_600_000_000), rec.TotalSizeBytes)
	assert.ElementsMatch(t, []string{"Q4_K_M", "Q8_0"}, rec.Quantizations)
	require.NotNil(t, rec.LastModified)
	assert.Equal(t, "2026-01-15T08:30:00Z", rec.LastModified.Format(time.RFC3339))
}

func TestEnrichModelDropsZeroGGUF(t *testing.T) {
	client := &fakeHub{files: map[string][]string{
		"org/dataset": {"README.md", "data.parquet"},
	}}

	rec, err := testEnricher(client).EnrichModel(context.Background(), discoveredRef("org/dataset"))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, client.pathsCalls, "no metadata call for zero-gguf repos")
}

func TestEnrichModelCapsFileCount(t *testing.T) {
	var files []string
	for i := 0; i < 15; i++ {
		files = append(files, fmt.Sprintf("model-%02d.Q4_0.gguf", i))
	}
	client := &fakeHub{files: map[string][]string{"org/many": files}}

	rec, err := testEnricher(client).EnrichModel(context.Background(), discoveredRef("org/many"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Files, maxFilesPerModel)
	require.Len(t, client.pathsBatches, 1)
	assert.Len(t, client.pathsBatches[0], maxFilesPerModel)
}

func TestEnrichModelMetadataFallback(t *testing.T) {
	client := &fakeHub{
		files:    map[string][]string{"org/m": {"m.Q5_K_M.gguf"}},
		pathsErr: errors.New("paths-info unavailable"),
	}

	rec, err := testEnricher(client).EnrichModel(context.Background(), discoveredRef("org/m"))
	require.NoError(t, err, "metadata outage degrades, never fails the model")
	require.NotNil(t, rec)
	require.Len(t, rec.Files, 1)
	assert.Zero(t, rec.Files[0].SizeBytes)
	assert.Nil(t, rec.Files[0].LastModified)
	assert.Equal(t, "Q5_K_M", rec.Files[0].Quantization)
}

func TestEnrichModelListFailure(t *testing.T) {
	client := &fakeHub{listErr: errors.New("503 service unavailable")}

	_, err := testEnricher(client).EnrichModel(context.Background(), discoveredRef("org/m"))
	assert.Error(t, err)
}

func TestEnrichBatchIsolatesFailures(t *testing.T) {
	client := &fakeHub{
		files: map[string][]string{
			"org/good":  {"good.Q4_K_M.gguf"},
			"org/empty": {"README.md"},
		},
	}
	e := testEnricher(client)

	// org/missing lists no files either, so it counts as dropped too;
	// use a client-level error for a genuine failure instead.
	refs := []catalog.ModelRef{
		discoveredRef("org/good"),
		discoveredRef("org/empty"),
	}

	var progressCalls int
	res := e.EnrichBatch(context.Background(), refs, func(completed, total int, _ string, _ error) {
		progressCalls++
		assert.Equal(t, 2, total)
	})

	require.Len(t, res.Models, 1)
	assert.Equal(t, "org/good", res.Models[0].ID)
	assert.Equal(t, 1, res.Dropped)
	assert.Empty(t, res.Failures)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 2, progressCalls)
}

func TestEnrichBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeHub{files: map[string][]string{"org/m": {"m.Q4_0.gguf"}}}
	res := testEnricher(client).EnrichBatch(ctx, []catalog.ModelRef{discoveredRef("org/m")}, nil)
	assert.True(t, res.Cancelled)
}
