// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package completeness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/cachestore"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// fakeHub answers the verifier's two listing shapes and model-info.
type fakeHub struct {
	all     []hub.ModelSummary
	recent  []hub.ModelSummary
	details map[string]*hub.ModelSummary
	listErr error
	infoErr error
}

func (f *fakeHub) ListModels(_ context.Context, params hub.ListParams) ([]hub.ModelSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if params.Sort == hub.SortModified {
		return f.recent, nil
	}
	return f.all, nil
}

func (f *fakeHub) ModelInfo(_ context.Context, id string) (*hub.ModelSummary, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return nil, &hub.APIError{StatusCode: 404, Operation: "model_info", Message: "not found"}
}

func (f *fakeHub) ListRepoFiles(_ context.Context, _ string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeHub) GetPathsInfo(_ context.Context, _ string, _ []string) ([]hub.PathInfo, error) {
	return nil, errors.New("not implemented")
}

func summaries(n int) []hub.ModelSummary {
	out := make([]hub.ModelSummary, n)
	for i := range out {
		out[i] = hub.ModelSummary{ID: fmt.Sprintf("org/model-%03d", i)}
	}
	return out
}

func processedFor(ids []hub.ModelSummary, upTo int) []catalog.ModelRecord {
	var out []catalog.ModelRecord
	for i := 0; i < upTo && i < len(ids); i++ {
		out = append(out, catalog.ModelRecord{
			ID:    ids[i].ID,
			Files: []catalog.FileRecord{{Filename: "m.gguf", SizeBytes: 100}},
		})
	}
	return out
}

func newTestVerifier(client hub.Client, cache *cachestore.Cache) *Verifier {
	return NewVerifier(client, fetch.NewFetcher(fetch.FetcherConfig{MaxConcurrency: 4}), cache, nil, nil)
}

func TestVerifyScoreAndStatus(t *testing.T) {
	all := summaries(100)
	client := &fakeHub{all: all, recent: all[:10]}

	report, err := newTestVerifier(client, nil).Verify(context.Background(), processedFor(all, 96), -1)
	require.NoError(t, err)

	assert.Equal(t, 100, report.HubTotal)
	assert.Equal(t, 96, report.ProcessedWithFiles)
	assert.InDelta(t, 96.0, report.Score, 0.01)
	assert.Equal(t, StatusGood, report.Status)
	assert.Empty(t, report.MissingModels, "recent sample fully covered")
	assert.InDelta(t, 1.0, report.CompleteDataRate, 0.01)
}

func TestVerifyStatusThresholds(t *testing.T) {
	cases := []struct {
		score  float64
		status string
	}{
		{99, StatusExcellent},
		{98, StatusExcellent},
		{96, StatusGood},
		{92, StatusWarning},
		{50, StatusCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(tc.score), "score %.0f", tc.score)
	}
}

func TestVerifyFindsMissingRecent(t *testing.T) {
	all := summaries(10)
	client := &fakeHub{all: all, recent: all}

	report, err := newTestVerifier(client, nil).Verify(context.Background(), processedFor(all, 4), -1)
	require.NoError(t, err)
	assert.Len(t, report.MissingModels, 6)
}

func TestVerifyUsesCachedTotalOnFailure(t *testing.T) {
	cache, err := cachestore.OpenInMemory()
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.SetJSON(hubTotalCacheKey, 250, hubTotalTTL))

	client := &fakeHub{listErr: errors.New("hub down")}
	report, err := newTestVerifier(client, cache).Verify(context.Background(), nil, -1)
	require.NoError(t, err)

	assert.Equal(t, 250, report.HubTotal)
	assert.True(t, report.HubTotalFromCache)
	assert.Equal(t, StatusCritical, report.Status)
}

func TestVerifyZeroTotalWithoutCache(t *testing.T) {
	client := &fakeHub{listErr: errors.New("hub down")}
	report, err := newTestVerifier(client, nil).Verify(context.Background(), nil, -1)
	require.NoError(t, err)
	assert.Zero(t, report.HubTotal)
	assert.Zero(t, report.Score)
}

// TestRecoverMissing replays the recovery flow: 4 missing ids, 2 with
// gguf siblings, 1 without, 1 unfetchable.
func TestRecoverMissing(t *testing.T) {
	client := &fakeHub{details: map[string]*hub.ModelSummary{
		"org/a": {ID: "org/a", Downloads: 10, Siblings: []hub.Sibling{{Rfilename: "a.Q4_K_M.gguf"}}},
		"org/b": {ID: "org/b", Siblings: []hub.Sibling{{Rfilename: "weights.safetensors"}}},
		"org/c": {ID: "org/c", Siblings: []hub.Sibling{{Rfilename: "C.GGUF"}}},
	}}

	result, err := newTestVerifier(client, nil).RecoverMissing(context.Background(),
		[]string{"org/a", "org/b", "org/c", "org/gone"})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Attempted)
	require.Len(t, result.Recovered, 2)
	assert.Equal(t, 1, result.NoGGUF)
	assert.Equal(t, 1, result.Failed)
	assert.InDelta(t, 50.0, result.RecoveryRate, 0.01)
	assert.Equal(t, "completeness_recovery", result.Recovered[0].DiscoveryMethod)
	assert.Equal(t, 1.0, result.Recovered[0].ConfidenceScore)
}

func TestRecoverMissingEmpty(t *testing.T) {
	result, err := newTestVerifier(&fakeHub{}, nil).RecoverMissing(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Zero(t, result.RecoveryRate)
}

func TestWriteReportRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	report := &Report{
		HubTotal:           200,
		ProcessedWithFiles: 190,
		Score:              95.0,
		Status:             StatusGood,
		CompleteDataRate:   0.97,
		VerifiedAt:         time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, WriteReport(dir, report))

	var got Report
	require.NoError(t, artifacts.ReadJSON(filepath.Join(dir, MetadataFile), &got))
	assert.Equal(t, report.HubTotal, got.HubTotal)
	assert.Equal(t, report.Status, got.Status)
	assert.Equal(t, report.Score, got.Score)
	assert.True(t, report.VerifiedAt.Equal(got.VerifiedAt))
}
