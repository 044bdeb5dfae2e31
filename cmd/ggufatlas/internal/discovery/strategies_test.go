// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// fakeHub serves canned listings keyed by the distinguishing param.
type fakeHub struct {
	byFilter map[string][]hub.ModelSummary
	bySearch map[string][]hub.ModelSummary
	byAuthor map[string][]hub.ModelSummary
	listErr  error
	calls    int
}

func (f *fakeHub) ListModels(_ context.Context, params hub.ListParams) ([]hub.ModelSummary, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	switch {
	case params.Filter != "":
		return f.byFilter[params.Filter], nil
	case params.Search != "":
		return f.bySearch[params.Search], nil
	case params.Author != "":
		return f.byAuthor[params.Author], nil
	}
	return nil, nil
}

func (f *fakeHub) ModelInfo(_ context.Context, _ string) (*hub.ModelSummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeHub) ListRepoFiles(_ context.Context, _ string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeHub) GetPathsInfo(_ context.Context, _ string, _ []string) ([]hub.PathInfo, error) {
	return nil, errors.New("not implemented")
}

func testFetcher() *fetch.Fetcher {
	return fetch.NewFetcher(fetch.FetcherConfig{MaxConcurrency: 4})
}

func TestPrimaryStrategyFiltersInvalidIDs(t *testing.T) {
	client := &fakeHub{byFilter: map[string][]hub.ModelSummary{
		"gguf": {
			{ID: "TheBloke/Llama-2-7B-GGUF", Downloads: 5000},
			{ID: "not-a-repo-id", Downloads: 10},
			{ID: "bartowski/Qwen2.5-7B-Instruct-GGUF", Downloads: 3000},
		},
	}}

	s := &PrimaryStrategy{Client: client, Fetcher: testFetcher()}
	res := s.Discover(context.Background())

	require.NoError(t, res.Err)
	require.Len(t, res.Refs, 2)
	assert.Equal(t, 1.0, res.Refs[0].ConfidenceScore)
	assert.Equal(t, MethodPrimary, res.Refs[0].DiscoveryMethod)
	assert.Equal(t, int64(5000), res.Refs[0].Downloads())
}

func TestQuantizationStrategyAppliesHeuristic(t *testing.T) {
	client := &fakeHub{bySearch: map[string][]hub.ModelSummary{
		"Q4_K_M": {
			{ID: "org/model-Q4_K_M-GGUF"},
			{ID: "org/unrelated-dataset"},
		},
	}}

	s := &QuantizationStrategy{Client: client, Fetcher: testFetcher(), Labels: []string{"Q4_K_M"}}
	res := s.Discover(context.Background())

	require.NoError(t, res.Err)
	require.Len(t, res.Refs, 1)
	assert.Equal(t, "org/model-Q4_K_M-GGUF", res.Refs[0].ID)
	assert.Equal(t, 0.8, res.Refs[0].ConfidenceScore)
	assert.Equal(t, 1, res.APICalls)
}

func TestArchitectureStrategySurvivesPartialSearchFailure(t *testing.T) {
	client := &fakeHub{bySearch: map[string][]hub.ModelSummary{
		"llama gguf": {{ID: "org/llama-gguf", Tags: []string{"gguf"}}},
	}}

	s := &ArchitectureStrategy{Client: client, Fetcher: testFetcher(), Families: []string{"llama", "qwen"}}
	res := s.Discover(context.Background())

	// qwen search returned nothing, llama produced a ref; no error.
	require.NoError(t, res.Err)
	assert.Len(t, res.Refs, 1)
	assert.Equal(t, 2, res.APICalls)
}

func TestOrganizationStrategyReportsTotalFailure(t *testing.T) {
	client := &fakeHub{listErr: errors.New("service unavailable")}

	s := &OrganizationStrategy{Client: client, Fetcher: testFetcher(), Organizations: []string{"TheBloke"}}
	res := s.Discover(context.Background())

	assert.Error(t, res.Err)
	assert.Empty(t, res.Refs)
}
