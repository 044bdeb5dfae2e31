// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/cachestore"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
)

func TestAccessCheckStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/ok.gguf":
			w.WriteHeader(http.StatusOK)
		case "/gone.gguf":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	checker := NewAccessChecker(nil, nil, nil)

	ok, err := checker.Check(context.Background(), srv.URL+"/ok.gguf")
	require.NoError(t, err)
	assert.True(t, ok.Accessible)
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	gone, err := checker.Check(context.Background(), srv.URL+"/gone.gguf")
	require.NoError(t, err)
	assert.False(t, gone.Accessible)
}

func TestAccessCheckFollowsRedirects(t *testing.T) {
	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, target.URL+"/final", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	res, err := NewAccessChecker(nil, nil, nil).Check(context.Background(), target.URL+"/redirect")
	require.NoError(t, err)
	assert.True(t, res.Accessible)
}

func TestAccessCheckUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache, err := cachestore.OpenInMemory()
	require.NoError(t, err)
	defer cache.Close()

	checker := NewAccessChecker(cache, nil, nil)
	url := srv.URL + "/file.gguf"

	first, err := checker.Check(context.Background(), url)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := checker.Check(context.Background(), url)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.True(t, second.Accessible)

	assert.Equal(t, int32(1), hits.Load(), "second probe served from cache")
}

func TestAccessCheckNetworkFailure(t *testing.T) {
	// Closed server: connection refused marks inaccessible, no error.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/file.gguf"
	srv.Close()

	res, err := NewAccessChecker(nil, nil, nil).Check(context.Background(), url)
	require.NoError(t, err)
	assert.False(t, res.Accessible)
	assert.Zero(t, res.StatusCode)
}

// TestCheckAllCountsAgainstSharedFetcher pins down that probes flow
// through the shared fetcher, so HEAD traffic and API traffic share one
// global bound.
func TestCheckAllCountsAgainstSharedFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fetcher := fetch.NewFetcher(fetch.FetcherConfig{MaxConcurrency: 4})
	checker := NewAccessChecker(nil, fetcher, nil)

	urls := []string{
		srv.URL + "/a.gguf",
		srv.URL + "/b.gguf",
		srv.URL + "/c.gguf",
		srv.URL + "/d.gguf",
	}
	results, err := checker.CheckAll(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, int64(4), fetcher.Calls(), "every probe admitted through the fetcher")
}

func TestCheckAllProbesConcurrently(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var urls []string
	for i := 0; i < 10; i++ {
		urls = append(urls, fmt.Sprintf("%s/file-%d.gguf", srv.URL, i))
	}

	checker := NewAccessChecker(nil, fetch.NewFetcher(fetch.FetcherConfig{MaxConcurrency: 10}), nil)
	results, err := checker.CheckAll(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, results, 10)
	assert.Greater(t, peak.Load(), int32(1), "probes overlap instead of running one by one")
}

func TestCheckAllCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAccessChecker(nil, nil, nil).CheckAll(ctx, []string{"https://example.com/a.gguf"})
	assert.ErrorIs(t, err, context.Canceled)
}
