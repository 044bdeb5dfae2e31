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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/cachestore"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
)

const (
	// accessTimeout bounds one HEAD probe.
	accessTimeout = 30 * time.Second

	// accessCacheTTL is how long a probe result stays valid.
	accessCacheTTL = time.Hour

	// accessConcurrency caps the probe fan-out. Each probe still holds a
	// slot in the shared fetcher, so the global hub budget covers them.
	accessConcurrency = 10
)

// AccessResult is one URL probe outcome.
type AccessResult struct {
	URL        string    `json:"url"`
	Accessible bool      `json:"accessible"`
	StatusCode int       `json:"statusCode,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
	FromCache  bool      `json:"-"`
}

// AccessChecker probes download URLs with HEAD requests.
//
// # Description
//
// A URL is accessible when the probe completes with a 2xx or 3xx
// status. Redirects are followed. Results are cached so repeated runs
// within the TTL skip the network entirely. Every network probe is
// admitted through the shared fetcher, so probes and API calls count
// against one global bound.
//
// # Thread Safety
//
// Safe for concurrent use.
type AccessChecker struct {
	client  *http.Client
	cache   *cachestore.Cache
	fetcher *fetch.Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewAccessChecker builds a checker. cache may be nil, in which case
// every probe hits the network. fetcher may be nil, in which case a
// private bound of accessConcurrency applies.
func NewAccessChecker(cache *cachestore.Cache, fetcher *fetch.Fetcher, logger *slog.Logger) *AccessChecker {
	if logger == nil {
		logger = slog.Default()
	}
	if fetcher == nil {
		fetcher = fetch.NewFetcher(fetch.FetcherConfig{
			MaxConcurrency: accessConcurrency,
			Logger:         logger,
		})
	}
	return &AccessChecker{
		client:  &http.Client{Timeout: accessTimeout},
		cache:   cache,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Check probes one URL, serving from cache when possible.
func (c *AccessChecker) Check(ctx context.Context, url string) (AccessResult, error) {
	key := "url_access:" + url
	if c.cache != nil {
		var cached AccessResult
		if err := c.cache.GetJSON(key, &cached); err == nil {
			cached.FromCache = true
			return cached, nil
		}
	}

	if err := c.fetcher.Acquire(ctx); err != nil {
		return AccessResult{}, err
	}

	result := AccessResult{URL: url, CheckedAt: c.now().UTC()}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		c.fetcher.Release(ctx, false, false)
		return AccessResult{}, fmt.Errorf("build access probe for %s: %w", url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failure marks the URL inaccessible but is not an
		// error: the answer is the point of the probe.
		c.logger.Debug("access probe failed", "url", url, "error", err)
	} else {
		resp.Body.Close()
		result.StatusCode = resp.StatusCode
		result.Accessible = resp.StatusCode >= 200 && resp.StatusCode < 400
	}
	c.fetcher.Release(ctx, err == nil && result.StatusCode != http.StatusTooManyRequests,
		result.StatusCode == http.StatusTooManyRequests)

	if c.cache != nil {
		if err := c.cache.SetJSON(key, result, accessCacheTTL); err != nil {
			c.logger.Warn("access cache write failed", "url", url, "error", err)
		}
	}
	return result, nil
}

// CheckAll probes the URLs concurrently and returns results keyed by
// URL. The first hard probe error cancels the remaining checks.
func (c *AccessChecker) CheckAll(ctx context.Context, urls []string) (map[string]AccessResult, error) {
	out := make(map[string]AccessResult, len(urls))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(accessConcurrency)
	for _, url := range urls {
		g.Go(func() error {
			res, err := c.Check(ctx, url)
			if err != nil {
				return err
			}
			mu.Lock()
			out[url] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
