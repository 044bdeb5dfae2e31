// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery produces the candidate model set by running four
// complementary strategies against the hub and deduplicating the union.
// The hub's tag filtering misses many quantized repositories, so no
// single listing is complete; overlapping strategies with per-candidate
// confidence scores recover most of the gap.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// Strategy method tags carried on ModelRef.DiscoveryMethod.
const (
	MethodPrimary      = "primary_gguf_tag"
	MethodQuantization = "quantization_tags"
	MethodArchitecture = "architecture_tags"
	MethodOrganization = "organization_crawl"
)

// Per-strategy result caps keep the broad searches under budget.
const (
	quantizationSearchLimit = 100
	architectureSearchLimit = 50
	organizationCrawlLimit  = 100
)

// strategyStagger is the pause between strategy launches, spreading the
// initial burst across the rate window.
const strategyStagger = 500 * time.Millisecond

// StrategyResult is the isolated outcome of one strategy.
type StrategyResult struct {
	// Name is the strategy's method tag.
	Name string

	// Refs are the candidates the strategy produced.
	Refs []catalog.ModelRef

	// APICalls is how many hub calls the strategy made.
	APICalls int

	// Duration is the strategy's wall time.
	Duration time.Duration

	// Err is the strategy's failure, if any. A failed strategy
	// contributes nothing but never aborts the engine.
	Err error
}

// Strategy produces candidate refs from the hub.
type Strategy interface {
	// Name returns the method tag.
	Name() string

	// Discover runs the strategy to completion.
	Discover(ctx context.Context) StrategyResult
}

// =============================================================================
// Shared helpers
// =============================================================================

// refFromSummary builds a ModelRef carrying the hub-observed attributes.
func refFromSummary(s hub.ModelSummary, method string, confidence float64) catalog.ModelRef {
	attrs := map[string]any{
		"downloads": s.Downloads,
		"likes":     s.Likes,
		"tags":      s.Tags,
	}
	if s.Author != "" {
		attrs["author"] = s.Author
	}
	if s.CreatedAt != nil {
		attrs["created_at"] = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	if s.LastModified != nil {
		attrs["last_modified"] = s.LastModified.UTC().Format(time.RFC3339)
	}
	return catalog.ModelRef{
		ID:              s.ID,
		DiscoveryMethod: method,
		ConfidenceScore: confidence,
		Attributes:      attrs,
	}
}

// listUnderLimits performs one bounded hub listing through the fetcher.
func listUnderLimits(ctx context.Context, f *fetch.Fetcher, client hub.Client, params hub.ListParams) ([]hub.ModelSummary, error) {
	var out []hub.ModelSummary
	err := f.Do(ctx, hub.IsRateLimited, func(ctx context.Context) error {
		var err error
		out, err = client.ListModels(ctx, params)
		return err
	})
	return out, err
}

// =============================================================================
// Primary strategy
// =============================================================================

// PrimaryStrategy lists every model carrying the gguf tag, sorted by
// downloads descending with no pagination cap. Confidence 1.0: the hub
// itself asserts the tag.
type PrimaryStrategy struct {
	Client  hub.Client
	Fetcher *fetch.Fetcher
}

func (s *PrimaryStrategy) Name() string { return MethodPrimary }

func (s *PrimaryStrategy) Discover(ctx context.Context) StrategyResult {
	start := time.Now()
	res := StrategyResult{Name: s.Name()}

	summaries, err := listUnderLimits(ctx, s.Fetcher, s.Client, hub.ListParams{
		Filter: "gguf", Sort: hub.SortDownloads, Direction: -1,
	})
	res.APICalls = 1
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("primary gguf listing: %w", err)
		return res
	}

	for _, m := range summaries {
		if !catalog.ValidModelID(m.ID) {
			continue
		}
		res.Refs = append(res.Refs, refFromSummary(m, s.Name(), 1.0))
	}
	return res
}

// =============================================================================
// Quantization-tag strategy
// =============================================================================

// QuantizationStrategy searches the hub for each well-known quantization
// label and keeps candidates that pass the GGUF heuristic. Confidence
// 0.8: search hits are strong but the label can appear in unrelated
// repo names.
type QuantizationStrategy struct {
	Client  hub.Client
	Fetcher *fetch.Fetcher
	Labels  []string // defaults to catalog.SearchQuantizationTags
}

func (s *QuantizationStrategy) Name() string { return MethodQuantization }

func (s *QuantizationStrategy) Discover(ctx context.Context) StrategyResult {
	start := time.Now()
	res := StrategyResult{Name: s.Name()}

	labels := s.Labels
	if len(labels) == 0 {
		labels = catalog.SearchQuantizationTags
	}

	for _, label := range labels {
		summaries, err := listUnderLimits(ctx, s.Fetcher, s.Client, hub.ListParams{
			Search: label, Sort: hub.SortDownloads, Direction: -1,
			Limit: quantizationSearchLimit,
		})
		res.APICalls++
		if err != nil {
			// One label's failure is tolerable; remember the last error
			// so an entirely failed strategy still reports a cause.
			res.Err = fmt.Errorf("quantization search %q: %w", label, err)
			continue
		}
		for _, m := range summaries {
			if catalog.ValidModelID(m.ID) && catalog.LikelyHasGGUF(m.ID, m.Tags) {
				res.Refs = append(res.Refs, refFromSummary(m, s.Name(), 0.8))
			}
		}
	}

	if len(res.Refs) > 0 {
		res.Err = nil
	}
	res.Duration = time.Since(start)
	return res
}

// =============================================================================
// Architecture-tag strategy
// =============================================================================

// ArchitectureStrategy searches "<family> gguf" for each known family.
// Confidence 0.7: free-text matches are the weakest signal.
type ArchitectureStrategy struct {
	Client   hub.Client
	Fetcher  *fetch.Fetcher
	Families []string // defaults to catalog.KnownFamilies
}

func (s *ArchitectureStrategy) Name() string { return MethodArchitecture }

func (s *ArchitectureStrategy) Discover(ctx context.Context) StrategyResult {
	start := time.Now()
	res := StrategyResult{Name: s.Name()}

	families := s.Families
	if len(families) == 0 {
		families = catalog.KnownFamilies
	}

	for _, family := range families {
		summaries, err := listUnderLimits(ctx, s.Fetcher, s.Client, hub.ListParams{
			Search: family + " gguf", Sort: hub.SortDownloads, Direction: -1,
			Limit: architectureSearchLimit,
		})
		res.APICalls++
		if err != nil {
			res.Err = fmt.Errorf("architecture search %q: %w", family, err)
			continue
		}
		for _, m := range summaries {
			if catalog.ValidModelID(m.ID) && catalog.LikelyHasGGUF(m.ID, m.Tags) {
				res.Refs = append(res.Refs, refFromSummary(m, s.Name(), 0.7))
			}
		}
	}

	if len(res.Refs) > 0 {
		res.Err = nil
	}
	res.Duration = time.Since(start)
	return res
}

// =============================================================================
// Organization-crawl strategy
// =============================================================================

// OrganizationStrategy lists the repos of publisher accounts known to
// publish GGUF widely. Confidence 0.9: these accounts rarely publish
// anything else.
type OrganizationStrategy struct {
	Client        hub.Client
	Fetcher       *fetch.Fetcher
	Organizations []string // defaults to catalog.KnownOrganizations
	Logger        *slog.Logger
}

func (s *OrganizationStrategy) Name() string { return MethodOrganization }

func (s *OrganizationStrategy) Discover(ctx context.Context) StrategyResult {
	start := time.Now()
	res := StrategyResult{Name: s.Name()}

	orgs := s.Organizations
	if len(orgs) == 0 {
		orgs = catalog.KnownOrganizations
	}

	for _, org := range orgs {
		summaries, err := listUnderLimits(ctx, s.Fetcher, s.Client, hub.ListParams{
			Author: org, Sort: hub.SortDownloads, Direction: -1,
			Limit: organizationCrawlLimit,
		})
		res.APICalls++
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("organization crawl failed", "org", org, "error", err)
			}
			res.Err = fmt.Errorf("organization crawl %q: %w", org, err)
			continue
		}
		for _, m := range summaries {
			if catalog.ValidModelID(m.ID) {
				res.Refs = append(res.Refs, refFromSummary(m, s.Name(), 0.9))
			}
		}
	}

	if len(res.Refs) > 0 {
		res.Err = nil
	}
	res.Duration = time.Since(start)
	return res
}
