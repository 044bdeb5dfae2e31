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
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/fetch"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// ErrAllStrategiesFailed is returned when no strategy produced any
// candidates. Partial failure is tolerated; total failure is not.
var ErrAllStrategiesFailed = errors.New("discovery: all strategies failed")

// Metrics summarizes one engine run for the update report.
type Metrics struct {
	// PerStrategy maps method tag to the raw candidate count before
	// deduplication.
	PerStrategy map[string]int `json:"perStrategy"`

	// StrategyErrors maps method tag to its failure message, for
	// strategies that produced nothing.
	StrategyErrors map[string]string `json:"strategyErrors,omitempty"`

	// TotalRaw is the candidate count across all strategies.
	TotalRaw int `json:"totalRaw"`

	// UniqueModels is the count after deduplication.
	UniqueModels int `json:"uniqueModels"`

	// MultiStrategy is how many models were found by more than one
	// strategy.
	MultiStrategy int `json:"multiStrategy"`

	// DedupRate is 1 - unique/raw, in [0, 1].
	DedupRate float64 `json:"dedupRate"`

	// APICalls is the hub call total across strategies.
	APICalls int `json:"apiCalls"`

	// Duration is the engine's wall time.
	Duration time.Duration `json:"duration"`
}

// Engine runs the strategies concurrently and merges their output.
//
// # Description
//
// Strategies launch with a small stagger so the initial listing burst
// does not land on the same rate-limit window. Each strategy's failure
// is isolated: the engine aggregates whatever succeeded and fails only
// when every strategy came back empty.
//
// # Thread Safety
//
// An Engine is safe to share; Run may be called once per update cycle.
type Engine struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewEngine wires the default four strategies against the given client.
func NewEngine(client hub.Client, fetcher *fetch.Fetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		strategies: []Strategy{
			&PrimaryStrategy{Client: client, Fetcher: fetcher},
			&QuantizationStrategy{Client: client, Fetcher: fetcher},
			&ArchitectureStrategy{Client: client, Fetcher: fetcher},
			&OrganizationStrategy{Client: client, Fetcher: fetcher, Logger: logger},
		},
		logger: logger,
	}
}

// NewEngineWithStrategies builds an engine over an explicit strategy
// set. Used by tests and by partial re-discovery runs.
func NewEngineWithStrategies(logger *slog.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{strategies: strategies, logger: logger}
}

// Run executes all strategies and returns the deduplicated candidate
// set sorted by descending confidence, then ID.
func (e *Engine) Run(ctx context.Context) ([]catalog.ModelRef, Metrics, error) {
	start := time.Now()
	results := make([]StrategyResult, len(e.strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range e.strategies {
		delay := time.Duration(i) * strategyStagger
		g.Go(func() error {
			if delay > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(delay):
				}
			}
			e.logger.Info("discovery strategy starting", "strategy", s.Name())
			results[i] = s.Discover(gctx)
			e.logger.Info("discovery strategy finished",
				"strategy", s.Name(),
				"candidates", len(results[i].Refs),
				"api_calls", results[i].APICalls,
				"duration", results[i].Duration,
				"error", results[i].Err,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Metrics{}, err
	}

	metrics := Metrics{
		PerStrategy:    make(map[string]int, len(results)),
		StrategyErrors: make(map[string]string),
	}
	anySucceeded := false
	var all []catalog.ModelRef
	for _, r := range results {
		metrics.PerStrategy[r.Name] = len(r.Refs)
		metrics.APICalls += r.APICalls
		if r.Err != nil {
			metrics.StrategyErrors[r.Name] = r.Err.Error()
		}
		if len(r.Refs) > 0 || r.Err == nil {
			anySucceeded = true
		}
		all = append(all, r.Refs...)
	}
	if len(metrics.StrategyErrors) == 0 {
		metrics.StrategyErrors = nil
	}
	if !anySucceeded {
		return nil, metrics, ErrAllStrategiesFailed
	}

	merged := Merge(all)
	metrics.TotalRaw = len(all)
	metrics.UniqueModels = len(merged)
	for _, ref := range merged {
		if ref.DiscoveryCount > 1 {
			metrics.MultiStrategy++
		}
	}
	if metrics.TotalRaw > 0 {
		metrics.DedupRate = 1 - float64(metrics.UniqueModels)/float64(metrics.TotalRaw)
	}
	metrics.Duration = time.Since(start)

	e.logger.Info("discovery complete",
		"unique_models", metrics.UniqueModels,
		"raw_candidates", metrics.TotalRaw,
		"multi_strategy", metrics.MultiStrategy,
		"api_calls", metrics.APICalls,
	)
	return merged, metrics, nil
}

// Merge deduplicates candidates by model ID. The surviving ref keeps
// the highest confidence score, records the union of discovery methods,
// and counts how many strategies found the model. Attribute maps merge
// with the higher-confidence ref winning conflicts.
func Merge(refs []catalog.ModelRef) []catalog.ModelRef {
	byID := make(map[string]*catalog.ModelRef, len(refs))
	for _, ref := range refs {
		existing, ok := byID[ref.ID]
		if !ok {
			merged := ref
			merged.DiscoveryCount = 1
			merged.DiscoveryMethods = []string{ref.DiscoveryMethod}
			merged.Attributes = cloneAttrs(ref.Attributes)
			byID[ref.ID] = &merged
			continue
		}
		if !containsMethod(existing.DiscoveryMethods, ref.DiscoveryMethod) {
			existing.DiscoveryMethods = append(existing.DiscoveryMethods, ref.DiscoveryMethod)
			existing.DiscoveryCount++
		}
		if ref.ConfidenceScore > existing.ConfidenceScore {
			existing.ConfidenceScore = ref.ConfidenceScore
			existing.DiscoveryMethod = ref.DiscoveryMethod
			for k, v := range ref.Attributes {
				existing.Attributes[k] = v
			}
		} else {
			for k, v := range ref.Attributes {
				if _, has := existing.Attributes[k]; !has {
					existing.Attributes[k] = v
				}
			}
		}
	}

	out := make([]catalog.ModelRef, 0, len(byID))
	for _, ref := range byID {
		sort.Strings(ref.DiscoveryMethods)
		out = append(out, *ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func containsMethod(methods []string, m string) bool {
	for _, have := range methods {
		if have == m {
			return true
		}
	}
	return false
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
