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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// BatchResult aggregates one enrichment batch.
type BatchResult struct {
	// Models are the successfully enriched records, sorted by ID.
	Models []catalog.ModelRecord

	// Dropped counts refs whose repositories held no .gguf files.
	Dropped int

	// Failures maps model ID to the error that stopped its enrichment.
	Failures map[string]error

	// Duration is the batch wall time.
	Duration time.Duration

	// Cancelled is set when the context expired mid-batch.
	Cancelled bool
}

// ProgressCallback reports batch progress after each completed ref.
type ProgressCallback func(completed, total int, modelID string, err error)

// EnrichBatch enriches refs concurrently.
//
// # Description
//
// Each ref runs as an independent work item; the fetcher's semaphore
// bounds real concurrency, so the batch may launch one goroutine per
// ref without overwhelming the hub. Individual failures are collected,
// not fatal. Cancelling the context stops new work and marks the batch
// cancelled; in-flight items finish.
func (e *Enricher) EnrichBatch(ctx context.Context, refs []catalog.ModelRef, progress ProgressCallback) *BatchResult {
	start := time.Now()
	result := &BatchResult{Failures: make(map[string]error)}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed atomic.Int32
	)

	for _, ref := range refs {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		wg.Add(1)
		go func(ref catalog.ModelRef) {
			defer wg.Done()

			model, err := e.EnrichModel(ctx, ref)

			mu.Lock()
			switch {
			case err != nil:
				result.Failures[ref.ID] = err
			case model == nil:
				result.Dropped++
			default:
				result.Models = append(result.Models, *model)
			}
			mu.Unlock()

			if progress != nil {
				progress(int(completed.Add(1)), len(refs), ref.ID, err)
			}
		}(ref)
	}

	wg.Wait()
	if ctx.Err() != nil {
		result.Cancelled = true
	}

	sort.Slice(result.Models, func(i, j int) bool {
		return result.Models[i].ID < result.Models[j].ID
	})
	result.Duration = time.Since(start)

	e.logger.Info("enrichment batch finished",
		"requested", len(refs),
		"enriched", len(result.Models),
		"dropped", result.Dropped,
		"failed", len(result.Failures),
		"duration", result.Duration,
	)
	return result
}
