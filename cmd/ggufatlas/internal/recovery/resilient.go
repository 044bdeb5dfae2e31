// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"context"
	"log/slog"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// Breaker keys, one circuit per hub operation.
const (
	opListModels = "list_models"
	opModelInfo  = "model_info"
	opRepoFiles  = "repo_files"
	opPathsInfo  = "paths_info"
)

// ResilientClient decorates a hub.Client with retry and per-operation
// circuit breaking.
//
// # Description
//
// Every call runs inside the retry loop; each attempt passes through
// the operation's circuit breaker. Non-retryable errors (see Retryable)
// return after one attempt, and an open circuit rejects immediately
// with ErrCircuitOpen instead of burning hub budget on an endpoint
// that keeps failing.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResilientClient struct {
	inner    hub.Client
	retry    RetryConfig
	breakers *BreakerSet
	logger   *slog.Logger
}

// Compile-time interface satisfaction check
var _ hub.Client = (*ResilientClient)(nil)

// NewResilientClient wraps inner with the given retry and breaker
// policies.
func NewResilientClient(inner hub.Client, retry RetryConfig, breakers BreakerConfig, logger *slog.Logger) *ResilientClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientClient{
		inner:    inner,
		retry:    retry,
		breakers: NewBreakerSet(breakers),
		logger:   logger,
	}
}

// BreakerStates snapshots every operation circuit, for status reporting.
func (c *ResilientClient) BreakerStates() map[string]CircuitState {
	return c.breakers.States()
}

// ListModels retries the listing under the list_models circuit.
func (c *ResilientClient) ListModels(ctx context.Context, params hub.ListParams) ([]hub.ModelSummary, error) {
	var out []hub.ModelSummary
	err := c.execute(ctx, opListModels, func(ctx context.Context) error {
		var err error
		out, err = c.inner.ListModels(ctx, params)
		return err
	})
	return out, err
}

// ModelInfo retries the detail fetch under the model_info circuit.
func (c *ResilientClient) ModelInfo(ctx context.Context, id string) (*hub.ModelSummary, error) {
	var out *hub.ModelSummary
	err := c.execute(ctx, opModelInfo, func(ctx context.Context) error {
		var err error
		out, err = c.inner.ModelInfo(ctx, id)
		return err
	})
	return out, err
}

// ListRepoFiles retries the file listing under the repo_files circuit.
func (c *ResilientClient) ListRepoFiles(ctx context.Context, id string) ([]string, error) {
	var out []string
	err := c.execute(ctx, opRepoFiles, func(ctx context.Context) error {
		var err error
		out, err = c.inner.ListRepoFiles(ctx, id)
		return err
	})
	return out, err
}

// GetPathsInfo retries the metadata fetch under the paths_info circuit.
func (c *ResilientClient) GetPathsInfo(ctx context.Context, id string, paths []string) ([]hub.PathInfo, error) {
	var out []hub.PathInfo
	err := c.execute(ctx, opPathsInfo, func(ctx context.Context) error {
		var err error
		out, err = c.inner.GetPathsInfo(ctx, id, paths)
		return err
	})
	return out, err
}

// execute runs one call through retry and the operation's breaker.
func (c *ResilientClient) execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	result, err := Retry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.breakers.Execute(operation, func() error {
			return fn(ctx)
		})
	})
	if result.Attempts > 1 {
		c.logger.Info("hub call settled after retries",
			"operation", operation,
			"attempts", result.Attempts,
			"success", err == nil,
			"total_duration_ms", result.TotalDuration.Milliseconds(),
		)
	}
	return err
}
