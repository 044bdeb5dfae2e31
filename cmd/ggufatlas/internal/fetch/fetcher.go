// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetch bounds every hub call under two simultaneous limits: a
// counting semaphore on in-flight calls and an adaptive sliding-window
// throughput target. All discovery, enrichment, validation, and
// retention traffic flows through one Fetcher so the global budget is
// honored no matter which phase is calling.
package fetch

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// FetcherConfig configures the combined concurrency + throughput bound.
type FetcherConfig struct {
	// MaxConcurrency is the maximum number of in-flight hub calls.
	// Default: 50
	MaxConcurrency int

	// Limiter configures the adaptive throughput limiter.
	Limiter LimiterConfig

	// Logger receives throttle events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultFetcherConfig returns the standard bounds.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxConcurrency: 50,
		Limiter:        DefaultLimiterConfig(),
	}
}

// Fetcher is the single gate for hub traffic.
//
// # Contract
//
// Acquire blocks until the caller may perform one hub call; the caller
// then reports the outcome through Release. Failures carrying a
// rate-limit indicator trigger adaptive throttling (and an in-call
// backoff sleep). The fetcher never retries; retrying is the recovery
// layer's concern.
//
// # Thread Safety
//
// Safe for concurrent use.
type Fetcher struct {
	sem     *Semaphore
	limiter *AdaptiveLimiter
	logger  *slog.Logger

	calls atomic.Int64
}

// NewFetcher creates a fetcher. Zero config fields get defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		sem:     NewSemaphore(cfg.MaxConcurrency),
		limiter: NewAdaptiveLimiter(cfg.Limiter),
		logger:  cfg.Logger,
	}
}

// Acquire blocks until both the concurrency slot and the throughput
// window admit one hub call. On success the caller must call Release
// with the call outcome.
func (f *Fetcher) Acquire(ctx context.Context) error {
	if err := f.sem.Acquire(ctx); err != nil {
		return err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		f.sem.Release()
		return err
	}
	f.calls.Add(1)
	return nil
}

// Release reports the outcome of a call admitted by Acquire and frees
// its concurrency slot. When rateLimited is true, Release sleeps out the
// adaptive backoff before returning (interruptible via ctx).
func (f *Fetcher) Release(ctx context.Context, success, rateLimited bool) {
	defer f.sem.Release()

	if success {
		f.limiter.RecordSuccess()
		return
	}
	if rateLimited {
		stats := f.limiter.Stats()
		f.logger.Warn("hub rate limit hit, throttling",
			"consecutive", stats.ConsecutiveRateLimits+1,
			"adaptive_factor", stats.AdaptiveFactor)
	}
	// Backoff errors only mean the context was cancelled mid-sleep;
	// the caller observes cancellation on its next Acquire.
	_ = f.limiter.RecordFailure(ctx, rateLimited)
}

// Do runs fn as one bounded hub call. The classify callback reports
// whether fn's error was a rate-limit signal; pass nil to treat no
// errors as rate limits.
func (f *Fetcher) Do(ctx context.Context, classify func(error) bool, fn func(ctx context.Context) error) error {
	if err := f.Acquire(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	rateLimited := false
	if err != nil && classify != nil {
		rateLimited = classify(err)
	}
	f.Release(ctx, err == nil, rateLimited)
	return err
}

// Calls returns the total number of admitted hub calls.
func (f *Fetcher) Calls() int64 {
	return f.calls.Load()
}

// InFlight returns the number of currently admitted, unreleased calls.
func (f *Fetcher) InFlight() int {
	return cap(f.sem.ch) - f.sem.Available()
}

// LimiterStats exposes the limiter snapshot for metrics and tests.
func (f *Fetcher) LimiterStats() LimiterStats {
	return f.limiter.Stats()
}
