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
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 5
	MaxAttempts int

	// BaseDelay is the initial wait duration before the first retry.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay is the maximum wait duration between retries.
	// Default: 60s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// JitterFactor is the maximum jitter as a fraction of the delay
	// (0-1). Adds randomness to prevent thundering herd. Default: 0.1
	JitterFactor float64
}

// DefaultRetryConfig returns the pipeline's standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RetryResult contains the outcome of a retry operation.
type RetryResult struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// RetryableFunc is a function that can be retried. It should return nil
// on success. Whether a failure triggers another attempt is decided by
// Retryable over the returned error.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry executes fn with exponential backoff.
//
// The delay before attempt n is BaseDelay × Multiplier^(n-1), capped at
// MaxDelay, plus uniform jitter in [0, JitterFactor × delay]. Rate-limit
// errors double the delay on top of that, honoring the hub's push-back
// harder than ordinary transient failures.
//
// Non-retryable errors (see Retryable) return immediately without
// further attempts.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryResult, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.Multiplier < 1.0 {
		config.Multiplier = 2.0
	}

	start := time.Now()
	result := RetryResult{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		result.LastError = err

		if !Retryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := backoffDelay(config, attempt, Classify(err).Kind == KindRateLimit)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		}
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// backoffDelay computes the wait before the retry following attempt.
func backoffDelay(config RetryConfig, attempt int, rateLimited bool) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if rateLimited {
		delay *= 2
	}
	if config.JitterFactor > 0 {
		delay += time.Duration(rand.Float64() * config.JitterFactor * float64(delay))
	}
	return delay
}
