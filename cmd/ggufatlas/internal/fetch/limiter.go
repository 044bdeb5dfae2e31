// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// =============================================================================
// Adaptive Limiter
// =============================================================================

// LimiterConfig configures the adaptive sliding-window rate limiter.
type LimiterConfig struct {
	// HourlyLimit is the hub's requests-per-hour budget.
	// Default: 1000 (anonymous). Authenticated callers pass 5000.
	HourlyLimit int

	// JitterFactor is the maximum jitter as a fraction of a computed
	// wait (0-1). Default: 0.1
	JitterFactor float64

	// BaseBackoff is the first rate-limit backoff step. Default: 1s
	BaseBackoff time.Duration

	// MaxBackoff caps the rate-limit backoff. Default: 60s
	MaxBackoff time.Duration
}

// DefaultLimiterConfig returns the anonymous-tier defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		HourlyLimit:  1000,
		JitterFactor: 0.1,
		BaseBackoff:  1 * time.Second,
		MaxBackoff:   60 * time.Second,
	}
}

// outcomeWindow is how many recent call outcomes feed the rolling
// success rate that drives adaptive-factor recovery.
const outcomeWindow = 100

// AdaptiveLimiter enforces a per-minute throughput target over a 60
// second sliding window and slows itself down when the hub pushes back.
//
// # Behavior
//
// The effective target rate is baseRPM × factor, where baseRPM is
// HourlyLimit/60 and factor starts at 1.0. Rate-limit signals shrink the
// factor (floored at 0.1) and impose an exponential backoff; a rolling
// success rate above 0.95 recovers the factor in +0.05 steps.
//
// # Thread Safety
//
// Safe for concurrent use. All state is guarded by one mutex; sleeps
// happen outside the lock so waiting callers do not serialize behind a
// sleeper.
type AdaptiveLimiter struct {
	cfg LimiterConfig

	mu              sync.Mutex
	window          []time.Time
	factor          float64
	consecutiveHits int
	outcomes        [outcomeWindow]bool
	outcomeIdx      int
	outcomeCount    int

	// now and sleep are test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdaptiveLimiter creates a limiter. Zero config fields get defaults.
func NewAdaptiveLimiter(cfg LimiterConfig) *AdaptiveLimiter {
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = 1000
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = 0.1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &AdaptiveLimiter{
		cfg:    cfg,
		factor: 1.0,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// baseRPM is the unthrottled per-minute budget.
func (l *AdaptiveLimiter) baseRPM() float64 {
	return float64(l.cfg.HourlyLimit) / 60.0
}

// targetRate returns the current effective per-minute target.
// Caller must hold l.mu.
func (l *AdaptiveLimiter) targetRate() int {
	return int(math.Ceil(l.baseRPM() * l.factor))
}

// prune drops window entries older than 60 seconds.
// Caller must hold l.mu.
func (l *AdaptiveLimiter) prune(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// Wait blocks until issuing one more hub call would keep the sliding
// window under the effective target rate, then records the call in the
// window. Returns early with the context error on cancellation.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		target := l.targetRate()
		if len(l.window) < target {
			l.window = append(l.window, now)
			l.mu.Unlock()
			return nil
		}
		// Sleep until the oldest in-window request ages out, plus jitter.
		wait := l.window[0].Add(60 * time.Second).Sub(now)
		wait += time.Duration(rand.Float64() * l.cfg.JitterFactor * float64(wait))
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RecordSuccess feeds a successful call outcome into the limiter:
// the consecutive rate-limit counter resets, and a healthy rolling
// success rate lets the adaptive factor recover toward 1.
func (l *AdaptiveLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveHits = 0
	l.recordOutcome(true)

	if l.factor < 1.0 && l.successRate() > 0.95 {
		l.factor = math.Min(1.0, l.factor+0.05)
	}
}

// RecordFailure feeds a failed outcome. rateLimited failures also shrink
// the adaptive factor and impose an exponential backoff sleep before
// returning, so the caller's next attempt is naturally delayed.
func (l *AdaptiveLimiter) RecordFailure(ctx context.Context, rateLimited bool) error {
	l.mu.Lock()
	l.recordOutcome(false)
	if !rateLimited {
		l.mu.Unlock()
		return nil
	}

	l.consecutiveHits++
	n := l.consecutiveHits
	l.factor = math.Max(0.1, l.factor-0.1*(1.0+0.5*float64(n)))

	backoff := time.Duration(float64(l.cfg.BaseBackoff) * math.Pow(2, float64(n-1)))
	if backoff > l.cfg.MaxBackoff {
		backoff = l.cfg.MaxBackoff
	}
	backoff += time.Duration(rand.Float64() * l.cfg.JitterFactor * float64(backoff))
	l.mu.Unlock()

	return l.sleep(ctx, backoff)
}

// recordOutcome pushes one outcome into the rolling ring.
// Caller must hold l.mu.
func (l *AdaptiveLimiter) recordOutcome(success bool) {
	l.outcomes[l.outcomeIdx] = success
	l.outcomeIdx = (l.outcomeIdx + 1) % outcomeWindow
	if l.outcomeCount < outcomeWindow {
		l.outcomeCount++
	}
}

// successRate is the fraction of successes in the rolling ring.
// Caller must hold l.mu.
func (l *AdaptiveLimiter) successRate() float64 {
	if l.outcomeCount == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < l.outcomeCount; i++ {
		if l.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(l.outcomeCount)
}

// LimiterStats is a point-in-time snapshot of limiter state.
type LimiterStats struct {
	// WindowSize is the number of calls in the current 60s window.
	WindowSize int

	// AdaptiveFactor is the current throttle multiplier in [0.1, 1].
	AdaptiveFactor float64

	// TargetRate is the effective per-minute call budget right now.
	TargetRate int

	// ConsecutiveRateLimits counts unbroken rate-limit hits.
	ConsecutiveRateLimits int

	// SuccessRate is the rolling success fraction over recent outcomes.
	SuccessRate float64
}

// Stats returns a snapshot for metrics and tests.
func (l *AdaptiveLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return LimiterStats{
		WindowSize:            len(l.window),
		AdaptiveFactor:        l.factor,
		TargetRate:            l.targetRate(),
		ConsecutiveRateLimits: l.consecutiveHits,
		SuccessRate:           l.successRate(),
	}
}
