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
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// scriptedHub plays back a queue of per-call errors; a nil entry (or an
// exhausted queue) means success.
type scriptedHub struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	models []hub.ModelSummary
}

func (s *scriptedHub) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedHub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedHub) ListModels(_ context.Context, _ hub.ListParams) ([]hub.ModelSummary, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return s.models, nil
}

func (s *scriptedHub) ModelInfo(_ context.Context, id string) (*hub.ModelSummary, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &hub.ModelSummary{ID: id}, nil
}

func (s *scriptedHub) ListRepoFiles(_ context.Context, _ string) ([]string, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return []string{"model.gguf"}, nil
}

func (s *scriptedHub) GetPathsInfo(_ context.Context, _ string, _ []string) ([]hub.PathInfo, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return nil, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  1.0,
	}
}

func rateLimitErr() error {
	return errors.Join(hub.ErrRateLimited, &hub.APIError{
		StatusCode: http.StatusTooManyRequests,
		Operation:  "list_models",
		Message:    "too many requests",
	})
}

// TestResilientClientRetriesThroughRateLimits covers the wiring the
// listing phases rely on: two 429 responses followed by a success must
// come back as a success, within the attempt budget.
func TestResilientClientRetriesThroughRateLimits(t *testing.T) {
	inner := &scriptedHub{
		errs:   []error{rateLimitErr(), rateLimitErr()},
		models: []hub.ModelSummary{{ID: "org/model"}},
	}
	client := NewResilientClient(inner, fastRetry(), DefaultBreakerConfig(), nil)

	out, err := client.ListModels(context.Background(), hub.ListParams{Filter: "gguf"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 3, inner.callCount(), "two rate-limited attempts plus the success")
}

func TestResilientClientStopsOnNonRetryable(t *testing.T) {
	authErr := &hub.APIError{StatusCode: http.StatusUnauthorized, Operation: "model_info", Message: "invalid token"}
	inner := &scriptedHub{errs: []error{authErr, authErr, authErr}}
	client := NewResilientClient(inner, fastRetry(), DefaultBreakerConfig(), nil)

	_, err := client.ModelInfo(context.Background(), "org/model")
	require.Error(t, err)
	assert.Equal(t, 1, inner.callCount(), "authentication failures are terminal")
}

func TestResilientClientCircuitRejectsAfterThreshold(t *testing.T) {
	serverErr := &hub.APIError{StatusCode: http.StatusInternalServerError, Operation: "list_models"}
	inner := &scriptedHub{errs: []error{serverErr}}
	client := NewResilientClient(inner, fastRetry(), BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}, nil)

	// First call trips the list_models circuit; the retry loop stops at
	// the rejection instead of hammering the open circuit.
	_, err := client.ListModels(context.Background(), hub.ListParams{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, inner.callCount())

	// Subsequent calls are rejected without reaching the hub.
	_, err = client.ListModels(context.Background(), hub.ListParams{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, inner.callCount())

	// Other operations run on their own circuits.
	_, err = client.ListRepoFiles(context.Background(), "org/model")
	require.NoError(t, err)

	states := client.BreakerStates()
	assert.Equal(t, CircuitOpen, states["list_models"])
	assert.Equal(t, CircuitClosed, states["repo_files"])
}
