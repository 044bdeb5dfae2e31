// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery turns raw errors into typed decisions and coordinates
// the pipeline's defensive machinery: retry with backoff, per-operation
// circuit breakers, file-level rollback points, and alert emission.
//
// Raw fetch failures never propagate to phases directly; they pass
// through Classify first, and the resulting Action drives whether the
// phase retries, skips, falls back, or aborts.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"
)

// =============================================================================
// Taxonomy
// =============================================================================

// ErrorKind is the pipeline's error taxonomy.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindAPI            ErrorKind = "api"
	KindData           ErrorKind = "data"
	KindValidation     ErrorKind = "validation"
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuthentication ErrorKind = "authentication"
	KindTimeout        ErrorKind = "timeout"
	KindSystem         ErrorKind = "system"
	KindUnknown        ErrorKind = "unknown"
)

// Severity grades how dangerous an error is to the run.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Action is the recovery decision for a classified error.
type Action string

const (
	ActionRetry        Action = "retry"
	ActionWaitAndRetry Action = "wait_and_retry"
	ActionSkip         Action = "skip"
	ActionFallback     Action = "fallback"
	ActionNotify       Action = "notify"
	ActionAbort        Action = "abort"
)

// Classification pairs a kind with a severity.
type Classification struct {
	Kind     ErrorKind
	Severity Severity
}

// =============================================================================
// Classifier
// =============================================================================

// classifierRule is one ordered matching rule: first hit wins.
type classifierRule struct {
	markers []string
	status  func(int) bool
	result  Classification
}

var classifierRules = []classifierRule{
	{
		markers: []string{"connection", "dns", "socket", "network", "no such host", "connection refused", "broken pipe", "eof"},
		result:  Classification{KindNetwork, SeverityMedium},
	},
	{
		markers: []string{"rate limit", "too many requests", "quota exceeded", "throttled"},
		status:  func(s int) bool { return s == 429 },
		result:  Classification{KindRateLimit, SeverityLow},
	},
	{
		markers: []string{"unauthorized", "forbidden", "authentication", "invalid token"},
		status:  func(s int) bool { return s == 401 || s == 403 },
		result:  Classification{KindAuthentication, SeverityHigh},
	},
	{
		status: func(s int) bool { return s >= 400 && s <= 599 },
		result: Classification{KindAPI, SeverityMedium},
	},
	{
		markers: []string{"validation", "schema", "malformed", "parse", "unmarshal", "invalid json"},
		result:  Classification{KindData, SeverityMedium},
	},
	{
		markers: []string{"out of memory", "disk", "no space", "permission denied", "file not found", "no such file"},
		result:  Classification{KindSystem, SeverityHigh},
	},
	{
		markers: []string{"timeout", "deadline exceeded", "timed out"},
		result:  Classification{KindTimeout, SeverityMedium},
	},
}

// Classify maps an error to its (kind, severity) pair by walking the
// ordered rule list over the error's message and embedded HTTP status.
//
// Context cancellation classifies as timeout so in-flight work that was
// cut off by the wall-clock budget lands in a retryable bucket rather
// than unknown.
func Classify(err error) Classification {
	if err == nil {
		return Classification{KindUnknown, SeverityLow}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Classification{KindTimeout, SeverityMedium}
	}
	if hub.IsRateLimited(err) {
		return Classification{KindRateLimit, SeverityLow}
	}

	msg := strings.ToLower(err.Error())
	status := hub.StatusCode(err)

	for _, rule := range classifierRules {
		if rule.status != nil && status != 0 && rule.status(status) {
			return rule.result
		}
		for _, marker := range rule.markers {
			if strings.Contains(msg, marker) {
				return rule.result
			}
		}
	}
	return Classification{KindUnknown, SeverityMedium}
}

// SelectAction picks the recovery action for a classification.
func SelectAction(c Classification) Action {
	switch {
	case c.Severity == SeverityCritical || c.Severity == SeverityEmergency:
		return ActionNotify
	case c.Kind == KindRateLimit:
		return ActionWaitAndRetry
	case c.Kind == KindNetwork, c.Kind == KindAPI, c.Kind == KindTimeout:
		return ActionRetry
	case c.Kind == KindAuthentication && c.Severity == SeverityHigh:
		return ActionAbort
	case c.Kind == KindData:
		// Auto-repair upstream may fix malformed records.
		return ActionRetry
	case c.Kind == KindSystem:
		return ActionNotify
	default:
		return ActionSkip
	}
}

// Retryable reports whether an error should be retried at all. Certain
// combinations are terminal: critical authentication failures, and data
// errors whose message marks the payload itself as malformed.
func Retryable(err error) bool {
	c := Classify(err)
	if c.Kind == KindAuthentication {
		return false
	}
	if c.Kind == KindData && strings.Contains(strings.ToLower(err.Error()), "malformed") {
		return false
	}
	switch SelectAction(c) {
	case ActionRetry, ActionWaitAndRetry:
		return true
	default:
		return false
	}
}
