// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined metrics for the harvesting pipeline.
//
// Description:
//
//	Provides standard counters and histograms for hub API traffic,
//	discovery, enrichment, validation, retention, and the phase graph.
//	All metrics use the "ggufatlas_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Hub API Metrics ---

	// HubRequestsTotal counts hub API calls by operation and status.
	HubRequestsTotal metric.Int64Counter

	// HubRequestDuration records hub API call duration in seconds.
	HubRequestDuration metric.Float64Histogram

	// RateLimitHitsTotal counts 429 responses from the hub.
	RateLimitHitsTotal metric.Int64Counter

	// --- Pipeline Metrics ---

	// DiscoveredModelsTotal counts unique models per discovery run.
	DiscoveredModelsTotal metric.Int64Counter

	// EnrichedModelsTotal counts successfully enriched models.
	EnrichedModelsTotal metric.Int64Counter

	// ValidationIssuesTotal counts validation issues by severity.
	ValidationIssuesTotal metric.Int64Counter

	// AutoRepairsTotal counts automatic repairs applied.
	AutoRepairsTotal metric.Int64Counter

	// --- Phase Metrics ---

	// PhaseDuration records phase duration in seconds by phase name.
	PhaseDuration metric.Float64Histogram

	// PhaseFailuresTotal counts failed phases by phase name.
	PhaseFailuresTotal metric.Int64Counter

	// --- Retention Metrics ---

	// ModelsCleanedTotal counts models removed by cleanup.
	ModelsCleanedTotal metric.Int64Counter

	// StorageFreedBytes counts bytes freed by cleanup.
	StorageFreedBytes metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts errors by kind and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all pipeline metrics with the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HubRequestsTotal, err = meter.Int64Counter(
		"ggufatlas_hub_requests_total",
		metric.WithDescription("Total hub API calls by operation and status"),
	); err != nil {
		return nil, fmt.Errorf("create hub_requests_total: %w", err)
	}

	if m.HubRequestDuration, err = meter.Float64Histogram(
		"ggufatlas_hub_request_duration_seconds",
		metric.WithDescription("Hub API call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("create hub_request_duration: %w", err)
	}

	if m.RateLimitHitsTotal, err = meter.Int64Counter(
		"ggufatlas_rate_limit_hits_total",
		metric.WithDescription("429 responses received from the hub"),
	); err != nil {
		return nil, fmt.Errorf("create rate_limit_hits_total: %w", err)
	}

	if m.DiscoveredModelsTotal, err = meter.Int64Counter(
		"ggufatlas_discovered_models_total",
		metric.WithDescription("Unique models found per discovery run"),
	); err != nil {
		return nil, fmt.Errorf("create discovered_models_total: %w", err)
	}

	if m.EnrichedModelsTotal, err = meter.Int64Counter(
		"ggufatlas_enriched_models_total",
		metric.WithDescription("Successfully enriched models"),
	); err != nil {
		return nil, fmt.Errorf("create enriched_models_total: %w", err)
	}

	if m.ValidationIssuesTotal, err = meter.Int64Counter(
		"ggufatlas_validation_issues_total",
		metric.WithDescription("Validation issues by severity"),
	); err != nil {
		return nil, fmt.Errorf("create validation_issues_total: %w", err)
	}

	if m.AutoRepairsTotal, err = meter.Int64Counter(
		"ggufatlas_auto_repairs_total",
		metric.WithDescription("Automatic repairs applied to records"),
	); err != nil {
		return nil, fmt.Errorf("create auto_repairs_total: %w", err)
	}

	if m.PhaseDuration, err = meter.Float64Histogram(
		"ggufatlas_phase_duration_seconds",
		metric.WithDescription("Phase duration in seconds by phase name"),
	); err != nil {
		return nil, fmt.Errorf("create phase_duration: %w", err)
	}

	if m.PhaseFailuresTotal, err = meter.Int64Counter(
		"ggufatlas_phase_failures_total",
		metric.WithDescription("Failed phases by phase name"),
	); err != nil {
		return nil, fmt.Errorf("create phase_failures_total: %w", err)
	}

	if m.ModelsCleanedTotal, err = meter.Int64Counter(
		"ggufatlas_models_cleaned_total",
		metric.WithDescription("Models removed by retention cleanup"),
	); err != nil {
		return nil, fmt.Errorf("create models_cleaned_total: %w", err)
	}

	if m.StorageFreedBytes, err = meter.Int64Counter(
		"ggufatlas_storage_freed_bytes",
		metric.WithDescription("Bytes freed by retention cleanup"),
	); err != nil {
		return nil, fmt.Errorf("create storage_freed_bytes: %w", err)
	}

	if m.ErrorsTotal, err = meter.Int64Counter(
		"ggufatlas_errors_total",
		metric.WithDescription("Errors by kind and component"),
	); err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
