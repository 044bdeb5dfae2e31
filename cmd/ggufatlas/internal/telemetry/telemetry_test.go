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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestInitNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInitUnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "statsd"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitNoneSkipsMeter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "none"
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitPrometheus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "prometheus"
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	assert.NotNil(t, MetricsHandler())

	meter := otel.Meter("telemetry_test")
	counter, err := meter.Int64Counter("telemetry_test_counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("k", "v")))
}

func TestNewMetrics(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	assert.NotNil(t, m.HubRequestsTotal)
	assert.NotNil(t, m.HubRequestDuration)
	assert.NotNil(t, m.PhaseDuration)
	assert.NotNil(t, m.ErrorsTotal)

	ctx := context.Background()
	m.HubRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", "list_models"),
		attribute.String("status", "ok"),
	))
	m.PhaseDuration.Record(ctx, 1.5, metric.WithAttributes(
		attribute.String("phase", "discovery"),
	))
}
