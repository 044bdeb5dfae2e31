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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// captureChannel records delivered alerts for assertions.
type captureChannel struct {
	alerts []Alert
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(_ context.Context, alert Alert) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

func TestDispatchSeverityFloor(t *testing.T) {
	d := NewAlertDispatcher(SeverityCritical, nil)
	ch := &captureChannel{}
	d.Register(ch)

	sent := d.Dispatch(context.Background(), "k1", Alert{Severity: SeverityMedium, Title: "low"})
	assert.False(t, sent)

	sent = d.Dispatch(context.Background(), "k2", Alert{Severity: SeverityCritical, Title: "critical"})
	assert.True(t, sent)
	assert.Len(t, ch.alerts, 1)
	assert.NotEmpty(t, ch.alerts[0].ID)
	assert.False(t, ch.alerts[0].Timestamp.IsZero())
}

func TestDispatchCooldown(t *testing.T) {
	d := NewAlertDispatcher(SeverityLow, nil)
	ch := &captureChannel{}
	d.Register(ch)

	now := time.Unix(5000, 0)
	d.now = func() time.Time { return now }

	alert := Alert{Severity: SeverityHigh, Title: "completeness low"}
	assert.True(t, d.Dispatch(context.Background(), "completeness/api", alert))
	assert.False(t, d.Dispatch(context.Background(), "completeness/api", alert),
		"identical key inside cooldown window is suppressed")

	// A different key is unaffected.
	assert.True(t, d.Dispatch(context.Background(), "completeness/network", alert))

	// After the cooldown elapses the key fires again.
	now = now.Add(alertCooldown + time.Second)
	assert.True(t, d.Dispatch(context.Background(), "completeness/api", alert))

	assert.Len(t, ch.alerts, 3)
}

func TestSuggestedActionsFor(t *testing.T) {
	assert.NotEmpty(t, SuggestedActionsFor(KindRateLimit))
	assert.NotEmpty(t, SuggestedActionsFor(KindAuthentication))
	assert.Empty(t, SuggestedActionsFor(KindUnknown))
}
