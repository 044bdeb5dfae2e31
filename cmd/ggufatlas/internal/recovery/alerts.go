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
	"sync"
	"time"

	"github.com/google/uuid"
)

// alertCooldown suppresses duplicate alerts with the same key.
const alertCooldown = 300 * time.Second

// Alert is the well-formed payload delivered to every enabled channel.
type Alert struct {
	ID               string         `json:"id"`
	Severity         Severity       `json:"severity"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Timestamp        time.Time      `json:"timestamp"`
	Context          map[string]any `json:"context,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
}

// AlertChannel delivers alerts to one destination (log, email, webhook,
// issue tracker). Delivery failures must not panic; the dispatcher logs
// and continues with the remaining channels.
type AlertChannel interface {
	// Name identifies the channel in logs.
	Name() string

	// Send delivers one alert.
	Send(ctx context.Context, alert Alert) error
}

// =============================================================================
// Dispatcher
// =============================================================================

// AlertDispatcher fans alerts out to every registered channel, applying
// a severity floor and a per-key cooldown so repeated identical failures
// do not flood the destinations.
//
// # Thread Safety
//
// Safe for concurrent use.
type AlertDispatcher struct {
	logger   *slog.Logger
	minLevel Severity

	mu       sync.Mutex
	channels []AlertChannel
	lastSent map[string]time.Time

	// now is a test seam.
	now func() time.Time
}

// severityRank orders severities for floor comparison.
var severityRank = map[Severity]int{
	SeverityLow:       0,
	SeverityMedium:    1,
	SeverityHigh:      2,
	SeverityCritical:  3,
	SeverityEmergency: 4,
}

// NewAlertDispatcher creates a dispatcher with the given severity floor.
func NewAlertDispatcher(minLevel Severity, logger *slog.Logger) *AlertDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertDispatcher{
		logger:   logger,
		minLevel: minLevel,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Register adds a delivery channel.
func (d *AlertDispatcher) Register(ch AlertChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, ch)
}

// Dispatch sends the alert to every channel unless it is below the
// severity floor or inside the cooldown window for its key. The key
// should combine category and error kind so distinct problems are never
// suppressed by each other.
//
// Returns true when the alert was delivered (to at least zero channels;
// an empty channel list still counts as delivered for cooldown purposes).
func (d *AlertDispatcher) Dispatch(ctx context.Context, key string, alert Alert) bool {
	if severityRank[alert.Severity] < severityRank[d.minLevel] {
		return false
	}

	d.mu.Lock()
	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < alertCooldown {
		d.mu.Unlock()
		d.logger.Debug("alert suppressed by cooldown", "key", key)
		return false
	}
	d.lastSent[key] = now
	channels := make([]AlertChannel, len(d.channels))
	copy(channels, d.channels)
	d.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = now
	}

	for _, ch := range channels {
		if err := ch.Send(ctx, alert); err != nil {
			d.logger.Error("alert delivery failed",
				"channel", ch.Name(), "alert", alert.Title, "error", err)
		}
	}
	return true
}

// =============================================================================
// Log Channel
// =============================================================================

// LogChannel delivers alerts into the structured log. Always enabled;
// other transports (email, webhook) are wired by the caller.
type LogChannel struct {
	Logger *slog.Logger
}

// Name identifies the channel.
func (c *LogChannel) Name() string { return "log" }

// Send writes the alert at a level matching its severity.
func (c *LogChannel) Send(_ context.Context, alert Alert) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"alert_id", alert.ID,
		"severity", string(alert.Severity),
		"message", alert.Message,
	}
	if len(alert.SuggestedActions) > 0 {
		attrs = append(attrs, "suggested_actions", alert.SuggestedActions)
	}
	switch alert.Severity {
	case SeverityCritical, SeverityEmergency:
		logger.Error(alert.Title, attrs...)
	default:
		logger.Warn(alert.Title, attrs...)
	}
	return nil
}

// SuggestedActionsFor returns category-specific operator guidance
// attached to alerts.
func SuggestedActionsFor(kind ErrorKind) []string {
	switch kind {
	case KindRateLimit:
		return []string{
			"verify the hub token is configured (authenticated budget is 5x larger)",
			"lower max_concurrency or requests_per_second",
		}
	case KindAuthentication:
		return []string{
			"rotate the hub token",
			"check token scopes against the hub account",
		}
	case KindNetwork:
		return []string{
			"check egress connectivity to the hub",
			"re-run once the network stabilizes",
		}
	case KindSystem:
		return []string{
			"check free disk space under the data directory",
			"verify file permissions on the data and backup directories",
		}
	default:
		return nil
	}
}
