// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://huggingface.co", cfg.Hub.BaseURL)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, "auto", cfg.Retention.Mode)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
retention:
  mode: retention
  days: 14
  top_models_count: 50
fetch:
  max_concurrency: 10
`), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "retention", cfg.Retention.Mode)
	assert.Equal(t, 14, cfg.Retention.Days)
	assert.Equal(t, 50, cfg.Retention.TopModelsCount)
	assert.Equal(t, 10, cfg.Fetch.MaxConcurrency)

	// Untouched sections keep defaults.
	assert.Equal(t, 100, cfg.Retention.CleanupBatchSize)
	assert.Equal(t, 168, cfg.Sync.FullSyncThresholdHours)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"retention_days_too_large": "retention:\n  days: 400\n",
		"bad_mode":                 "retention:\n  mode: nightly\n",
		"zero_concurrency":         "fetch:\n  max_concurrency: 0\n",
		"bad_level":                "logging:\n  level: trace\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0640))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := Default()
	cfg.Completeness.WarningThreshold = 99
	cfg.Completeness.ExcellentThreshold = 95
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Completeness.MinScore = 96
	cfg.Completeness.WarningThreshold = 95
	assert.Error(t, Validate(cfg))
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv("GGUFATLAS_HUB_TOKEN", "hf_test_token")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "hf_test_token", cfg.Hub.Token)
}
