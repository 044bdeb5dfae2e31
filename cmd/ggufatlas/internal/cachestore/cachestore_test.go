// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cachestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetGetDelete(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Set("url:org/model/file.gguf", []byte("ok"), 0))

	got, err := c.Get("url:org/model/file.gguf")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))

	require.NoError(t, c.Delete("url:org/model/file.gguf"))
	_, err = c.Get("url:org/model/file.gguf")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestGetMissingKey(t *testing.T) {
	c := openTestCache(t)
	_, err := c.Get("absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestTTLExpiry(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Set("totals:gguf", []byte("12345"), 100*time.Millisecond))

	got, err := c.Get("totals:gguf")
	require.NoError(t, err)
	assert.Equal(t, "12345", string(got))

	time.Sleep(200 * time.Millisecond)
	_, err = c.Get("totals:gguf")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestJSONRoundTrip(t *testing.T) {
	c := openTestCache(t)

	type probe struct {
		Accessible bool      `json:"accessible"`
		CheckedAt  time.Time `json:"checkedAt"`
	}
	in := probe{Accessible: true, CheckedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, c.SetJSON("probe", in, time.Hour))

	var out probe
	require.NoError(t, c.GetJSON("probe", &out))
	assert.Equal(t, in, out)

	var missed probe
	assert.ErrorIs(t, c.GetJSON("nope", &missed), ErrMiss)
}

func TestPersistentOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestPersistentCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, c.Set("k", []byte("v"), 0))
	require.NoError(t, c.Close())

	c2, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer c2.Close()

	got, err := c2.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}
