// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Quantization Derivation Tests
// =============================================================================

func TestQuantizationFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"k-quant medium", "llama-2-7b.Q4_K_M.gguf", "Q4_K_M"},
		{"k-quant beats prefix", "model.q4_k_m.gguf", "Q4_K_M"},
		{"legacy quant", "model-q4_0.gguf", "Q4_0"},
		{"eight bit", "mistral.Q8_0.gguf", "Q8_0"},
		{"importance quant", "model-IQ3_S.gguf", "IQ3_S"},
		{"float sixteen", "model.f16.gguf", "F16"},
		{"bfloat beats f16 by length", "model.bf16.gguf", "BF16"},
		{"fp16 fallback", "model-fp16.gguf", "F16"},
		{"int8 fallback", "model-int8.gguf", "Q8_0"},
		{"int4 fallback", "model-int4.gguf", "Q4_0"},
		{"no marker", "model.gguf", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuantizationFromFilename(tt.filename))
		})
	}
}

// TestQuantizationClosure verifies every derivable label is in the closed
// set or Unknown, regardless of input.
func TestQuantizationClosure(t *testing.T) {
	inputs := []string{
		"a.Q4_K_M.gguf", "b.gguf", "weird-IQ2_XXS-name.gguf",
		"x.fp16.gguf", "x.int8.gguf", "", "no-extension",
	}
	for _, in := range inputs {
		got := QuantizationFromFilename(in)
		if got != UnknownQuantization {
			assert.True(t, QuantizationSet[got], "label %q not in closed set (input %q)", got, in)
		}
	}
}

// =============================================================================
// Architecture / Size / Naming Tests
// =============================================================================

func TestArchitectureFor(t *testing.T) {
	tests := []struct {
		id   string
		tags []string
		want string
	}{
		{"TheBloke/Llama-2-7B-GGUF", nil, "Llama"},
		{"TheBloke/Mixtral-8x7B-GGUF", nil, "Mixtral"},
		{"org/mistral-7b-instruct", nil, "Mistral"},
		{"org/some-model", []string{"qwen"}, "Qwen"},
		{"org/opaque", nil, "Unknown"},
		{"org/phi-3-mini", nil, "Phi"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ArchitectureFor(tt.id, tt.tags), "id=%s", tt.id)
	}
}

func TestSizeCategory(t *testing.T) {
	assert.Equal(t, "small", SizeCategory("org/tiny-1b-chat"))
	assert.Equal(t, "medium", SizeCategory("org/llama-7b"))
	assert.Equal(t, "large", SizeCategory("org/llama-70b"))
	assert.Equal(t, "xlarge", SizeCategory("org/grok-175b"))
	assert.Equal(t, "unknown", SizeCategory("org/mystery-model"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Llama 2 7B GGUF", DisplayName("TheBloke/Llama-2-7B-GGUF"))
	assert.Equal(t, "Model", DisplayName("org/model"))
	assert.Equal(t, "My Great Model", DisplayName("org/my_great-model"))
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, "TheBloke", FamilyOf("TheBloke/Llama-2-7B-GGUF"))
	assert.Equal(t, "noslash", FamilyOf("noslash"))
}

// =============================================================================
// GGUF Heuristic Tests
// =============================================================================

func TestLikelyHasGGUF(t *testing.T) {
	tests := []struct {
		name string
		id   string
		tags []string
		want bool
	}{
		{"gguf in id", "org/model-GGUF", nil, true},
		{"gguf tag", "org/model", []string{"gguf"}, true},
		{"quant token in id", "org/model-Q4_K_M", nil, true},
		{"iq token", "org/model-iq3_s", nil, true},
		{"f16 marker", "org/model-f16", nil, true},
		{"plain safetensors repo", "org/model", []string{"pytorch"}, false},
		{"empty", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LikelyHasGGUF(tt.id, tt.tags))
		})
	}
}

func TestValidModelID(t *testing.T) {
	assert.True(t, ValidModelID("owner/name"))
	assert.False(t, ValidModelID("owner"))
	assert.False(t, ValidModelID("owner/name/extra"))
	assert.False(t, ValidModelID("/name"))
}
