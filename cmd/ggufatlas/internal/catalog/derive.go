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
	"regexp"
	"strings"
)

// =============================================================================
// GGUF Heuristic
// =============================================================================

// ggufMarkerPatterns match quantization-shaped tokens in model ids.
var ggufMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`q\d+_k_[msl]`),
	regexp.MustCompile(`q\d+_\d+`),
	regexp.MustCompile(`iq\d+_[a-z]+`),
	regexp.MustCompile(`f\d+`),
	regexp.MustCompile(`bf\d+`),
	regexp.MustCompile(`int\d+`),
}

// LikelyHasGGUF reports whether a model id or its tags carry a GGUF
// signal. Hub-side tag filtering misses many quantized repos, so
// discovery strategies use this heuristic to keep plausible candidates
// from broad searches.
//
// A model passes when the lowercased id or any lowercased tag contains a
// known marker substring, or the id matches a quantization-shaped token
// pattern (q4_k_m, iq3_s, f16, ...).
func LikelyHasGGUF(id string, tags []string) bool {
	lowered := strings.ToLower(id)
	for _, marker := range ggufMarkerSubstrings {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	for _, tag := range tags {
		lt := strings.ToLower(tag)
		for _, marker := range ggufMarkerSubstrings {
			if strings.Contains(lt, marker) {
				return true
			}
		}
	}
	for _, p := range ggufMarkerPatterns {
		if p.MatchString(lowered) {
			return true
		}
	}
	return false
}

// =============================================================================
// Quantization Derivation
// =============================================================================

// quantFallbacks map non-canonical precision markers to canonical labels.
var quantFallbacks = []struct {
	Marker string
	Label  string
}{
	{"FP16", "F16"},
	{"INT8", "Q8_0"},
	{"INT4", "Q4_0"},
}

// QuantizationFromFilename derives the quantization label for a .gguf
// file. It returns the longest label from the closed set that appears in
// the filename (case-insensitive), then tries the FP16/INT8/INT4 fallback
// markers, and finally returns UnknownQuantization.
func QuantizationFromFilename(filename string) string {
	upper := strings.ToUpper(filename)

	best := ""
	for _, label := range QuantizationLabels {
		if strings.Contains(upper, label) && len(label) > len(best) {
			best = label
		}
	}
	if best != "" {
		return best
	}

	for _, fb := range quantFallbacks {
		if strings.Contains(upper, fb.Marker) {
			return fb.Label
		}
	}
	return UnknownQuantization
}

// =============================================================================
// Architecture Classification
// =============================================================================

// ArchitectureFor classifies a model by its id and tags against the
// ordered pattern table. The first matching pattern wins; ids beat tags
// only in the sense that both are searched for every pattern in order.
func ArchitectureFor(id string, tags []string) string {
	haystacks := make([]string, 0, len(tags)+1)
	haystacks = append(haystacks, strings.ToLower(id))
	for _, t := range tags {
		haystacks = append(haystacks, strings.ToLower(t))
	}

	for _, entry := range ArchitecturePatterns {
		for _, pattern := range entry.Patterns {
			for _, h := range haystacks {
				if strings.Contains(h, pattern) {
					return entry.Name
				}
			}
		}
	}
	return UnknownArchitecture
}

// SizeCategory buckets a model id by its parameter-count marker
// ("small", "medium", "large", "xlarge"), or UnknownSizeCategory.
func SizeCategory(id string) string {
	lowered := strings.ToLower(id)
	for _, cat := range SizeCategories {
		for _, marker := range cat.Markers {
			if strings.Contains(lowered, marker) {
				return cat.Name
			}
		}
	}
	return UnknownSizeCategory
}

// =============================================================================
// Naming
// =============================================================================

// FamilyOf returns the owner segment of a model id ("TheBloke" for
// "TheBloke/Llama-2-7B-GGUF"). Returns the whole id when it has no slash.
func FamilyOf(id string) string {
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		return id[:idx]
	}
	return id
}

// DisplayName derives the human display name from a model id: the last
// path segment with '-' and '_' turned into spaces, title-cased per word.
//
//	"TheBloke/Llama-2-7B-GGUF" -> "Llama 2 7B GGUF"
func DisplayName(id string) string {
	segment := id
	if idx := strings.LastIndexByte(id, '/'); idx >= 0 {
		segment = id[idx+1:]
	}
	segment = strings.ReplaceAll(segment, "-", " ")
	segment = strings.ReplaceAll(segment, "_", " ")

	words := strings.Fields(segment)
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 && runes[0] >= 'a' && runes[0] <= 'z' {
			runes[0] = runes[0] - 'a' + 'A'
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
