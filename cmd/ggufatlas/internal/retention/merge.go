// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Source base weights for the merge priority.
var sourceWeights = map[string]float64{
	string(catalog.SourceTop):    1.0,
	string(catalog.SourceRecent): 0.8,
	string(catalog.SourceMerged): 0.6,
}

// MergeResult is the G3 phase output.
type MergeResult struct {
	Models            []catalog.ModelRef `json:"-"`
	TotalInput        int                `json:"totalInput"`
	DuplicatesRemoved int                `json:"duplicatesRemoved"`

	// IntegrityScore is the fraction of merged records passing the
	// integrity checks, in [0,1].
	IntegrityScore float64 `json:"integrityScore"`
}

// Merger combines the recent-window and leaderboard sets.
type Merger struct {
	logger *slog.Logger
}

// NewMerger builds the G3 merger.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger}
}

// Priority computes the source-weighted merge priority for a ref.
//
// The result stays in [0, 2]: base source weight, a download bonus
// capped at 0.2, a confidence adjustment of ±0.05, and up to 0.1 for a
// top-10 leaderboard rank.
func Priority(ref catalog.ModelRef) float64 {
	p := sourceWeights[ref.Source]

	downloads := float64(ref.Downloads())
	p += math.Min(0.2, math.Log10(downloads+1)/10)
	p += (ref.ConfidenceScore - 0.5) * 0.1

	if ref.Source == string(catalog.SourceTop) {
		if rank, ok := rankOf(ref); ok && rank <= 10 {
			p += float64(11-rank) * 0.01
		}
	}
	return p
}

func rankOf(ref catalog.ModelRef) (int, bool) {
	switch v := ref.Attributes["rank"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Merge deduplicates recent and top refs by id.
//
// # Description
//
// The highest-priority ref in each duplicate group survives. Its
// attributes merge with the losers': downloads take the maximum,
// created_at the minimum, tags the set union; everything else stays
// from the survivor. A group spanning both sources becomes
// source=merged with the originals recorded.
func (m *Merger) Merge(recent, top []catalog.ModelRef) *MergeResult {
	all := make([]catalog.ModelRef, 0, len(recent)+len(top))
	all = append(all, recent...)
	all = append(all, top...)

	result := &MergeResult{TotalInput: len(all)}

	type group struct {
		ref     catalog.ModelRef
		prio    float64
		sources map[string]bool
	}
	byID := map[string]*group{}

	for _, ref := range all {
		ref.Priority = Priority(ref)
		g, ok := byID[ref.ID]
		if !ok {
			byID[ref.ID] = &group{
				ref:     ref,
				prio:    ref.Priority,
				sources: map[string]bool{ref.Source: true},
			}
			continue
		}
		result.DuplicatesRemoved++
		g.sources[ref.Source] = true

		winner, loser := g.ref, ref
		if betterRef(ref.Priority, ref.Source, g.prio, g.ref.Source) {
			winner, loser = ref, g.ref
			g.prio = ref.Priority
		}
		winner.Attributes = mergeAttributes(winner.Attributes, loser.Attributes)
		winner.Priority = g.prio
		g.ref = winner
	}

	for _, g := range byID {
		if len(g.sources) > 1 {
			var originals []string
			for s := range g.sources {
				originals = append(originals, s)
			}
			sort.Strings(originals)
			g.ref.Source = string(catalog.SourceMerged)
			g.ref.Attributes["original_sources"] = originals
		}
		result.Models = append(result.Models, g.ref)
	}
	sort.Slice(result.Models, func(i, j int) bool {
		a, b := result.Models[i], result.Models[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if sourceWeights[a.Source] != sourceWeights[b.Source] {
			return sourceWeights[a.Source] > sourceWeights[b.Source]
		}
		return a.ID < b.ID
	})

	result.IntegrityScore = integrityScore(result.Models)

	m.logger.Info("retention merge finished",
		"input", result.TotalInput,
		"merged", len(result.Models),
		"duplicates_removed", result.DuplicatesRemoved,
		"integrity", result.IntegrityScore,
	)
	return result
}

// betterRef reports whether the challenger ref outranks the incumbent.
// Exact priority ties resolve by source weight so the leaderboard ref
// beats the recent-window ref regardless of merge input order.
func betterRef(prio float64, source string, curPrio float64, curSource string) bool {
	if prio != curPrio {
		return prio > curPrio
	}
	return sourceWeights[source] > sourceWeights[curSource]
}

// mergeAttributes combines a duplicate group's attribute maps in the
// winner's favor.
func mergeAttributes(winner, loser map[string]any) map[string]any {
	out := make(map[string]any, len(winner))
	for k, v := range winner {
		out[k] = v
	}

	// Downloads take the maximum across the group.
	wd, ld := attrInt64(winner, "downloads"), attrInt64(loser, "downloads")
	if ld > wd {
		out["downloads"] = ld
	}

	// Creation time takes the minimum (earliest sighting).
	wc, wok := attrRFC3339(winner, "created_at")
	lc, lok := attrRFC3339(loser, "created_at")
	switch {
	case wok && lok && lc.Before(wc):
		out["created_at"] = lc.Format(time.RFC3339)
	case !wok && lok:
		out["created_at"] = lc.Format(time.RFC3339)
	}

	// Tags union, order-stable on the winner's side.
	wt, lt := attrStrings(winner, "tags"), attrStrings(loser, "tags")
	if len(lt) > 0 {
		seen := make(map[string]bool, len(wt))
		union := append([]string(nil), wt...)
		for _, t := range wt {
			seen[t] = true
		}
		for _, t := range lt {
			if !seen[t] {
				seen[t] = true
				union = append(union, t)
			}
		}
		out["tags"] = union
	}

	// Everything else keeps the winner's value; loser-only keys fill in.
	for k, v := range loser {
		if _, has := out[k]; !has {
			out[k] = v
		}
	}
	return out
}

// integrityScore checks each merged record and returns passed / total.
func integrityScore(models []catalog.ModelRef) float64 {
	if len(models) == 0 {
		return 1
	}
	passed := 0
	for _, ref := range models {
		if ref.ID == "" {
			continue
		}
		if _, ok := sourceWeights[ref.Source]; !ok {
			continue
		}
		if ref.Priority < 0 || ref.Priority > 2 {
			continue
		}
		if ref.Attributes == nil {
			continue
		}
		if ref.Downloads() < 0 {
			continue
		}
		passed++
	}
	return float64(passed) / float64(len(models))
}

func attrInt64(attrs map[string]any, key string) int64 {
	switch v := attrs[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func attrRFC3339(attrs map[string]any, key string) (time.Time, bool) {
	s, ok := attrs[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func attrStrings(attrs map[string]any, key string) []string {
	switch v := attrs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
