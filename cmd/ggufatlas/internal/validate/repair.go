// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Repair mutates raw in place, fixing every defect the repair rules
// cover, and returns the number of fixes applied. Callers re-validate
// afterwards; Repair never guarantees a clean record.
func Repair(raw Raw) int {
	fixes := 0
	id, _ := raw["id"].(string)

	// Null or empty name derives from the id.
	if name, _ := raw["name"].(string); strings.TrimSpace(name) == "" && id != "" {
		raw["name"] = catalog.DisplayName(id)
		fixes++
	}

	// Missing description synthesizes a minimal one.
	if !fieldPresent(raw, "description") {
		if name, _ := raw["name"].(string); name != "" {
			raw["description"] = "GGUF model: " + name
			fixes++
		}
	}

	// Missing architecture falls back to the id/tag heuristic.
	if !fieldPresent(raw, "architecture") && id != "" {
		raw["architecture"] = catalog.ArchitectureFor(id, stringList(raw["tags"]))
		fixes++
	}

	// Missing family is the owner segment of the id.
	if !fieldPresent(raw, "family") && id != "" {
		raw["family"] = catalog.FamilyOf(id)
		fixes++
	}

	// Stringly-typed counters parse to integers, zero on failure.
	for _, field := range []string{"downloads", "likes"} {
		if s, ok := raw[field].(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				n = 0
			}
			raw[field] = n
			fixes++
		}
	}

	// Non-list tags reset to empty.
	if _, present := raw["tags"]; present {
		switch raw["tags"].(type) {
		case []any, []string:
		default:
			raw["tags"] = []any{}
			fixes++
		}
	} else {
		raw["tags"] = []any{}
		fixes++
	}

	// Negative numerics clamp to zero.
	for _, field := range []string{"downloads", "likes", "totalSizeBytes"} {
		if v, present := raw[field]; present && v != nil && asFloat(v) < 0 {
			raw[field] = int64(0)
			fixes++
		}
	}

	// Overlong strings and lists truncate to the declared maximum.
	for _, rule := range modelRules {
		if rule.MaxLen == 0 {
			continue
		}
		switch v := raw[rule.Field].(type) {
		case string:
			if len(v) > rule.MaxLen {
				raw[rule.Field] = v[:rule.MaxLen]
				fixes++
			}
		case []any:
			if len(v) > rule.MaxLen {
				raw[rule.Field] = v[:rule.MaxLen]
				fixes++
			}
		case []string:
			if len(v) > rule.MaxLen {
				raw[rule.Field] = v[:rule.MaxLen]
				fixes++
			}
		}
	}

	fixes += repairFiles(raw)
	return fixes
}

// repairFiles fixes per-file defects: off-set quantization labels
// re-derive from the filename, negative sizes clamp to zero, and the
// human-readable size refreshes when the size changed.
func repairFiles(raw Raw) int {
	files, ok := raw["files"].([]any)
	if !ok {
		return 0
	}

	fixes := 0
	allowed := quantizationSet()
	for _, f := range files {
		fm, ok := f.(Raw)
		if !ok {
			continue
		}
		filename, _ := fm["filename"].(string)

		if q, _ := fm["quantization"].(string); !contains(allowed, q) && filename != "" {
			fm["quantization"] = catalog.QuantizationFromFilename(filename)
			fixes++
		}
		if v, present := fm["sizeBytes"]; present && v != nil && asFloat(v) < 0 {
			fm["sizeBytes"] = int64(0)
			fixes++
		}
	}
	return fixes
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// describeFixes renders a compact log line fragment for applied fixes.
func describeFixes(n int) string {
	if n == 1 {
		return "1 fix"
	}
	return fmt.Sprintf("%d fixes", n)
}
