// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate checks model records against a declarative rule
// table, repairs what it can, and scores the result.
//
// Records enter as raw JSON-shaped maps so the engine can handle data
// from any source: freshly enriched records, legacy artifacts with
// stringly-typed counters, and hand-edited files.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Raw is a JSON-shaped model record prior to validation.
type Raw = map[string]any

// FieldType declares the expected JSON type of a field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeList   FieldType = "list"
	TypeBool   FieldType = "bool"
)

// FieldRule is one row of the schema table.
type FieldRule struct {
	Field    string
	Type     FieldType
	Required bool

	// Pattern, when non-nil, must match string values.
	Pattern *regexp.Regexp

	// MinLen/MaxLen bound string length or list size. Zero MaxLen
	// means unbounded.
	MinLen int
	MaxLen int

	// MinValue applies to numeric fields.
	MinValue *float64

	// OneOf restricts string values to a closed set. Empty means any.
	OneOf []string

	// AutoFixable marks rules whose violations the repair pass handles.
	AutoFixable bool
}

var (
	idPattern  = regexp.MustCompile(`^[^/]+/[^/]+$`)
	zeroFloat  = 0.0
	modelRules = []FieldRule{
		{Field: "id", Type: TypeString, Required: true, Pattern: idPattern},
		{Field: "name", Type: TypeString, Required: true, MinLen: 1, MaxLen: 200, AutoFixable: true},
		{Field: "description", Type: TypeString, MaxLen: 2000, AutoFixable: true},
		{Field: "family", Type: TypeString, MaxLen: 100, AutoFixable: true},
		{Field: "architecture", Type: TypeString, MaxLen: 100, AutoFixable: true},
		{Field: "downloads", Type: TypeInt, Required: true, MinValue: &zeroFloat, AutoFixable: true},
		{Field: "likes", Type: TypeInt, MinValue: &zeroFloat, AutoFixable: true},
		{Field: "tags", Type: TypeList, Required: true, MaxLen: 50, AutoFixable: true},
		{Field: "files", Type: TypeList, Required: true, MinLen: 1},
		{Field: "totalSizeBytes", Type: TypeInt, MinValue: &zeroFloat, AutoFixable: true},
		{Field: "confidenceScore", Type: TypeFloat, MinValue: &zeroFloat},
		{Field: "discoveryMethod", Type: TypeString, MaxLen: 100},
	}

	fileRules = []FieldRule{
		{Field: "filename", Type: TypeString, Required: true, Pattern: regexp.MustCompile(`(?i)\.gguf$`)},
		{Field: "sizeBytes", Type: TypeInt, Required: true, MinValue: &zeroFloat, AutoFixable: true},
		{Field: "quantization", Type: TypeString, Required: true, OneOf: quantizationSet(), AutoFixable: true},
		{Field: "downloadUrl", Type: TypeString, Required: true, Pattern: regexp.MustCompile(`^https://`)},
	}

	// optionalFields feed the completeness score and the quality bonus.
	optionalFields = []string{
		"description", "family", "architecture", "likes",
		"totalSizeBytes", "quantizations", "lastModified", "createdAt",
		"discoveryMethod", "confidenceScore",
	}
)

func quantizationSet() []string {
	out := make([]string, 0, len(catalog.QuantizationLabels)+1)
	out = append(out, catalog.QuantizationLabels...)
	out = append(out, catalog.UnknownQuantization)
	return out
}

// requiredFields lists the required model-level fields from the table.
func requiredFields() []string {
	var out []string
	for _, r := range modelRules {
		if r.Required {
			out = append(out, r.Field)
		}
	}
	return out
}

// Validate runs the full rule table over one raw record and returns
// every finding. A nil return means the record is clean.
func Validate(raw Raw) []catalog.ValidationIssue {
	var issues []catalog.ValidationIssue

	for _, rule := range modelRules {
		issues = append(issues, applyRule(raw, rule, "")...)
	}

	files, _ := raw["files"].([]any)
	for i, f := range files {
		fm, ok := f.(Raw)
		if !ok {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema,
				Severity: catalog.SeverityError,
				Field:    fmt.Sprintf("files[%d]", i),
				Message:  "file entry is not an object",
			})
			continue
		}
		prefix := fmt.Sprintf("files[%d].", i)
		for _, rule := range fileRules {
			issues = append(issues, applyRule(fm, rule, prefix)...)
		}
	}

	return issues
}

// applyRule checks one field against one rule. The prefix qualifies
// nested fields in issue reports.
func applyRule(raw Raw, rule FieldRule, prefix string) []catalog.ValidationIssue {
	field := prefix + rule.Field
	value, present := raw[rule.Field]

	if !present || value == nil {
		if !rule.Required {
			return nil
		}
		severity := catalog.SeverityCritical
		if present {
			// Present but null.
			severity = catalog.SeverityError
		}
		return []catalog.ValidationIssue{{
			Category:     catalog.IssueSchema,
			Severity:     severity,
			Field:        field,
			Message:      "required field missing",
			SuggestedFix: "populate from source data or derive",
			AutoFixable:  rule.AutoFixable,
		}}
	}

	if issue := checkType(value, rule, field); issue != nil {
		return []catalog.ValidationIssue{*issue}
	}

	var issues []catalog.ValidationIssue
	switch rule.Type {
	case TypeString:
		s := value.(string)
		if rule.Required && s == "" {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityError,
				Field: field, Message: "required field is empty",
				AutoFixable: rule.AutoFixable,
			})
		}
		if rule.Pattern != nil && s != "" && !rule.Pattern.MatchString(s) {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityError,
				Field:   field,
				Message: fmt.Sprintf("value %q does not match pattern %s", s, rule.Pattern),
			})
		}
		if rule.MinLen > 0 && len(s) < rule.MinLen && s != "" {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityError,
				Field:   field,
				Message: fmt.Sprintf("length %d below minimum %d", len(s), rule.MinLen),
			})
		}
		if rule.MaxLen > 0 && len(s) > rule.MaxLen {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityWarning,
				Field:       field,
				Message:     fmt.Sprintf("length %d exceeds maximum %d", len(s), rule.MaxLen),
				AutoFixable: true,
			})
		}
		if len(rule.OneOf) > 0 && !contains(rule.OneOf, s) {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityWarning,
				Field:        field,
				Message:      fmt.Sprintf("value %q not in allowed set", s),
				SuggestedFix: "re-derive from filename",
				AutoFixable:  rule.AutoFixable,
			})
		}

	case TypeInt, TypeFloat:
		n := asFloat(value)
		if rule.MinValue != nil && n < *rule.MinValue {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueDataIntegrity, Severity: catalog.SeverityError,
				Field:        field,
				Message:      fmt.Sprintf("value %v below minimum %v", n, *rule.MinValue),
				SuggestedFix: "clamp to zero",
				AutoFixable:  rule.AutoFixable,
			})
		}

	case TypeList:
		size := listLen(value)
		if rule.MinLen > 0 && size < rule.MinLen {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityError,
				Field:   field,
				Message: fmt.Sprintf("list size %d below minimum %d", size, rule.MinLen),
			})
		}
		if rule.MaxLen > 0 && size > rule.MaxLen {
			issues = append(issues, catalog.ValidationIssue{
				Category: catalog.IssueSchema, Severity: catalog.SeverityWarning,
				Field:       field,
				Message:     fmt.Sprintf("list size %d exceeds maximum %d", size, rule.MaxLen),
				AutoFixable: true,
			})
		}
	}
	return issues
}

// checkType returns a wrong-type issue, or nil when the value conforms.
func checkType(value any, rule FieldRule, field string) *catalog.ValidationIssue {
	ok := false
	switch rule.Type {
	case TypeString:
		_, ok = value.(string)
	case TypeInt, TypeFloat:
		switch value.(type) {
		case int, int64, float64:
			ok = true
		}
	case TypeList:
		switch value.(type) {
		case []any:
			ok = true
		case []string:
			// Normalized upstream; treat as conforming.
			ok = true
		}
	case TypeBool:
		_, ok = value.(bool)
	}
	if ok {
		return nil
	}
	return &catalog.ValidationIssue{
		Category:     catalog.IssueSchema,
		Severity:     catalog.SeverityError,
		Field:        field,
		Message:      fmt.Sprintf("expected %s, got %T", rule.Type, value),
		SuggestedFix: "coerce to declared type",
		AutoFixable:  rule.AutoFixable,
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func listLen(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case []string:
		return len(t)
	}
	return 0
}

func contains(set []string, s string) bool {
	for _, have := range set {
		if have == s {
			return true
		}
	}
	return false
}

// fieldPresent reports whether raw carries a non-empty value for field.
func fieldPresent(raw Raw, field string) bool {
	v, ok := raw[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}
