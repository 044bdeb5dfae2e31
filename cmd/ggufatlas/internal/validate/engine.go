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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// severityPenalty is the quality-score deduction per issue.
var severityPenalty = map[catalog.IssueSeverity]float64{
	catalog.SeverityCritical: 25,
	catalog.SeverityError:    10,
	catalog.SeverityWarning:  5,
	catalog.SeverityInfo:     1,
}

// optionalBonusMax is the quality-score bonus for a fully populated
// optional field set.
const optionalBonusMax = 10

// Engine validates, repairs, and scores model records.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine builds a validation engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, now: time.Now}
}

// Result is the outcome of one record's validate-repair-revalidate pass.
type Result struct {
	// Record is the repaired record, decoded back into its typed form.
	// Nil when the record remained invalid in a way that prevents
	// decoding (for example a non-object file entry).
	Record *catalog.ModelRecord

	// Annotation summarizes the verdict.
	Annotation catalog.ValidationAnnotation

	// Issues are the findings that remain after repair.
	Issues []catalog.ValidationIssue
}

// Process validates raw, repairs auto-fixable defects, re-validates,
// and scores the record.
//
// # Description
//
// The annotation's IsValid is true when no critical or error issues
// remain after repair. Warnings and infos degrade the quality score
// but never invalidate a record.
func (e *Engine) Process(raw Raw) Result {
	issues := Validate(raw)

	fixes := 0
	if hasAutoFixable(issues) {
		fixes = Repair(raw)
		issues = Validate(raw)
	}

	annotation := catalog.ValidationAnnotation{
		IsValid:           isValid(issues),
		QualityScore:      QualityScore(raw, issues),
		CompletenessScore: CompletenessScore(raw),
		IssuesCount:       len(issues),
		AutoFixesApplied:  fixes,
		ValidatedAt:       e.now().UTC(),
	}

	result := Result{Annotation: annotation, Issues: issues}
	if rec, err := decodeRecord(raw); err == nil {
		rec.Validation = &annotation
		rec.RecomputeTotals()
		result.Record = rec
	} else {
		e.logger.Warn("repaired record failed to decode",
			"model", raw["id"], "error", err)
	}

	if fixes > 0 {
		e.logger.Debug("record repaired",
			"model", raw["id"], "applied", describeFixes(fixes),
			"remaining_issues", len(issues))
	}
	return result
}

// ProcessRecord runs a typed record through the engine by way of its
// JSON form, returning the annotated copy.
func (e *Engine) ProcessRecord(rec catalog.ModelRecord) Result {
	raw, err := encodeRecord(rec)
	if err != nil {
		return Result{Issues: []catalog.ValidationIssue{{
			Category: catalog.IssueSchema,
			Severity: catalog.SeverityCritical,
			Field:    "record",
			Message:  fmt.Sprintf("record not encodable: %v", err),
		}}}
	}
	return e.Process(raw)
}

// isValid applies the validity rule: no critical or error issue remains.
func isValid(issues []catalog.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == catalog.SeverityCritical || issue.Severity == catalog.SeverityError {
			return false
		}
	}
	return true
}

func hasAutoFixable(issues []catalog.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.AutoFixable {
			return true
		}
	}
	return false
}

// QualityScore computes the 0-100 quality score: each issue deducts by
// severity, and populated optional fields earn up to optionalBonusMax
// back.
func QualityScore(raw Raw, issues []catalog.ValidationIssue) float64 {
	score := 100.0
	for _, issue := range issues {
		score -= severityPenalty[issue.Severity]
	}

	present := 0
	for _, f := range optionalFields {
		if fieldPresent(raw, f) {
			present++
		}
	}
	score += optionalBonusMax * float64(present) / float64(len(optionalFields))

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// CompletenessScore is the populated fraction of the full field set
// (required and optional), as a percentage.
func CompletenessScore(raw Raw) float64 {
	fields := append(requiredFields(), optionalFields...)
	present := 0
	for _, f := range fields {
		if fieldPresent(raw, f) {
			present++
		}
	}
	return 100 * float64(present) / float64(len(fields))
}

// encodeRecord converts a typed record to its raw JSON shape.
func encodeRecord(rec catalog.ModelRecord) (Raw, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// decodeRecord converts a repaired raw record back to its typed form.
func decodeRecord(raw Raw) (*catalog.ModelRecord, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var rec catalog.ModelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
