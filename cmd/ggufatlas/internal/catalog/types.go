// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog defines the domain records that flow through the
// harvesting pipeline: discovery candidates, enriched model records,
// retention state, and per-run reports.
//
// # Record Lifecycle
//
//   - ModelRef is produced by discovery, consumed by enrichment, then
//     discarded.
//   - ModelRecord is produced by enrichment, mutated only by the
//     validation/repair engine and the freshness tracker, then read-only.
//   - RetentionMetadata is long-lived per-model state, created on first
//     observation and destroyed only by cleanup.
//   - UpdateReport is created once per invocation and persisted to a
//     bounded ring of report files.
//
// All JSON tags match the on-disk shapes consumed by the downstream
// static site; changing a tag is a breaking change for the website.
package catalog

import (
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// Discovery
// =============================================================================

// modelIDPattern is the canonical <owner>/<name> identifier shape.
var modelIDPattern = regexp.MustCompile(`^[^/]+/[^/]+$`)

// ValidModelID reports whether id has the canonical <owner>/<name> form.
func ValidModelID(id string) bool {
	return modelIDPattern.MatchString(id)
}

// ModelRef is a candidate model identifier produced by a discovery strategy.
//
// A ModelRef carries only what discovery can cheaply observe; enrichment
// turns it into a full ModelRecord.
type ModelRef struct {
	// ID is the hub identifier in <owner>/<name> form.
	ID string `json:"id"`

	// DiscoveryMethod tags the strategy that first produced this ref.
	DiscoveryMethod string `json:"discovery_method"`

	// DiscoveryMethods lists every strategy that sighted this ref.
	// Populated by the dedup merge; includes DiscoveryMethod.
	DiscoveryMethods []string `json:"discovery_methods,omitempty"`

	// DiscoveryCount is how many strategies sighted this ref.
	DiscoveryCount int `json:"discovery_count,omitempty"`

	// ConfidenceScore in [0,1]; higher means a stronger GGUF signal.
	ConfidenceScore float64 `json:"confidence_score"`

	// Source labels the retention origin of this ref: "recent", "top",
	// "merged", or "" outside retention mode.
	Source string `json:"source,omitempty"`

	// Priority is the retention merge priority in [0,2]. Zero outside
	// retention mode.
	Priority float64 `json:"priority,omitempty"`

	// Attributes is an open bag of hub-observed values (downloads, tags,
	// author, timestamps). Keys are stable strings; values are
	// JSON-serializable scalars, lists, or maps.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Downloads returns the download count recorded in Attributes, or 0.
func (r *ModelRef) Downloads() int64 {
	switch v := r.Attributes["downloads"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Tags returns the tag list recorded in Attributes, or nil.
func (r *ModelRef) Tags() []string {
	switch v := r.Attributes["tags"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// =============================================================================
// Enriched records
// =============================================================================

// FileRecord describes a single .gguf artifact inside a model repository.
type FileRecord struct {
	// Filename is the repo-relative file name. Always ends in ".gguf".
	Filename string `json:"filename"`

	// SizeBytes is the reported file size. Zero when the per-file
	// metadata call failed and the fallback record was used.
	SizeBytes int64 `json:"sizeBytes"`

	// SizeHuman is a human-readable rendering of SizeBytes ("4.1 GB").
	SizeHuman string `json:"sizeHuman"`

	// Quantization is the label derived from the filename. Always a
	// member of the closed label set or "Unknown".
	Quantization string `json:"quantization"`

	// DownloadURL is the direct download link. Always https.
	DownloadURL string `json:"downloadUrl"`

	// LastModified is the file's hub modification time, if known.
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// ValidationAnnotation summarizes the validation engine's verdict on a
// record. Issues themselves are transient and never persisted per model.
type ValidationAnnotation struct {
	IsValid           bool      `json:"isValid"`
	QualityScore      float64   `json:"qualityScore"`
	CompletenessScore float64   `json:"completenessScore"`
	IssuesCount       int       `json:"issuesCount"`
	AutoFixesApplied  int       `json:"autoFixesApplied"`
	ValidatedAt       time.Time `json:"validatedAt"`
}

// FreshnessAnnotation stamps a record with sync-relative staleness data.
type FreshnessAnnotation struct {
	// LastSynced is the start time of the run that stamped this record.
	LastSynced time.Time `json:"lastSynced"`

	// Status is one of "fresh", "stale", "very_stale", "unknown".
	Status string `json:"freshnessStatus"`

	// HoursSinceModified is hours between LastModified and LastSynced.
	// Negative when the modification time is unknown.
	HoursSinceModified float64 `json:"hoursSinceModified"`

	// HoursSinceSynced is hours between LastSynced and now at emission.
	HoursSinceSynced float64 `json:"hoursSinceSynced"`
}

// ModelRecord is a fully enriched, validated model.
type ModelRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Family       string `json:"family"`
	Architecture string `json:"architecture"`
	Description  string `json:"description,omitempty"`

	// Files is sorted by SizeBytes descending and is never empty for a
	// record that survives enrichment.
	Files []FileRecord `json:"files"`

	Downloads      int64    `json:"downloads"`
	Likes          int64    `json:"likes,omitempty"`
	Tags           []string `json:"tags"`
	TotalSizeBytes int64    `json:"totalSizeBytes"`
	Quantizations  []string `json:"quantizations"`

	LastModified *time.Time `json:"lastModified,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`

	DiscoveryMethod string  `json:"discoveryMethod"`
	ConfidenceScore float64 `json:"confidenceScore"`

	Validation *ValidationAnnotation `json:"validation,omitempty"`
	Freshness  *FreshnessAnnotation  `json:"freshness,omitempty"`
}

// RecomputeTotals refreshes TotalSizeBytes and Quantizations from Files.
// Call after any mutation of the file list so the size invariant holds.
func (m *ModelRecord) RecomputeTotals() {
	var total int64
	seen := make(map[string]bool, len(m.Files))
	quants := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		total += f.SizeBytes
		if f.Quantization != "" && !seen[f.Quantization] {
			seen[f.Quantization] = true
			quants = append(quants, f.Quantization)
		}
	}
	m.TotalSizeBytes = total
	m.Quantizations = quants
}

// =============================================================================
// Validation issues
// =============================================================================

// IssueCategory classifies what aspect of a record an issue concerns.
type IssueCategory string

const (
	IssueSchema        IssueCategory = "schema"
	IssueDataIntegrity IssueCategory = "data_integrity"
	IssueFileAccess    IssueCategory = "file_access"
	IssueCompleteness  IssueCategory = "completeness"
	IssueQuality       IssueCategory = "quality"
	IssueConsistency   IssueCategory = "consistency"
)

// IssueSeverity orders issues by how strongly they invalidate a record.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityError    IssueSeverity = "error"
	SeverityWarning  IssueSeverity = "warning"
	SeverityInfo     IssueSeverity = "info"
)

// ValidationIssue is one finding from the validation engine. Issues are
// transient: they drive repair and scoring, then are discarded.
type ValidationIssue struct {
	Category     IssueCategory `json:"category"`
	Severity     IssueSeverity `json:"severity"`
	Field        string        `json:"field"`
	Message      string        `json:"message"`
	SuggestedFix string        `json:"suggested_fix,omitempty"`
	AutoFixable  bool          `json:"auto_fixable"`
}

// =============================================================================
// Retention state
// =============================================================================

// TopRanking records one entry of the top-K-by-downloads leaderboard.
type TopRanking struct {
	ModelID       string  `json:"model_id"`
	Rank          int     `json:"rank"`
	DownloadCount int64   `json:"download_count"`
	PreviousRank  *int    `json:"previous_rank,omitempty"`
	RankChange    int     `json:"rank_change"`
	DaysInTop     int     `json:"days_in_top"`
	FirstTopDate  string  `json:"first_top_date"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// RetentionSource labels how a tracked model entered the retained set.
type RetentionSource string

const (
	SourceRecent  RetentionSource = "recent"
	SourceTop     RetentionSource = "top"
	SourceMerged  RetentionSource = "merged"
	SourceUnknown RetentionSource = "unknown"
)

// RetentionMetadata is the long-lived tracking entry for one model.
type RetentionMetadata struct {
	ModelID         string          `json:"model_id"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastUpdated     time.Time       `json:"last_updated"`
	Source          RetentionSource `json:"source"`
	DownloadCount   int64           `json:"download_count"`
	RetentionReason string          `json:"retention_reason"`
	CleanupEligible bool            `json:"cleanup_eligible"`
	FileSizeBytes   int64           `json:"file_size_bytes"`
	FilePaths       []string        `json:"file_paths,omitempty"`
}

// =============================================================================
// Run bookkeeping
// =============================================================================

// SyncMode selects the top-level phase graph for a run.
type SyncMode string

const (
	SyncIncremental SyncMode = "incremental"
	SyncFull        SyncMode = "full"
	SyncRetention   SyncMode = "retention"
)

// SyncMetadata is persisted across runs to drive sync-mode arbitration.
type SyncMetadata struct {
	LastSyncTime    time.Time `json:"last_sync_time"`
	SyncMode        SyncMode  `json:"sync_mode"`
	ModelsProcessed int       `json:"models_processed"`
	ModelsAdded     int       `json:"models_added"`
	ModelsUpdated   int       `json:"models_updated"`
	ModelsRemoved   int       `json:"models_removed"`
	DurationSeconds float64   `json:"duration_seconds"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// PhaseResult is the outcome of one orchestrated phase.
type PhaseResult struct {
	PhaseName       string         `json:"phase_name"`
	Success         bool           `json:"success"`
	DurationSeconds float64        `json:"duration_seconds"`
	DataCount       int            `json:"data_count"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
}

// UpdateReport aggregates everything a single invocation did.
type UpdateReport struct {
	ReportID  string    `json:"report_id"`
	Mode      SyncMode  `json:"mode"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Phases []PhaseResult `json:"phases"`

	TotalModelsProcessed int     `json:"total_models_processed"`
	TopModelsUpdated     int     `json:"top_models_updated"`
	RecentModelsFetched  int     `json:"recent_models_fetched"`
	ModelsMerged         int     `json:"models_merged"`
	DuplicatesRemoved    int     `json:"duplicates_removed"`
	ModelsCleanedUp      int     `json:"models_cleaned_up"`
	StorageFreedMB       float64 `json:"storage_freed_mb"`
	APICallsMade         int     `json:"api_calls_made"`
	PhasesCompleted      int     `json:"phases_completed"`
	PhasesFailed         int     `json:"phases_failed"`

	ErrorsEncountered []string `json:"errors_encountered,omitempty"`

	RollbackPerformed  bool `json:"rollback_performed"`
	RollbackSuccessful bool `json:"rollback_successful"`

	OverallSuccess bool `json:"overall_success"`
}

// AddPhase appends a phase result and updates the aggregate counters.
func (r *UpdateReport) AddPhase(p PhaseResult) {
	r.Phases = append(r.Phases, p)
	if p.Success {
		r.PhasesCompleted++
	} else {
		r.PhasesFailed++
		if p.ErrorMessage != "" {
			r.ErrorsEncountered = append(r.ErrorsEncountered,
				fmt.Sprintf("%s: %s", p.PhaseName, p.ErrorMessage))
		}
	}
}

// Phase returns the named phase result, or nil if it never ran.
func (r *UpdateReport) Phase(name string) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].PhaseName == name {
			return &r.Phases[i]
		}
	}
	return nil
}
