// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hub

import "time"

// ModelSummary is the normalized shape of one hub listing entry.
//
// The hub returns loosely structured JSON; this DTO pins down the fields
// the pipeline consumes. Optional timestamps stay pointers so "absent"
// is distinguishable from the zero time.
type ModelSummary struct {
	// ID is the repository identifier in <owner>/<name> form.
	ID string `json:"id"`

	// Author is the owning account, when reported separately from ID.
	Author string `json:"author,omitempty"`

	// Downloads is the hub's rolling download counter.
	Downloads int64 `json:"downloads"`

	// Likes is the hub's like counter.
	Likes int64 `json:"likes"`

	// Tags is the raw tag list as reported.
	Tags []string `json:"tags"`

	// CreatedAt is the repository creation time, if reported.
	CreatedAt *time.Time `json:"createdAt,omitempty"`

	// LastModified is the last repository modification time, if reported.
	LastModified *time.Time `json:"lastModified,omitempty"`

	// Siblings lists the repository files, when the detailed form of the
	// summary was requested (model_info).
	Siblings []Sibling `json:"siblings,omitempty"`
}

// Sibling is one file descriptor inside a model repository listing.
type Sibling struct {
	// Rfilename is the repo-relative filename. The odd name matches the
	// hub's wire field.
	Rfilename string `json:"rfilename"`

	// Size is the file size in bytes, when the hub includes it.
	Size int64 `json:"size,omitempty"`
}

// PathInfo is per-file metadata returned by the paths-info call.
type PathInfo struct {
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"lastCommit,omitempty"`
}

// SortKey selects the hub-side ordering of a listing.
type SortKey string

const (
	SortDownloads SortKey = "downloads"
	SortCreatedAt SortKey = "createdAt"
	SortModified  SortKey = "lastModified"
)

// ListParams are the knobs accepted by ListModels. Zero values mean
// "hub default" (no filter, no cap).
type ListParams struct {
	// Filter restricts results to models carrying this tag ("gguf").
	Filter string

	// Search is a free-text query.
	Search string

	// Author restricts results to one account.
	Author string

	// Sort orders results; Direction -1 means descending.
	Sort      SortKey
	Direction int

	// Limit caps the number of returned summaries. Zero means no cap;
	// the client then follows pagination until the hub is exhausted.
	Limit int
}
