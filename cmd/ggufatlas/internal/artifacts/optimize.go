// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"sort"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// Size-reduction limits for published records. The main index carries
// a longer description than the faceted ones.
const (
	descriptionLimitMain  = 300
	descriptionLimitFacet = 200
	tagLimitMain          = 10
	tagLimitFacet         = 5
)

// optimizeRecord returns a trimmed copy of rec for publication: the
// description is cut to limit, tags are capped, and files are sorted by
// size descending.
func optimizeRecord(rec catalog.ModelRecord, descLimit, tagLimit int) catalog.ModelRecord {
	out := rec

	if len(out.Description) > descLimit {
		out.Description = out.Description[:descLimit]
	}
	if len(out.Tags) > tagLimit {
		out.Tags = append([]string(nil), out.Tags[:tagLimit]...)
	}

	out.Files = append([]catalog.FileRecord(nil), rec.Files...)
	sort.Slice(out.Files, func(i, j int) bool {
		if out.Files[i].SizeBytes != out.Files[j].SizeBytes {
			return out.Files[i].SizeBytes > out.Files[j].SizeBytes
		}
		return out.Files[i].Filename < out.Files[j].Filename
	})
	return out
}

// sortByDownloads returns a copy of models ordered by downloads
// descending, ID ascending for ties.
func sortByDownloads(models []catalog.ModelRecord) []catalog.ModelRecord {
	out := append([]catalog.ModelRecord(nil), models...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Downloads != out[j].Downloads {
			return out[i].Downloads > out[j].Downloads
		}
		return out[i].ID < out[j].ID
	})
	return out
}
