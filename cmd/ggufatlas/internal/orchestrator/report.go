// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/artifacts"
	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/catalog"
)

// LatestReportFile always points at the most recent report.
const LatestReportFile = "latest_update_report.json"

const maxRetainedReports = 100

// ReportStore persists update reports as a bounded ring of files.
type ReportStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewReportStore roots a store at dir, creating it on first save.
func NewReportStore(dir string, logger *slog.Logger) *ReportStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportStore{dir: dir, logger: logger, now: time.Now}
}

// Save writes the timestamped report file, refreshes the latest
// pointer, and trims the ring to its bound.
func (s *ReportStore) Save(report *catalog.UpdateReport) error {
	name := fmt.Sprintf("update_report_%s.json", s.now().UTC().Format("20060102_150405"))
	if err := artifacts.WriteJSONAtomic(filepath.Join(s.dir, name), report); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if err := artifacts.WriteJSONAtomic(filepath.Join(s.dir, LatestReportFile), report); err != nil {
		return fmt.Errorf("save latest report: %w", err)
	}
	s.trim()
	return nil
}

// Latest reads the most recent report, nil when none exists.
func (s *ReportStore) Latest() (*catalog.UpdateReport, error) {
	var report catalog.UpdateReport
	err := artifacts.ReadJSON(filepath.Join(s.dir, LatestReportFile), &report)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest report: %w", err)
	}
	return &report, nil
}

// trim deletes the oldest timestamped reports beyond the bound. The
// names embed the timestamp, so lexical order is chronological.
func (s *ReportStore) trim() {
	matches, err := filepath.Glob(filepath.Join(s.dir, "update_report_*.json"))
	if err != nil || len(matches) <= maxRetainedReports {
		return
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-maxRetainedReports] {
		if err := os.Remove(path); err != nil {
			s.logger.Warn("old report removal failed", "path", path, "error", err)
		}
	}
}
