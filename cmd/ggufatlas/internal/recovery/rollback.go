// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRollbackPoints bounds the retained ring of rollback points;
// evicting a point deletes its backup directory.
const maxRollbackPoints = 10

// RollbackPoint is a named snapshot of a set of files, restorable
// atomically. The orchestrator creates one before each critical phase.
type RollbackPoint struct {
	// ID uniquely identifies the point.
	ID string `json:"id"`

	// Tag is the human label ("merge_phase", "pre_update").
	Tag string `json:"tag"`

	// CreatedAt is the snapshot time.
	CreatedAt time.Time `json:"created_at"`

	// BackupDir is where the copies live.
	BackupDir string `json:"backup_dir"`

	// FileBackups maps original path → backup copy path. Files that did
	// not exist at snapshot time are recorded with an empty backup path
	// and removed again on rollback.
	FileBackups map[string]string `json:"file_backups"`
}

// RollbackManager creates and restores rollback points.
//
// # Backup Layout
//
//	<backupRoot>/pre_update_<YYYYMMDD_HHMMSS>_<id prefix>/
//	    backup_manifest.json
//	    <flattened file copies>
//
// # Thread Safety
//
// Safe for concurrent use; the point ring is guarded by a mutex.
type RollbackManager struct {
	backupRoot string
	logger     *slog.Logger

	mu     sync.Mutex
	points []*RollbackPoint

	// now is a test seam.
	now func() time.Time
}

// NewRollbackManager creates a manager storing backups under backupRoot.
func NewRollbackManager(backupRoot string, logger *slog.Logger) *RollbackManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RollbackManager{
		backupRoot: backupRoot,
		logger:     logger,
		now:        time.Now,
	}
}

// CreatePoint snapshots the named paths under a fresh timestamped backup
// directory and registers the point in the ring. Paths that do not exist
// yet are recorded so rollback can delete them again.
func (m *RollbackManager) CreatePoint(tag string, paths []string) (*RollbackPoint, error) {
	now := m.now()
	id := uuid.NewString()
	// The id prefix keeps dirs distinct when two points land in the
	// same wall-clock second.
	dir := filepath.Join(m.backupRoot,
		fmt.Sprintf("pre_update_%s_%s", now.Format("20060102_150405"), id[:8]))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	point := &RollbackPoint{
		ID:          id,
		Tag:         tag,
		CreatedAt:   now,
		BackupDir:   dir,
		FileBackups: make(map[string]string, len(paths)),
	}

	for i, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			point.FileBackups[path] = ""
			continue
		}
		// Flatten into the backup dir; an index prefix avoids collisions
		// between same-named files from different directories.
		backupPath := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, filepath.Base(path)))
		if err := copyFile(path, backupPath); err != nil {
			return nil, fmt.Errorf("backup %s: %w", path, err)
		}
		point.FileBackups[path] = backupPath
	}

	manifest, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal backup manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "backup_manifest.json"), manifest, 0640); err != nil {
		return nil, fmt.Errorf("write backup manifest: %w", err)
	}

	m.mu.Lock()
	m.points = append(m.points, point)
	var evicted []*RollbackPoint
	if len(m.points) > maxRollbackPoints {
		evicted = m.points[:len(m.points)-maxRollbackPoints]
		m.points = m.points[len(m.points)-maxRollbackPoints:]
	}
	m.mu.Unlock()

	for _, old := range evicted {
		if err := os.RemoveAll(old.BackupDir); err != nil {
			m.logger.Warn("failed to evict old backup", "dir", old.BackupDir, "error", err)
		}
	}

	m.logger.Info("rollback point created",
		"tag", tag, "files", len(paths), "backup_dir", dir)
	return point, nil
}

// Rollback restores every file listed in the point: backed-up files are
// copied back byte-identically; files recorded as absent are removed.
func (m *RollbackManager) Rollback(point *RollbackPoint) error {
	if point == nil {
		return fmt.Errorf("rollback: nil point")
	}
	for original, backup := range point.FileBackups {
		if backup == "" {
			if err := os.Remove(original); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("rollback remove %s: %w", original, err)
			}
			continue
		}
		if err := copyFile(backup, original); err != nil {
			return fmt.Errorf("rollback restore %s: %w", original, err)
		}
	}
	m.logger.Info("rollback completed", "tag", point.Tag, "files", len(point.FileBackups))
	return nil
}

// Latest returns the most recent point, or nil when none exist.
func (m *RollbackManager) Latest() *RollbackPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.points) == 0 {
		return nil
	}
	return m.points[len(m.points)-1]
}

// Find returns the most recent point with the given tag, or nil.
func (m *RollbackManager) Find(tag string) *RollbackPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.points) - 1; i >= 0; i-- {
		if m.points[i].Tag == tag {
			return m.points[i]
		}
	}
	return nil
}

// Points returns the retained points, oldest first.
func (m *RollbackManager) Points() []*RollbackPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RollbackPoint, len(m.points))
	copy(out, m.points)
	return out
}

// copyFile copies src to dst, creating parent directories, fsyncing the
// copy so a restore survives a crash immediately after.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
