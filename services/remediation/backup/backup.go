// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backup snapshots files before a proposal is applied and
// restores them on rollback.
//
// Backups live on the filesystem under <root>/backup_{ts}_{uid}/ with
// a manifest.json and the raw file contents under files/. A snapshot
// reads every requested path before writing anything, so a backup
// either exists completely or not at all. Restore is two-phase: every
// write is staged as a temp file first and only committed (renamed
// into place) once all stages succeeded.
//
// # Thread Safety
//
// Store is safe for concurrent use. Callers serialize restores of the
// same paths at a higher level (the workflow's path locks).
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// manifestName is the metadata file inside each backup directory.
const manifestName = "manifest.json"

// filesDirName holds the snapshotted contents inside a backup.
const filesDirName = "files"

// =============================================================================
// Types
// =============================================================================

// FileEntry describes one snapshotted path.
type FileEntry struct {
	// Path is relative to the project root.
	Path string `json:"path"`

	// Absent marks a path that did not exist at snapshot time. On
	// restore the live file is deleted, undoing a create.
	Absent bool `json:"absent,omitempty"`

	// Mode is the file mode at snapshot time (ignored when Absent).
	Mode uint32 `json:"mode,omitempty"`

	Size int64 `json:"size,omitempty"`
}

// Manifest is the durable record of one backup.
type Manifest struct {
	ID         string      `json:"id"`
	ProposalID string      `json:"proposal_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Files      []FileEntry `json:"files"`
}

// Store creates and restores backups for one project tree.
type Store struct {
	// root is the backup storage directory.
	root string

	// projectRoot is the live tree snapshots are taken from and
	// restored into.
	projectRoot string

	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a Store writing backups under root for the project
// at projectRoot. Both directories are created if missing.
func NewStore(root, projectRoot string, logger *slog.Logger) (*Store, error) {
	if root == "" || projectRoot == "" {
		return nil, fmt.Errorf("backup store requires root and project root")
	}
	if logger == nil {
		logger = slog.Default().With("component", "backup")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	return &Store{root: root, projectRoot: projectRoot, logger: logger}, nil
}

// =============================================================================
// Snapshot
// =============================================================================

// snapshotted is an in-memory copy of one live file, captured before
// anything touches disk.
type snapshotted struct {
	entry   FileEntry
	content []byte
}

// Snapshot captures the current contents of the given project-relative
// paths into a new backup and returns its manifest.
//
// All paths are read into memory before the backup directory is
// created: an unreadable path aborts with ErrSnapshotAborted and
// leaves no partial backup behind. Paths that do not exist are
// recorded as absent so a later restore can delete files the apply
// created.
func (s *Store) Snapshot(ctx context.Context, proposalID string, paths []string) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to snapshot", ErrSnapshotAborted)
	}

	// Read phase. Nothing is written until every path was read.
	captured := make([]snapshotted, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSnapshotAborted, err)
		}
		abs, err := s.resolve(rel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSnapshotAborted, err)
		}

		info, err := os.Lstat(abs)
		if os.IsNotExist(err) {
			captured = append(captured, snapshotted{entry: FileEntry{Path: rel, Absent: true}})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrSnapshotAborted, rel, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", ErrSnapshotAborted, rel)
		}

		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrSnapshotAborted, rel, err)
		}
		captured = append(captured, snapshotted{
			entry: FileEntry{
				Path: rel,
				Mode: uint32(info.Mode().Perm()),
				Size: int64(len(content)),
			},
			content: content,
		})
	}

	// Write phase.
	id := fmt.Sprintf("backup_%s_%s", time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8])
	dir := filepath.Join(s.root, id)
	manifest := &Manifest{
		ID:         id,
		ProposalID: proposalID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := os.MkdirAll(filepath.Join(dir, filesDirName), 0750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	for _, snap := range captured {
		manifest.Files = append(manifest.Files, snap.entry)
		if snap.entry.Absent {
			continue
		}
		dst := filepath.Join(dir, filesDirName, snap.entry.Path)
		if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create backup subdir for %s: %w", snap.entry.Path, err)
		}
		if err := os.WriteFile(dst, snap.content, 0640); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("write backup copy of %s: %w", snap.entry.Path, err)
		}
	}

	if err := s.writeManifest(dir, manifest); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	s.logger.Info("backup created",
		"backup_id", id,
		"proposal_id", proposalID,
		"files", len(manifest.Files),
	)
	return manifest, nil
}

// =============================================================================
// Restore
// =============================================================================

// stagedWrite is one pending restore commit.
type stagedWrite struct {
	rel      string
	abs      string
	tmp      string // staged temp file, empty for deletes
	delete   bool
	preImage []byte // live contents before commit, nil if live file absent
	preMode  fs.FileMode
	preExist bool
}

// Restore writes the backup's contents back into the live tree.
//
// The restore is two-phase. Phase one stages every write as a temp
// file next to its target and captures the current live contents for
// undo; a failure here removes the temp files and returns
// ErrRestoreAborted with the tree untouched. Phase two commits each
// staged file with a rename (and deletes for absent entries); a
// failure here triggers an undo of the already-committed paths, and
// only if that undo itself fails does Restore return a
// *PartialRestoreError naming the inconsistent paths.
func (s *Store) Restore(ctx context.Context, backupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, err := s.Get(backupID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreAborted, err)
	}

	// Phase one: stage.
	staged := make([]stagedWrite, 0, len(manifest.Files))
	abort := func(cause error) error {
		for _, w := range staged {
			if w.tmp != "" {
				_ = os.Remove(w.tmp)
			}
		}
		return fmt.Errorf("%w: %w", ErrRestoreAborted, cause)
	}

	for _, entry := range manifest.Files {
		abs, err := s.resolve(entry.Path)
		if err != nil {
			return abort(err)
		}

		w := stagedWrite{rel: entry.Path, abs: abs, delete: entry.Absent}
		if info, err := os.Stat(abs); err == nil {
			pre, rerr := os.ReadFile(abs)
			if rerr != nil {
				return abort(fmt.Errorf("read live %s: %w", entry.Path, rerr))
			}
			w.preImage = pre
			w.preMode = info.Mode().Perm()
			w.preExist = true
		} else if !os.IsNotExist(err) {
			return abort(fmt.Errorf("read live %s: %w", entry.Path, err))
		}

		if !entry.Absent {
			content, err := os.ReadFile(filepath.Join(s.root, backupID, filesDirName, entry.Path))
			if err != nil {
				return abort(fmt.Errorf("read backup copy of %s: %w", entry.Path, err))
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
				return abort(fmt.Errorf("create dir for %s: %w", entry.Path, err))
			}
			tmp, err := os.CreateTemp(filepath.Dir(abs), ".remedy-restore-*")
			if err != nil {
				return abort(fmt.Errorf("stage %s: %w", entry.Path, err))
			}
			w.tmp = tmp.Name()
			if _, err := tmp.Write(content); err != nil {
				_ = tmp.Close()
				return abort(fmt.Errorf("stage %s: %w", entry.Path, err))
			}
			if err := tmp.Close(); err != nil {
				return abort(fmt.Errorf("stage %s: %w", entry.Path, err))
			}
			if entry.Mode != 0 {
				if err := os.Chmod(w.tmp, fs.FileMode(entry.Mode)); err != nil {
					return abort(fmt.Errorf("stage %s: %w", entry.Path, err))
				}
			}
		}
		staged = append(staged, w)
	}

	// Phase two: commit.
	committed := make([]stagedWrite, 0, len(staged))
	for i, w := range staged {
		var err error
		if w.delete {
			err = os.Remove(w.abs)
			if os.IsNotExist(err) {
				err = nil
			}
		} else {
			err = os.Rename(w.tmp, w.abs)
		}
		if err == nil {
			committed = append(committed, w)
			continue
		}

		// Commit failed. Drop remaining temps, then undo what landed.
		for _, rest := range staged[i:] {
			if rest.tmp != "" {
				_ = os.Remove(rest.tmp)
			}
		}
		stuck := s.undo(committed)
		if len(stuck) == 0 {
			return fmt.Errorf("%w: commit %s: %w", ErrRestoreAborted, w.rel, err)
		}

		// stuck paths still carry backup contents; the failing path
		// and everything after it never got them.
		notCommitted := make([]string, 0, len(staged)-i)
		for _, rest := range staged[i:] {
			notCommitted = append(notCommitted, rest.rel)
		}
		s.logger.Error("partial restore",
			"backup_id", backupID,
			"restored", len(stuck),
			"failed", len(notCommitted),
		)
		return &PartialRestoreError{
			BackupID: backupID,
			Restored: stuck,
			Failed:   notCommitted,
			Err:      err,
		}
	}

	s.logger.Info("backup restored", "backup_id", backupID, "files", len(staged))
	return nil
}

// undo reverts committed writes from their captured pre-images (with
// their pre-commit modes) and returns the paths that could not be
// reverted and therefore still carry backup contents. Empty on full
// success.
func (s *Store) undo(committed []stagedWrite) (stuck []string) {
	for _, w := range committed {
		var err error
		if w.preExist {
			// WriteFile only applies the mode on create; the commit
			// left a file here, so chmod it back explicitly.
			err = os.WriteFile(w.abs, w.preImage, w.preMode)
			if err == nil {
				err = os.Chmod(w.abs, w.preMode)
			}
		} else {
			err = os.Remove(w.abs)
			if os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			stuck = append(stuck, w.rel)
		}
	}
	return stuck
}

// =============================================================================
// Lookup
// =============================================================================

// Get loads the manifest of one backup.
func (s *Store) Get(backupID string) (*Manifest, error) {
	if backupID == "" || strings.ContainsAny(backupID, "/\\") {
		return nil, fmt.Errorf("%w: %q", ErrBackupNotFound, backupID)
	}
	data, err := os.ReadFile(filepath.Join(s.root, backupID, manifestName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s: %w", backupID, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", backupID, err)
	}
	return &m, nil
}

// List returns all backup manifests, newest first.
func (s *Store) List() ([]Manifest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	manifests := make([]Manifest, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := s.Get(e.Name())
		if err != nil {
			// Tolerate stray directories; a half-written backup was
			// already cleaned up by Snapshot.
			continue
		}
		manifests = append(manifests, *m)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// =============================================================================
// Helpers
// =============================================================================

// resolve maps a project-relative path to an absolute one, rejecting
// anything that escapes the project root.
func (s *Store) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid path %q", rel)
	}
	abs := filepath.Join(s.projectRoot, rel)
	relCheck, err := filepath.Rel(s.projectRoot, abs)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return abs, nil
}

// writeManifest serializes the manifest into the backup directory.
func (s *Store) writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
