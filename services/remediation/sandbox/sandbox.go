// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sandbox creates isolated copies of the project tree, applies
// candidate change sets to them, and runs verification commands inside
// them. Nothing a sandboxed command does can touch the live tree.
//
// Each sandbox is a plain directory copy under the manager's work
// directory, created per candidate and destroyed after evaluation
// regardless of outcome. Retention can be enabled per sandbox for
// post-hoc debugging.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// defaultIgnores are directory and file base names never copied into
// a sandbox. Mirrors what the surrounding tooling leaves out of
// source snapshots.
var defaultIgnores = []string{
	".git",
	".hg",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	"dist",
	"target",
	".remedy",
}

// =============================================================================
// Types
// =============================================================================

// Options configures a Manager.
type Options struct {
	// WorkDir is where sandbox directories are created. Required.
	// Must not be inside ProjectRoot unless covered by IgnorePatterns
	// (".remedy" is ignored by default).
	WorkDir string

	// ProjectRoot is the live tree sandboxes are copied from. Required.
	ProjectRoot string

	// IgnorePatterns are base names excluded from the copy, at any
	// depth. Appended to the built-in defaults.
	IgnorePatterns []string

	// MaxFileSize skips files larger than this many bytes during the
	// copy. 0 means no limit.
	MaxFileSize int64

	// Logger defaults to slog.Default() with component=sandbox.
	Logger *slog.Logger
}

// Sandbox is one isolated project copy.
type Sandbox struct {
	// ID is a UUID; the sandbox directory is <WorkDir>/<ID>.
	ID string

	// Root is the absolute sandbox directory.
	Root string

	CreatedAt time.Time

	// Files is the number of files copied in.
	Files int

	retained  atomic.Bool
	destroyed atomic.Bool
}

// Retain marks the sandbox to survive Destroy, for debugging a
// candidate after evaluation.
func (sb *Sandbox) Retain() {
	sb.retained.Store(true)
}

// Retained reports whether the sandbox will survive Destroy.
func (sb *Sandbox) Retained() bool {
	return sb.retained.Load()
}

// Manager creates and tears down sandboxes for one project tree.
//
// # Thread Safety
//
// Manager is safe for concurrent use; each sandbox is an independent
// directory.
type Manager struct {
	opts    Options
	ignores map[string]struct{}
	logger  *slog.Logger
}

// NewManager validates options and creates the work directory.
func NewManager(opts Options) (*Manager, error) {
	if opts.WorkDir == "" || opts.ProjectRoot == "" {
		return nil, fmt.Errorf("sandbox manager requires work dir and project root")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "sandbox")
	}
	if err := os.MkdirAll(opts.WorkDir, 0750); err != nil {
		return nil, fmt.Errorf("create sandbox work dir: %w", err)
	}

	ignores := make(map[string]struct{}, len(defaultIgnores)+len(opts.IgnorePatterns))
	for _, name := range defaultIgnores {
		ignores[name] = struct{}{}
	}
	for _, name := range opts.IgnorePatterns {
		ignores[name] = struct{}{}
	}

	return &Manager{opts: opts, ignores: ignores, logger: opts.Logger}, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Create copies the live tree into a fresh sandbox directory.
// Failures are wrapped in ErrSandboxFailure and leave no directory
// behind.
func (m *Manager) Create(ctx context.Context) (*Sandbox, error) {
	id := uuid.New().String()
	root := filepath.Join(m.opts.WorkDir, id)

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("%w: create sandbox dir: %w", ErrSandboxFailure, err)
	}

	sb := &Sandbox{ID: id, Root: root, CreatedAt: time.Now().UTC()}
	if err := m.copyTree(ctx, sb); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("%w: %w", ErrSandboxFailure, err)
	}

	m.logger.Debug("sandbox created", "sandbox_id", id, "files", sb.Files)
	return sb, nil
}

// Destroy removes the sandbox directory. Idempotent; retained
// sandboxes are left in place.
func (m *Manager) Destroy(sb *Sandbox) error {
	if sb == nil || sb.destroyed.Load() {
		return nil
	}
	if sb.Retained() {
		m.logger.Info("sandbox retained", "sandbox_id", sb.ID, "root", sb.Root)
		return nil
	}
	if err := os.RemoveAll(sb.Root); err != nil {
		return fmt.Errorf("destroy sandbox %s: %w", sb.ID, err)
	}
	sb.destroyed.Store(true)
	m.logger.Debug("sandbox destroyed", "sandbox_id", sb.ID)
	return nil
}

// copyTree walks the project root and copies regular files into the
// sandbox, honoring ignore patterns and the size cap. Symlinks are
// skipped.
func (m *Manager) copyTree(ctx context.Context, sb *Sandbox) error {
	projectRoot, err := filepath.Abs(m.opts.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	workDir, err := filepath.Abs(m.opts.WorkDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}

	return filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == projectRoot {
			return nil
		}

		name := d.Name()
		if _, ignored := m.ignores[name]; ignored {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// Never copy the sandbox area into a sandbox.
		if d.IsDir() && path == workDir {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(sb.Root, rel)

		if d.IsDir() {
			return os.MkdirAll(dst, 0750)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			m.logger.Debug("skipping non-regular file", "path", rel)
			return nil
		}
		if m.opts.MaxFileSize > 0 && info.Size() > m.opts.MaxFileSize {
			m.logger.Debug("skipping oversized file", "path", rel, "size", info.Size())
			return nil
		}

		if err := copyFile(path, dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		sb.Files++
		return nil
	})
}

// copyFile copies src to dst preserving the permission bits.
func copyFile(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// resolveUnder maps a relative path into root, rejecting escapes.
func resolveUnder(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid path %q", rel)
	}
	abs := filepath.Join(root, rel)
	check, err := filepath.Rel(root, abs)
	if err != nil || check == ".." || strings.HasPrefix(check, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root", rel)
	}
	return abs, nil
}
