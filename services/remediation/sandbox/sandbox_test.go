// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	project := t.TempDir()
	m, err := NewManager(Options{
		WorkDir:     filepath.Join(t.TempDir(), "sandboxes"),
		ProjectRoot: project,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, project
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateCopiesTree(t *testing.T) {
	m, project := newTestManager(t)
	writeFile(t, project, "main.go", "package main\n")
	writeFile(t, project, "internal/util.go", "package internal\n")
	writeFile(t, project, ".git/config", "[core]\n")
	writeFile(t, project, "node_modules/pkg/index.js", "x")

	sb, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer m.Destroy(sb)

	if _, err := os.Stat(filepath.Join(sb.Root, "main.go")); err != nil {
		t.Error("main.go not copied")
	}
	if _, err := os.Stat(filepath.Join(sb.Root, "internal/util.go")); err != nil {
		t.Error("internal/util.go not copied")
	}
	if _, err := os.Stat(filepath.Join(sb.Root, ".git")); !os.IsNotExist(err) {
		t.Error(".git copied into sandbox, want ignored")
	}
	if _, err := os.Stat(filepath.Join(sb.Root, "node_modules")); !os.IsNotExist(err) {
		t.Error("node_modules copied into sandbox, want ignored")
	}
	if sb.Files != 2 {
		t.Errorf("sb.Files = %d, want 2", sb.Files)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	m, project := newTestManager(t)
	writeFile(t, project, "f.go", "x")

	sb, err := m.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Destroy(sb); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := os.Stat(sb.Root); !os.IsNotExist(err) {
		t.Error("sandbox dir still exists after Destroy")
	}
	if err := m.Destroy(sb); err != nil {
		t.Errorf("second Destroy() error = %v", err)
	}
}

func TestRetainSurvivesDestroy(t *testing.T) {
	m, project := newTestManager(t)
	writeFile(t, project, "f.go", "x")

	sb, err := m.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sb.Retain()
	if err := m.Destroy(sb); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := os.Stat(sb.Root); err != nil {
		t.Error("retained sandbox was removed")
	}
	_ = os.RemoveAll(sb.Root)
}

func TestApplyChangeSet(t *testing.T) {
	newSandbox := func(t *testing.T) (*Manager, *Sandbox) {
		m, project := newTestManager(t)
		writeFile(t, project, "app.go", "package app\n\nfunc Broken() {}\n")
		writeFile(t, project, "doomed.go", "package app\n")
		sb, err := m.Create(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = m.Destroy(sb) })
		return m, sb
	}
	ctx := context.Background()

	t.Run("modify_with_content", func(t *testing.T) {
		m, sb := newSandbox(t)
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "app.go", Op: datatypes.EditModify, Content: "package app\n\nfunc Fixed() {}\n"},
		}}
		if err := m.ApplyChangeSet(ctx, sb, cs); err != nil {
			t.Fatalf("ApplyChangeSet() error = %v", err)
		}
		got, _ := os.ReadFile(filepath.Join(sb.Root, "app.go"))
		if string(got) != "package app\n\nfunc Fixed() {}\n" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("create_and_delete", func(t *testing.T) {
		m, sb := newSandbox(t)
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "new/file.go", Op: datatypes.EditCreate, Content: "package new\n"},
			{Path: "doomed.go", Op: datatypes.EditDelete},
		}}
		if err := m.ApplyChangeSet(ctx, sb, cs); err != nil {
			t.Fatalf("ApplyChangeSet() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(sb.Root, "new/file.go")); err != nil {
			t.Error("created file missing")
		}
		if _, err := os.Stat(filepath.Join(sb.Root, "doomed.go")); !os.IsNotExist(err) {
			t.Error("deleted file still present")
		}
	})

	t.Run("modify_missing_is_conflict", func(t *testing.T) {
		m, sb := newSandbox(t)
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "ghost.go", Op: datatypes.EditModify, Content: "x"},
		}}
		err := m.ApplyChangeSet(ctx, sb, cs)
		if !errors.Is(err, ErrFileConflict) {
			t.Fatalf("error = %v, want ErrFileConflict", err)
		}
		var fce *FileConflictError
		if !errors.As(err, &fce) || fce.Path != "ghost.go" {
			t.Errorf("conflict error missing path: %v", err)
		}
	})

	t.Run("create_existing_is_conflict", func(t *testing.T) {
		m, sb := newSandbox(t)
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "app.go", Op: datatypes.EditCreate, Content: "x"},
		}}
		if err := m.ApplyChangeSet(ctx, sb, cs); !errors.Is(err, ErrFileConflict) {
			t.Errorf("error = %v, want ErrFileConflict", err)
		}
	})

	t.Run("delete_missing_is_conflict", func(t *testing.T) {
		m, sb := newSandbox(t)
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "ghost.go", Op: datatypes.EditDelete},
		}}
		if err := m.ApplyChangeSet(ctx, sb, cs); !errors.Is(err, ErrFileConflict) {
			t.Errorf("error = %v, want ErrFileConflict", err)
		}
	})

	t.Run("escaping_path_is_conflict", func(t *testing.T) {
		m, sb := newSandbox(t)
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "../outside.go", Op: datatypes.EditCreate, Content: "x"},
		}}
		if err := m.ApplyChangeSet(ctx, sb, cs); !errors.Is(err, ErrFileConflict) {
			t.Errorf("error = %v, want ErrFileConflict", err)
		}
	})

	t.Run("empty_change_set_is_conflict", func(t *testing.T) {
		m, sb := newSandbox(t)
		if err := m.ApplyChangeSet(ctx, sb, datatypes.ChangeSet{}); !errors.Is(err, ErrFileConflict) {
			t.Errorf("error = %v, want ErrFileConflict", err)
		}
	})
}

func TestApplyUnifiedDiff(t *testing.T) {
	t.Run("replaces_line", func(t *testing.T) {
		original := "line one\nline two\nline three\n"
		patch := `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 line one
-line two
+line 2
 line three
`
		got, err := applyUnifiedDiff(original, patch)
		if err != nil {
			t.Fatalf("applyUnifiedDiff() error = %v", err)
		}
		want := "line one\nline 2\nline three\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("context_mismatch", func(t *testing.T) {
		original := "completely different\n"
		patch := `--- a/f.txt
+++ b/f.txt
@@ -1,1 +1,1 @@
-line two
+line 2
`
		if _, err := applyUnifiedDiff(original, patch); err == nil {
			t.Error("expected context mismatch error")
		}
	})

	t.Run("modify_via_diff_edit", func(t *testing.T) {
		m, project := newTestManager(t)
		writeFile(t, project, "f.txt", "alpha\nbeta\ngamma\n")
		sb, err := m.Create(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer m.Destroy(sb)

		patch := `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 alpha
-beta
+BETA
 gamma
`
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "f.txt", Op: datatypes.EditModify, Diff: patch},
		}}
		if err := m.ApplyChangeSet(context.Background(), sb, cs); err != nil {
			t.Fatalf("ApplyChangeSet() error = %v", err)
		}
		got, _ := os.ReadFile(filepath.Join(sb.Root, "f.txt"))
		if string(got) != "alpha\nBETA\ngamma\n" {
			t.Errorf("patched content = %q", got)
		}
	})
}
