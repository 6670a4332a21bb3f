// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// =============================================================================
// Change Set Application
// =============================================================================

// ApplyChangeSet writes a candidate's edits into the sandbox.
//
// Edits are applied in order. Any edit that does not fit the tree
// (modify/delete of a missing file, create of an existing one, a diff
// whose context does not match) returns a *FileConflictError and
// stops; the sandbox is considered spent and should be destroyed.
//
// # Inputs
//   - ctx: checked between edits
//   - sb: the sandbox to mutate
//   - cs: the candidate's change set
//
// # Outputs
//   - error: nil, a *FileConflictError, or an I/O failure wrapped in
//     ErrSandboxFailure
func (m *Manager) ApplyChangeSet(ctx context.Context, sb *Sandbox, cs datatypes.ChangeSet) error {
	if sb == nil || sb.destroyed.Load() {
		return ErrSandboxDestroyed
	}
	return ApplyEdits(ctx, sb.Root, cs)
}

// ApplyEdits applies a change set to an arbitrary tree root with the
// same conflict semantics as ApplyChangeSet. The workflow uses it to
// write an approved candidate into the live tree after a backup.
func ApplyEdits(ctx context.Context, root string, cs datatypes.ChangeSet) error {
	if cs.Empty() {
		return conflict("", "", "change set is empty")
	}

	for _, edit := range cs.Edits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !edit.Op.Valid() {
			return conflict(edit.Path, edit.Op, "unknown edit operation")
		}
		target, err := resolveUnder(root, edit.Path)
		if err != nil {
			return conflict(edit.Path, edit.Op, "%v", err)
		}

		switch edit.Op {
		case datatypes.EditDelete:
			err = applyDelete(target, edit)
		case datatypes.EditCreate:
			err = applyCreate(target, edit)
		case datatypes.EditModify:
			err = applyModify(target, edit)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyDelete removes an existing file.
func applyDelete(target string, edit datatypes.FileEdit) error {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return conflict(edit.Path, edit.Op, "file does not exist")
	} else if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	return nil
}

// applyCreate writes a new file; the target must not exist yet.
func applyCreate(target string, edit datatypes.FileEdit) error {
	if _, err := os.Stat(target); err == nil {
		return conflict(edit.Path, edit.Op, "file already exists")
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	if edit.Diff != "" {
		return conflict(edit.Path, edit.Op, "create edits must carry full content, not a diff")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("%w: create dir for %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	if err := os.WriteFile(target, []byte(edit.Content), 0640); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	return nil
}

// applyModify replaces or patches an existing file. Diff takes
// precedence over Content when both are set.
func applyModify(target string, edit datatypes.FileEdit) error {
	current, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return conflict(edit.Path, edit.Op, "file does not exist")
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrSandboxFailure, edit.Path, err)
	}

	content := edit.Content
	if edit.Diff != "" {
		patched, perr := applyUnifiedDiff(string(current), edit.Diff)
		if perr != nil {
			return conflict(edit.Path, edit.Op, "%v", perr)
		}
		content = patched
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	if err := os.WriteFile(target, []byte(content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrSandboxFailure, edit.Path, err)
	}
	return nil
}

// =============================================================================
// Unified Diff
// =============================================================================

// applyUnifiedDiff patches original with a unified diff. Hunks are
// applied in order with full context checking; any mismatch between a
// hunk's context/removal lines and the file is an error.
func applyUnifiedDiff(original, patch string) (string, error) {
	fd, err := diff.ParseFileDiff([]byte(patch))
	if err != nil {
		return "", fmt.Errorf("parse diff: %w", err)
	}

	origLines := strings.Split(original, "\n")
	var out []string
	cursor := 0 // index into origLines

	for _, hunk := range fd.Hunks {
		start := int(hunk.OrigStartLine) - 1
		if hunk.OrigLines == 0 {
			// Pure insertion: OrigStartLine names the line the new
			// content goes after.
			start = int(hunk.OrigStartLine)
		}
		if start < cursor || start > len(origLines) {
			return "", fmt.Errorf("hunk @%d out of range", hunk.OrigStartLine)
		}
		out = append(out, origLines[cursor:start]...)
		cursor = start

		body := strings.TrimSuffix(string(hunk.Body), "\n")
		for _, line := range strings.Split(body, "\n") {
			var marker byte = ' '
			text := line
			if len(line) > 0 {
				marker = line[0]
				text = line[1:]
			} else {
				text = ""
			}
			switch marker {
			case ' ':
				if cursor >= len(origLines) || origLines[cursor] != text {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(origLines) || origLines[cursor] != text {
					return "", fmt.Errorf("removed line mismatch at line %d", cursor+1)
				}
				cursor++
			case '+':
				out = append(out, text)
			case '\\':
				// "\ No newline at end of file"
			default:
				return "", fmt.Errorf("malformed hunk line %q", line)
			}
		}
	}

	out = append(out, origLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}
