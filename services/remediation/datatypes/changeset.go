// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "sort"

// =============================================================================
// Change Sets
// =============================================================================

// EditOp is the kind of modification a FileEdit performs.
type EditOp string

const (
	// EditModify replaces the contents of an existing file.
	EditModify EditOp = "modify"

	// EditCreate adds a new file. The target must not already exist.
	EditCreate EditOp = "create"

	// EditDelete removes an existing file.
	EditDelete EditOp = "delete"
)

// Valid reports whether op is a known edit operation.
func (op EditOp) Valid() bool {
	switch op {
	case EditModify, EditCreate, EditDelete:
		return true
	}
	return false
}

// FileEdit is one file-level change within a candidate's change set.
//
// For EditModify and EditCreate exactly one of Content or Diff is set:
// Content carries the full replacement text, Diff carries a unified
// diff against the file's current contents. EditDelete carries neither.
type FileEdit struct {
	// Path is relative to the project root. Paths escaping the root
	// are rejected at apply time.
	Path string `json:"path"`

	Op EditOp `json:"op"`

	// Content is the full post-edit file contents.
	Content string `json:"content,omitempty"`

	// Diff is a unified diff to apply to the current contents.
	// Takes precedence over Content when both are set.
	Diff string `json:"diff,omitempty"`
}

// ChangeSet is the complete set of file edits of one candidate.
// Edits are applied in order; at most one edit per path is expected.
type ChangeSet struct {
	Edits []FileEdit `json:"edits"`
}

// Empty reports whether the change set contains no edits.
func (cs ChangeSet) Empty() bool {
	return len(cs.Edits) == 0
}

// Paths returns the sorted, de-duplicated set of paths the change set
// touches. The workflow's conflict detection keys on this set.
func (cs ChangeSet) Paths() []string {
	seen := make(map[string]struct{}, len(cs.Edits))
	for _, e := range cs.Edits {
		seen[e.Path] = struct{}{}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Overlaps reports whether the two change sets touch any common path.
func (cs ChangeSet) Overlaps(other ChangeSet) bool {
	touched := make(map[string]struct{}, len(cs.Edits))
	for _, e := range cs.Edits {
		touched[e.Path] = struct{}{}
	}
	for _, e := range other.Edits {
		if _, ok := touched[e.Path]; ok {
			return true
		}
	}
	return false
}
