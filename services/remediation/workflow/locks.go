// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import "sync"

// pathLocks serializes live-tree mutations by file path. Two applies
// (or an apply and a rollback) touching disjoint path sets may run
// concurrently; overlapping ones fail fast instead of interleaving
// writes.
type pathLocks struct {
	mu   sync.Mutex
	held map[string]string // path -> proposal ID
}

func newPathLocks() *pathLocks {
	return &pathLocks{held: make(map[string]string)}
}

// acquire takes every path for the proposal, or none: any overlap
// with already-held paths returns a *PathConflictError and leaves the
// registry untouched.
func (l *pathLocks) acquire(proposalID string, paths []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var contested []string
	holder := ""
	for _, p := range paths {
		if by, taken := l.held[p]; taken {
			contested = append(contested, p)
			holder = by
		}
	}
	if len(contested) > 0 {
		return &PathConflictError{ProposalID: proposalID, HeldBy: holder, Paths: contested}
	}

	for _, p := range paths {
		l.held[p] = proposalID
	}
	return nil
}

// release drops the proposal's locks. Paths held by someone else are
// left alone.
func (l *pathLocks) release(proposalID string, paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		if l.held[p] == proposalID {
			delete(l.held, p)
		}
	}
}
