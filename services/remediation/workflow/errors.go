// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPathsLocked means another proposal is currently applying or
	// rolling back changes to an overlapping set of files.
	ErrPathsLocked = errors.New("paths locked by another operation")

	// ErrApplyReverted means an apply failed partway and the backup
	// was restored successfully; the live tree is unchanged and the
	// proposal remains approved.
	ErrApplyReverted = errors.New("apply failed, live tree restored")
)

// PathConflictError names the contested paths and the proposal
// holding them.
type PathConflictError struct {
	ProposalID string
	HeldBy     string
	Paths      []string
}

// Error implements the error interface.
func (e *PathConflictError) Error() string {
	return fmt.Sprintf("proposal %s: paths held by %s: %s",
		e.ProposalID, e.HeldBy, strings.Join(e.Paths, ", "))
}

// Unwrap makes the error match errors.Is(err, ErrPathsLocked).
func (e *PathConflictError) Unwrap() error {
	return ErrPathsLocked
}
