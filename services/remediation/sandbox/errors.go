// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"errors"
	"fmt"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

var (
	// ErrSandboxFailure means the isolated environment itself could
	// not be created or populated. It marks one candidate failed and
	// never aborts the evaluation batch.
	ErrSandboxFailure = errors.New("sandbox failure")

	// ErrVerificationTimeout means a verification command hit its
	// wall-clock limit and was killed.
	ErrVerificationTimeout = errors.New("verification command timed out")

	// ErrFileConflict is the sentinel wrapped by FileConflictError.
	ErrFileConflict = errors.New("file conflict")

	// ErrSandboxDestroyed means an operation referenced a sandbox
	// that was already torn down.
	ErrSandboxDestroyed = errors.New("sandbox already destroyed")
)

// FileConflictError reports a change-set edit that does not fit the
// tree it is applied to: modifying or deleting a file that is not
// there, creating one that already exists, or a diff whose context no
// longer matches.
type FileConflictError struct {
	Path   string
	Op     datatypes.EditOp
	Reason string
}

// Error implements the error interface.
func (e *FileConflictError) Error() string {
	return fmt.Sprintf("file conflict: %s %s: %s", e.Op, e.Path, e.Reason)
}

// Unwrap makes the error match errors.Is(err, ErrFileConflict).
func (e *FileConflictError) Unwrap() error {
	return ErrFileConflict
}

// conflict builds a FileConflictError with a formatted reason.
func conflict(path string, op datatypes.EditOp, format string, args ...any) *FileConflictError {
	return &FileConflictError{Path: path, Op: op, Reason: fmt.Sprintf(format, args...)}
}
