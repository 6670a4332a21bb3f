// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrBackupNotFound means no backup exists for the given ID.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrSnapshotAborted means a snapshot stopped before writing
	// anything; the backup directory was not created.
	ErrSnapshotAborted = errors.New("snapshot aborted")

	// ErrRestoreAborted means a restore failed but the live tree was
	// returned to its pre-restore state.
	ErrRestoreAborted = errors.New("restore aborted, tree unchanged")

	// ErrPartialRestore is the sentinel wrapped by PartialRestoreError.
	ErrPartialRestore = errors.New("partial restore")
)

// PartialRestoreError reports a restore that failed mid-commit AND
// could not undo the files it had already replaced. The live tree is
// inconsistent: Restored paths carry backup contents, Failed paths do
// not. This is the one error in the pipeline that demands manual
// intervention, so it names every affected path.
type PartialRestoreError struct {
	BackupID string

	// Restored paths were committed from the backup before the failure.
	Restored []string

	// Failed paths could not be committed or un-done.
	Failed []string

	// Err is the underlying cause of the first failure.
	Err error
}

// Error implements the error interface.
func (e *PartialRestoreError) Error() string {
	return fmt.Sprintf("backup %s: partial restore: %d path(s) restored, %d failed (first cause: %v)",
		e.BackupID, len(e.Restored), len(e.Failed), e.Err)
}

// Unwrap matches both ErrPartialRestore and the underlying cause.
func (e *PartialRestoreError) Unwrap() []error {
	return []error{ErrPartialRestore, e.Err}
}
