// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is the sentinel wrapped by every
// StateTransitionError, for errors.Is checks.
var ErrInvalidTransition = errors.New("invalid status transition")

// StateTransitionError reports an attempted lifecycle move the status
// graph does not allow, e.g. approving an already-applied proposal or
// rolling back twice.
type StateTransitionError struct {
	// ProposalID is the proposal whose transition was refused.
	ProposalID string

	// From is the proposal's current status, To the requested one.
	From Status
	To   Status

	// Reason carries extra context, e.g. an approval gate refusal.
	Reason string
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("proposal %s: invalid transition %s -> %s", e.ProposalID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap makes the error match errors.Is(err, ErrInvalidTransition).
func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError builds a StateTransitionError with a formatted
// reason.
func NewTransitionError(proposalID string, from, to Status, format string, args ...any) *StateTransitionError {
	return &StateTransitionError{
		ProposalID: proposalID,
		From:       from,
		To:         to,
		Reason:     fmt.Sprintf(format, args...),
	}
}
