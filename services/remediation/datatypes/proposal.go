// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared types of the remediation
// pipeline: proposals and their lifecycle state machine, candidate
// fixes with their change sets, and verification commands and results.
//
// The package has no dependencies on the rest of the pipeline so that
// every component (store, sandbox, evaluator, workflow, HTTP surface)
// can share one vocabulary without import cycles.
package datatypes

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Proposal Status
// =============================================================================

// Status is the lifecycle state of a proposal.
//
// The graph is strict. Every persisted mutation validates its
// transition with CanTransition and refuses anything else:
//
//	proposed  -> evaluated | failed | cancelled
//	evaluated -> approved | rejected
//	approved  -> applied
//	applied   -> rolled_back
//
// rejected, failed, cancelled, and rolled_back are terminal.
type Status string

const (
	// StatusProposed means the bug report is recorded and candidate
	// generation/evaluation has not finished yet.
	StatusProposed Status = "proposed"

	// StatusEvaluated means all candidates went through sandbox
	// verification and ranked results are attached.
	StatusEvaluated Status = "evaluated"

	// StatusApproved means a human accepted the selected candidate.
	StatusApproved Status = "approved"

	// StatusRejected means a human declined the proposal. Terminal.
	StatusRejected Status = "rejected"

	// StatusApplied means the selected change set was written to the
	// live tree, with a backup recorded first.
	StatusApplied Status = "applied"

	// StatusRolledBack means the pre-apply backup was restored. Terminal.
	StatusRolledBack Status = "rolled_back"

	// StatusFailed means the pipeline could not produce a single
	// evaluable candidate. Terminal.
	StatusFailed Status = "failed"

	// StatusCancelled means the submitter withdrew the proposal before
	// evaluation completed. Terminal.
	StatusCancelled Status = "cancelled"
)

// transitions holds the allowed edges of the status graph.
var transitions = map[Status][]Status{
	StatusProposed:  {StatusEvaluated, StatusFailed, StatusCancelled},
	StatusEvaluated: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusApplied},
	StatusApplied:   {StatusRolledBack},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusEvaluated, StatusApproved, StatusRejected,
		StatusApplied, StatusRolledBack, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// CanTransition reports whether the edge s -> to exists in the
// lifecycle graph.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// String returns the wire value of the status.
func (s Status) String() string {
	return string(s)
}

// =============================================================================
// Candidates
// =============================================================================

// FileRegion is a localized area of the codebase the bug locator
// believes is implicated in a defect. Regions feed risk scoring:
// candidate edits outside every region carry a penalty.
type FileRegion struct {
	// Path is relative to the project root.
	Path string `json:"path"`

	// StartLine and EndLine bound the region, 1-based inclusive.
	// Zero values mean the whole file.
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`

	// Confidence is the locator's confidence in [0.0, 1.0].
	Confidence float64 `json:"confidence,omitempty"`
}

// Covers reports whether the region's file is the given path.
// Line granularity is intentionally ignored: a candidate editing any
// part of a located file counts as in-region.
func (r FileRegion) Covers(path string) bool {
	return r.Path == path
}

// Candidate is one generated fix attempt for a proposal, together
// with its sandbox verification outcome and ranking inputs.
type Candidate struct {
	// ID is a UUID assigned at generation time.
	ID string `json:"id"`

	// Index is the generation order (0-based). It is the final
	// ranking tie-breaker, making ranking fully deterministic.
	Index int `json:"index"`

	// Summary is the generator's one-line description of the fix.
	Summary string `json:"summary,omitempty"`

	// ChangeSet holds the concrete file edits.
	ChangeSet ChangeSet `json:"change_set"`

	// GenerationMetadata is the generator's raw output, preserved
	// verbatim as an opaque blob for audit. Never interpreted.
	GenerationMetadata json.RawMessage `json:"generation_metadata,omitempty"`

	// Tests holds per-command verification results. Nil when the
	// candidate never reached verification (sandbox or apply failure).
	Tests *TestSummary `json:"tests,omitempty"`

	// PassRate is passed/(passed+failed) over verification commands,
	// skipped excluded. 0 when nothing ran.
	PassRate float64 `json:"pass_rate"`

	// RiskScore estimates blast radius in [0, 100]; lower is safer.
	RiskScore int `json:"risk_score"`

	// Rank is the 1-based position after evaluation ordering.
	Rank int `json:"rank,omitempty"`

	// FailureReason records why the candidate could not be evaluated
	// or why verification failed. Empty on success.
	FailureReason string `json:"failure_reason,omitempty"`

	// SandboxRef is the retained sandbox directory, set only when
	// sandbox retention is enabled for debugging.
	SandboxRef string `json:"sandbox_ref,omitempty"`
}

// =============================================================================
// Proposal
// =============================================================================

// Decision records a human verdict on an evaluated proposal.
type Decision struct {
	Approved  bool      `json:"approved"`
	DecidedBy string    `json:"decided_by"`
	Notes     string    `json:"notes,omitempty"`

	// Override marks an approval of a candidate whose pass rate was
	// below 1.0. Such approvals are refused without it.
	Override bool `json:"override,omitempty"`

	DecidedAt time.Time `json:"decided_at"`
}

// Proposal is the unit of work of the pipeline: one bug report, the
// candidate fixes generated for it, and the audit trail of everything
// that happened to them.
type Proposal struct {
	// ID is a UUID assigned at submission.
	ID string `json:"id"`

	// Title is a short human-readable summary of the bug report.
	Title string `json:"title,omitempty"`

	// Description is the full bug report text handed to the generator.
	Description string `json:"description"`

	// ReportedBy identifies the submitter.
	ReportedBy string `json:"reported_by,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Regions is the bug locator's output, kept for audit and risk
	// scoring. May be empty when no locator is configured.
	Regions []FileRegion `json:"regions,omitempty"`

	// Candidates is the ranked evaluation output. Empty until the
	// proposal reaches evaluated (or failed).
	Candidates []Candidate `json:"candidates,omitempty"`

	// SelectedCandidateID names the top-ranked candidate. Apply uses
	// exactly this candidate's change set.
	SelectedCandidateID string `json:"selected_candidate_id,omitempty"`

	// FailureReason is set when the proposal transitions to failed.
	FailureReason string `json:"failure_reason,omitempty"`

	// Decision is the human verdict, set on approve/reject.
	Decision *Decision `json:"decision,omitempty"`

	// BackupID references the snapshot taken immediately before apply.
	BackupID string `json:"backup_id,omitempty"`

	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// Selected returns the selected candidate, or nil when none is set.
func (p *Proposal) Selected() *Candidate {
	if p.SelectedCandidateID == "" {
		return nil
	}
	for i := range p.Candidates {
		if p.Candidates[i].ID == p.SelectedCandidateID {
			return &p.Candidates[i]
		}
	}
	return nil
}
