// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow coordinates the remediation pipeline end to end:
// submission kicks off locate/generate/evaluate in the background,
// humans decide on evaluated proposals, and approved change sets are
// applied to the live tree behind a backup with automatic restore on
// failure.
//
// # Control Flow
//
//	Submit -> (background) locate -> generate -> evaluate -> evaluated|failed
//	Decide -> approved | rejected
//	Apply  -> path locks -> snapshot -> write -> applied
//	         \-> on write failure: restore backup, stay approved
//	Rollback -> restore backup -> rolled_back
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beehive-labs/remedy/services/remediation/backup"
	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/evaluate"
	"github.com/beehive-labs/remedy/services/remediation/generate"
	"github.com/beehive-labs/remedy/services/remediation/observability"
	"github.com/beehive-labs/remedy/services/remediation/sandbox"
	"github.com/beehive-labs/remedy/services/remediation/store"
)

// DefaultCandidateCount is how many fixes are requested per proposal.
const DefaultCandidateCount = 3

// Config wires a Workflow.
type Config struct {
	// Generator produces candidate fixes. Required.
	Generator generate.Generator

	// Locator is optional; nil disables localization.
	Locator generate.Locator

	// CandidateCount defaults to DefaultCandidateCount.
	CandidateCount int

	// Logger defaults to slog.Default() with component=workflow.
	Logger *slog.Logger
}

// Workflow is the approval coordinator.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Live-tree mutations are
// serialized per file path, and proposal state transitions are
// guarded by the store.
type Workflow struct {
	store       *store.Store
	backups     *backup.Store
	evaluator   *evaluate.Evaluator
	projectRoot string
	cfg         Config
	logger      *slog.Logger
	locks       *pathLocks

	// running tracks in-flight background evaluations for Cancel.
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New validates dependencies and returns a Workflow.
func New(st *store.Store, backups *backup.Store, ev *evaluate.Evaluator, projectRoot string, cfg Config) (*Workflow, error) {
	if st == nil || backups == nil || ev == nil {
		return nil, errors.New("workflow requires store, backup store, and evaluator")
	}
	if cfg.Generator == nil {
		return nil, errors.New("workflow requires a generator")
	}
	if projectRoot == "" {
		return nil, errors.New("workflow requires a project root")
	}
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = DefaultCandidateCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "workflow")
	}
	return &Workflow{
		store:       st,
		backups:     backups,
		evaluator:   ev,
		projectRoot: projectRoot,
		cfg:         cfg,
		logger:      cfg.Logger,
		locks:       newPathLocks(),
		running:     make(map[string]context.CancelFunc),
	}, nil
}

// =============================================================================
// Submission & Background Evaluation
// =============================================================================

// Submit records a bug report as a proposed Proposal and starts its
// evaluation in the background. The returned proposal is immediately
// queryable; its status settles to evaluated or failed later.
func (w *Workflow) Submit(ctx context.Context, title, description, reportedBy string) (*datatypes.Proposal, error) {
	if description == "" {
		return nil, errors.New("bug report description is required")
	}

	now := time.Now().UTC()
	p := &datatypes.Proposal{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		ReportedBy:  reportedBy,
		Status:      datatypes.StatusProposed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.store.Create(ctx, p); err != nil {
		return nil, err
	}

	// Evaluation survives the HTTP request; cancellation goes through
	// Cancel, not the caller's context.
	evalCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.running[p.ID] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.evaluateProposal(evalCtx, p.ID, description)

	observability.RecordProposalCreated(ctx)
	w.logger.Info("proposal submitted",
		"proposal_id", p.ID,
		"title", title,
		"reported_by", reportedBy,
	)
	return p, nil
}

// Wait blocks until all background evaluations finish. For shutdown
// and tests.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// Shutdown cancels in-flight evaluations and waits for them.
func (w *Workflow) Shutdown() {
	w.mu.Lock()
	for _, cancel := range w.running {
		cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// evaluateProposal is the background pipeline for one proposal.
func (w *Workflow) evaluateProposal(ctx context.Context, id, description string) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.running, id)
		w.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("evaluation panicked", "proposal_id", id, "panic", fmt.Sprint(r))
			w.failQuietly(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	log := w.logger.With("proposal_id", id)
	started := time.Now()

	// Localization is advisory; its failure never blocks generation.
	var regions []datatypes.FileRegion
	if w.cfg.Locator != nil {
		var err error
		regions, err = w.cfg.Locator.Locate(ctx, description)
		if err != nil {
			log.Warn("bug localization failed", "error", err.Error())
			regions = nil
		}
	}

	fixes, err := w.cfg.Generator.Generate(ctx, description, regions, w.cfg.CandidateCount)
	if err != nil || len(fixes) == 0 {
		reason := "generator returned zero candidates"
		if err != nil {
			reason = err.Error()
		}
		log.Warn("generation failed", "error", reason)
		w.failQuietly(id, reason)
		observability.RecordEvaluation(ctx, "failed", time.Since(started).Seconds(), 0)
		return
	}

	candidates := make([]datatypes.Candidate, len(fixes))
	for i, fix := range fixes {
		candidates[i] = datatypes.Candidate{
			ID:                 uuid.New().String(),
			Index:              i,
			Summary:            fix.Summary,
			ChangeSet:          fix.ChangeSet,
			GenerationMetadata: fix.Metadata,
		}
	}

	ranked, err := w.evaluator.Evaluate(ctx, candidates, regions)
	if err != nil {
		// Cancelled mid-evaluation. If Cancel already moved the
		// proposal to cancelled, the failure transition is refused
		// and silently dropped.
		log.Info("evaluation stopped", "error", err.Error())
		w.failQuietly(id, "evaluation interrupted: "+err.Error())
		observability.RecordEvaluation(context.Background(), "cancelled", time.Since(started).Seconds(), len(candidates))
		return
	}

	if _, err := w.store.MarkEvaluated(context.Background(), id, regions, ranked, ranked[0].ID); err != nil {
		log.Error("could not persist evaluation", "error", err.Error())
		return
	}
	observability.RecordEvaluation(context.Background(), "evaluated", time.Since(started).Seconds(), len(ranked))
	log.Info("proposal evaluated",
		"candidates", len(ranked),
		"best_pass_rate", ranked[0].PassRate,
		"best_risk_score", ranked[0].RiskScore,
	)
}

// failQuietly marks the proposal failed, tolerating a lost race with
// Cancel (the cancelled state is terminal and wins).
func (w *Workflow) failQuietly(id, reason string) {
	if _, err := w.store.MarkFailed(context.Background(), id, reason); err != nil {
		if !errors.Is(err, datatypes.ErrInvalidTransition) {
			w.logger.Error("could not mark proposal failed", "proposal_id", id, "error", err.Error())
		}
	}
}

// =============================================================================
// Queries & Decisions
// =============================================================================

// Get returns one proposal.
func (w *Workflow) Get(ctx context.Context, id string) (*datatypes.Proposal, error) {
	return w.store.Get(ctx, id)
}

// List returns proposals newest-first, optionally filtered by status.
func (w *Workflow) List(ctx context.Context, status datatypes.Status) ([]datatypes.Proposal, error) {
	return w.store.List(ctx, store.Filter{Status: status})
}

// Cancel withdraws a proposal that has not finished evaluation and
// stops its background work.
func (w *Workflow) Cancel(ctx context.Context, id string) (*datatypes.Proposal, error) {
	p, err := w.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	if cancel, ok := w.running[id]; ok {
		cancel()
	}
	w.mu.Unlock()
	w.logger.Info("proposal cancelled", "proposal_id", id)
	return p, nil
}

// Decide records an approval or rejection of an evaluated proposal.
// Approving a candidate with pass rate below 1.0 requires override.
func (w *Workflow) Decide(ctx context.Context, id string, approved bool, decidedBy, notes string, override bool) (*datatypes.Proposal, error) {
	p, err := w.store.Decide(ctx, id, datatypes.Decision{
		Approved:  approved,
		DecidedBy: decidedBy,
		Notes:     notes,
		Override:  override,
		DecidedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	observability.RecordDecision(ctx, approved, override)
	w.logger.Info("proposal decided",
		"proposal_id", id,
		"approved", approved,
		"decided_by", decidedBy,
		"override", override,
	)
	return p, nil
}

// =============================================================================
// Apply & Rollback
// =============================================================================

// Apply writes the approved proposal's selected change set to the
// live tree.
//
// The touched paths are locked for the duration, so overlapping
// applies fail with ErrPathsLocked instead of interleaving. A backup
// is always taken first; if any write then fails, the backup is
// restored and the proposal stays approved (ErrApplyReverted). Only a
// fully applied change set transitions the proposal to applied.
func (w *Workflow) Apply(ctx context.Context, id string) (*datatypes.Proposal, error) {
	p, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != datatypes.StatusApproved {
		return nil, &datatypes.StateTransitionError{ProposalID: id, From: p.Status, To: datatypes.StatusApplied}
	}
	selected := p.Selected()
	if selected == nil {
		return nil, fmt.Errorf("proposal %s has no selected candidate", id)
	}

	paths := selected.ChangeSet.Paths()
	if err := w.locks.acquire(id, paths); err != nil {
		observability.RecordApply(ctx, "conflict")
		return nil, err
	}
	defer w.locks.release(id, paths)

	manifest, err := w.backups.Snapshot(ctx, id, paths)
	if err != nil {
		return nil, fmt.Errorf("pre-apply backup: %w", err)
	}

	if err := sandbox.ApplyEdits(ctx, w.projectRoot, selected.ChangeSet); err != nil {
		// Self-heal: put the tree back before reporting.
		if rerr := w.backups.Restore(context.Background(), manifest.ID); rerr != nil {
			w.logger.Error("apply failed and restore failed",
				"proposal_id", id,
				"backup_id", manifest.ID,
				"apply_error", err.Error(),
				"restore_error", rerr.Error(),
			)
			observability.RecordApply(ctx, "error")
			return nil, fmt.Errorf("apply failed (%v); restore also failed: %w", err, rerr)
		}
		w.logger.Warn("apply reverted", "proposal_id", id, "error", err.Error())
		observability.RecordApply(ctx, "reverted")
		return nil, fmt.Errorf("%w: %w", ErrApplyReverted, err)
	}

	applied, err := w.store.MarkApplied(ctx, id, manifest.ID)
	if err != nil {
		return nil, err
	}
	observability.RecordApply(ctx, "applied")
	w.logger.Info("proposal applied",
		"proposal_id", id,
		"backup_id", manifest.ID,
		"files", len(paths),
	)
	return applied, nil
}

// Rollback restores the pre-apply backup of an applied proposal.
// A partial restore surfaces as *backup.PartialRestoreError and
// leaves the proposal applied; rollback can be retried.
func (w *Workflow) Rollback(ctx context.Context, id string) (*datatypes.Proposal, error) {
	p, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != datatypes.StatusApplied {
		return nil, &datatypes.StateTransitionError{ProposalID: id, From: p.Status, To: datatypes.StatusRolledBack}
	}
	if p.BackupID == "" {
		return nil, fmt.Errorf("proposal %s has no backup to restore", id)
	}

	var paths []string
	if selected := p.Selected(); selected != nil {
		paths = selected.ChangeSet.Paths()
	}
	if err := w.locks.acquire(id, paths); err != nil {
		return nil, err
	}
	defer w.locks.release(id, paths)

	if err := w.backups.Restore(ctx, p.BackupID); err != nil {
		outcome := "error"
		if errors.Is(err, backup.ErrPartialRestore) {
			outcome = "partial"
		}
		observability.RecordRollback(ctx, outcome)
		return nil, err
	}

	rolled, err := w.store.MarkRolledBack(ctx, id)
	if err != nil {
		return nil, err
	}
	observability.RecordRollback(ctx, "rolled_back")
	w.logger.Info("proposal rolled back", "proposal_id", id, "backup_id", p.BackupID)
	return rolled, nil
}
