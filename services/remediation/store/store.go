// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists proposals in BadgerDB and guards every
// lifecycle mutation with the status state machine.
//
// Each proposal is one JSON value under the key "proposal:<id>".
// Mutations go through guarded methods (MarkEvaluated, Decide,
// MarkApplied, ...) that validate the transition and the operation's
// preconditions atomically; callers can never write an illegal state.
//
// # Thread Safety
//
// Store is safe for concurrent use. Mutations are serialized per
// store, which keeps concurrent decisions on the same proposal
// correct: the second one sees the first one's result and fails its
// transition check.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// keyPrefix namespaces proposal records in the shared keyspace.
const keyPrefix = "proposal:"

// =============================================================================
// Store
// =============================================================================

// Options configures a Store.
type Options struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence. For tests.
	InMemory bool

	// SyncWrites makes every commit fsync. Slower, safer. Default off;
	// proposal state is reconstructible from the HTTP audit trail.
	SyncWrites bool

	// Logger defaults to slog.Default() with component=store.
	Logger *slog.Logger
}

// Store is the durable proposal registry.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// mu serializes mutations; see package doc.
	mu     sync.Mutex
	closed bool
}

// Open creates or opens the store.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, fmt.Errorf("store requires a path or InMemory")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "store")
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(&badgerLogger{logger: opts.Logger})
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open proposal store: %w", err)
	}
	return &Store{db: db, logger: opts.Logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// Reads
// =============================================================================

// Get loads one proposal by ID.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p datatypes.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Filter narrows List output.
type Filter struct {
	// Status keeps only proposals in the given state when non-empty.
	Status datatypes.Status
}

// List returns proposals newest-first, optionally filtered by status.
func (s *Store) List(ctx context.Context, filter Filter) ([]datatypes.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var proposals []datatypes.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var p datatypes.Proposal
				if err := json.Unmarshal(val, &p); err != nil {
					// Skip corrupt records instead of failing the list.
					s.logger.Warn("skipping unreadable proposal record",
						"key", string(it.Item().Key()), "error", err.Error())
					return nil
				}
				if filter.Status != "" && p.Status != filter.Status {
					return nil
				}
				proposals = append(proposals, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].CreatedAt.After(proposals[j].CreatedAt)
	})
	return proposals, nil
}

// =============================================================================
// Mutations
// =============================================================================

// Create persists a brand-new proposal. The proposal must carry an ID
// and status proposed.
func (s *Store) Create(ctx context.Context, p *datatypes.Proposal) error {
	if p.ID == "" {
		return fmt.Errorf("proposal missing ID")
	}
	if p.Status != datatypes.StatusProposed {
		return datatypes.NewTransitionError(p.ID, p.Status, datatypes.StatusProposed,
			"new proposals must start as proposed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(keyPrefix + p.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return writeProposal(txn, p)
	})
}

// transition atomically loads the proposal, checks the status edge,
// applies the mutation, and persists the result.
func (s *Store) transition(ctx context.Context, id string, to datatypes.Status, mutate func(*datatypes.Proposal) error) (*datatypes.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *datatypes.Proposal
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var p datatypes.Proposal
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
			return fmt.Errorf("decode proposal %s: %w", id, err)
		}

		if !p.Status.CanTransition(to) {
			return &datatypes.StateTransitionError{ProposalID: id, From: p.Status, To: to}
		}
		if err := mutate(&p); err != nil {
			return err
		}
		p.Status = to
		p.UpdatedAt = time.Now().UTC()

		if err := writeProposal(txn, &p); err != nil {
			return err
		}
		result = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("proposal transitioned", "proposal_id", id, "status", string(to))
	return result, nil
}

// MarkEvaluated attaches ranked candidates and the selection, moving
// the proposal to evaluated. At least one candidate is required; a
// run that produced none must go through MarkFailed instead.
func (s *Store) MarkEvaluated(ctx context.Context, id string, regions []datatypes.FileRegion, candidates []datatypes.Candidate, selectedID string) (*datatypes.Proposal, error) {
	if len(candidates) == 0 {
		return nil, datatypes.NewTransitionError(id, datatypes.StatusProposed, datatypes.StatusEvaluated,
			"evaluated requires at least one candidate")
	}
	return s.transition(ctx, id, datatypes.StatusEvaluated, func(p *datatypes.Proposal) error {
		p.Regions = regions
		p.Candidates = candidates
		p.SelectedCandidateID = selectedID
		return nil
	})
}

// MarkFailed records a pipeline failure (zero candidates, generation
// error) and moves the proposal to its terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (*datatypes.Proposal, error) {
	return s.transition(ctx, id, datatypes.StatusFailed, func(p *datatypes.Proposal) error {
		p.FailureReason = reason
		return nil
	})
}

// Cancel withdraws a proposal that has not finished evaluation.
func (s *Store) Cancel(ctx context.Context, id string) (*datatypes.Proposal, error) {
	return s.transition(ctx, id, datatypes.StatusCancelled, func(p *datatypes.Proposal) error {
		return nil
	})
}

// Decide records the human verdict on an evaluated proposal.
//
// Approving a proposal whose selected candidate did not pass every
// verification command requires decision.Override; without it the
// approval is refused with a StateTransitionError so the gate shows
// up in the audit trail as a refused transition.
func (s *Store) Decide(ctx context.Context, id string, decision datatypes.Decision) (*datatypes.Proposal, error) {
	to := datatypes.StatusRejected
	if decision.Approved {
		to = datatypes.StatusApproved
	}
	return s.transition(ctx, id, to, func(p *datatypes.Proposal) error {
		if decision.Approved {
			selected := p.Selected()
			if selected == nil {
				return datatypes.NewTransitionError(id, p.Status, to, "no selected candidate")
			}
			if selected.PassRate < 1.0 && !decision.Override {
				return datatypes.NewTransitionError(id, p.Status, to,
					"selected candidate pass rate %.2f < 1.0 requires override", selected.PassRate)
			}
		}
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = time.Now().UTC()
		}
		p.Decision = &decision
		return nil
	})
}

// MarkApplied records a successful apply with its backup reference.
func (s *Store) MarkApplied(ctx context.Context, id, backupID string) (*datatypes.Proposal, error) {
	if backupID == "" {
		return nil, fmt.Errorf("apply requires a backup ID")
	}
	return s.transition(ctx, id, datatypes.StatusApplied, func(p *datatypes.Proposal) error {
		now := time.Now().UTC()
		p.BackupID = backupID
		p.AppliedAt = &now
		return nil
	})
}

// MarkRolledBack records a completed rollback.
func (s *Store) MarkRolledBack(ctx context.Context, id string) (*datatypes.Proposal, error) {
	return s.transition(ctx, id, datatypes.StatusRolledBack, func(p *datatypes.Proposal) error {
		now := time.Now().UTC()
		p.RolledBackAt = &now
		return nil
	})
}

// writeProposal serializes a proposal into the transaction.
func writeProposal(txn *badger.Txn, p *datatypes.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	return txn.Set([]byte(keyPrefix+p.ID), data)
}

// =============================================================================
// Badger Logging Adapter
// =============================================================================

// badgerLogger routes Badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
