// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evaluate runs candidate fixes through sandboxed
// verification, scores them, and ranks them deterministically.
//
// Candidates evaluate concurrently under a semaphore bound; each gets
// its own sandbox which is torn down on every exit path. A failing
// candidate (sandbox failure, change-set conflict, failing commands)
// is recorded and never aborts the batch.
package evaluate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/sandbox"
)

// DefaultMaxParallel bounds simultaneous sandboxes.
const DefaultMaxParallel = 4

// Options configures an Evaluator.
type Options struct {
	// MaxParallel caps concurrent sandbox evaluations.
	// Default: DefaultMaxParallel.
	MaxParallel int64

	// RetainFailedSandboxes keeps the sandbox directory of failed
	// candidates for debugging; the candidate records its path.
	RetainFailedSandboxes bool

	// Logger defaults to slog.Default() with component=evaluate.
	Logger *slog.Logger
}

// Evaluator verifies and ranks candidates.
//
// # Thread Safety
//
// Safe for concurrent use; the semaphore bound is shared across all
// Evaluate calls on the same Evaluator.
type Evaluator struct {
	sandboxes *sandbox.Manager
	runner    *sandbox.Runner
	commands  []datatypes.CommandSpec
	sem       *semaphore.Weighted
	opts      Options
	logger    *slog.Logger
}

// New builds an Evaluator running the given verification commands.
func New(sandboxes *sandbox.Manager, runner *sandbox.Runner, commands []datatypes.CommandSpec, opts Options) (*Evaluator, error) {
	if sandboxes == nil || runner == nil {
		return nil, errors.New("evaluator requires a sandbox manager and runner")
	}
	if len(commands) == 0 {
		return nil, errors.New("evaluator requires at least one verification command")
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "evaluate")
	}
	return &Evaluator{
		sandboxes: sandboxes,
		runner:    runner,
		commands:  commands,
		sem:       semaphore.NewWeighted(opts.MaxParallel),
		opts:      opts,
		logger:    opts.Logger,
	}, nil
}

// Evaluate runs every candidate through an isolated sandbox and
// returns the full set ranked by pass rate (desc), risk score (asc),
// and generation order (asc). Candidates that could not be evaluated
// come back with a FailureReason and zero pass rate.
//
// The returned error is non-nil only when the context is cancelled;
// per-candidate failures are results.
func (e *Evaluator) Evaluate(ctx context.Context, candidates []datatypes.Candidate, regions []datatypes.FileRegion) ([]datatypes.Candidate, error) {
	results := make([]datatypes.Candidate, len(candidates))
	var wg sync.WaitGroup

	for i, c := range candidates {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Cancelled mid-batch; pass through what already ran.
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, c datatypes.Candidate) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[i] = e.evaluateOne(ctx, c, regions)
		}(i, c)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Rank(results)
	return results, nil
}

// evaluateOne runs a single candidate through its own sandbox. The
// named result lets the deferred teardown stamp SandboxRef on the
// candidate actually returned when a failed sandbox is retained.
func (e *Evaluator) evaluateOne(ctx context.Context, c datatypes.Candidate, regions []datatypes.FileRegion) (out datatypes.Candidate) {
	c.RiskScore = Score(c.ChangeSet, regions)

	sb, err := e.sandboxes.Create(ctx)
	if err != nil {
		e.logger.Warn("sandbox creation failed",
			"candidate_id", c.ID, "error", err.Error())
		c.FailureReason = err.Error()
		return c
	}
	// Teardown is unconditional; retention only redirects it.
	defer func() {
		if out.FailureReason != "" && e.opts.RetainFailedSandboxes {
			sb.Retain()
			out.SandboxRef = sb.Root
		}
		if derr := e.sandboxes.Destroy(sb); derr != nil {
			e.logger.Error("sandbox teardown failed",
				"sandbox_id", sb.ID, "error", derr.Error())
		}
	}()

	if err := e.sandboxes.ApplyChangeSet(ctx, sb, c.ChangeSet); err != nil {
		e.logger.Info("candidate change set rejected",
			"candidate_id", c.ID, "error", err.Error())
		c.FailureReason = err.Error()
		return c
	}

	summary, err := e.runner.RunVerification(ctx, sb, e.commands)
	if err != nil {
		c.FailureReason = err.Error()
		return c
	}
	c.Tests = &summary
	c.PassRate = summary.PassRate

	e.logger.Info("candidate evaluated",
		"candidate_id", c.ID,
		"pass_rate", c.PassRate,
		"risk_score", c.RiskScore,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return c
}

// Rank orders candidates in place by pass rate descending, risk score
// ascending, then generation order, and stamps 1-based ranks. The
// ordering has no ties, so ranking is deterministic for a fixed input.
func Rank(candidates []datatypes.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PassRate != b.PassRate {
			return a.PassRate > b.PassRate
		}
		if a.RiskScore != b.RiskScore {
			return a.RiskScore < b.RiskScore
		}
		return a.Index < b.Index
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
}
