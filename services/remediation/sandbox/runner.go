// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// DefaultMaxCaptureBytes caps each command's stdout/stderr capture.
const DefaultMaxCaptureBytes = 64 * 1024

// =============================================================================
// Runner
// =============================================================================

// RunnerOptions configures verification command execution.
type RunnerOptions struct {
	// MaxCaptureBytes caps per-stream output capture. Output beyond
	// the cap is discarded, not buffered. Default: DefaultMaxCaptureBytes.
	MaxCaptureBytes int

	// ContinueAfterRequiredFailure disables the short-circuit that
	// skips remaining commands once a required command fails.
	ContinueAfterRequiredFailure bool

	// Env is the environment for sandboxed commands. Nil inherits the
	// daemon's environment.
	Env []string

	// Logger defaults to slog.Default() with component=verify.
	Logger *slog.Logger
}

// Runner executes verification commands inside a sandbox.
//
// Commands run in declaration order with the sandbox root as working
// directory and a per-command wall-clock timeout. A required command
// failing (or timing out) marks the remaining commands skipped unless
// ContinueAfterRequiredFailure is set. Advisory failures are recorded
// and execution continues.
//
// # Thread Safety
//
// Runner is stateless after construction and safe for concurrent use.
type Runner struct {
	opts   RunnerOptions
	logger *slog.Logger
}

// NewRunner applies defaults and returns a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.MaxCaptureBytes <= 0 {
		opts.MaxCaptureBytes = DefaultMaxCaptureBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "verify")
	}
	return &Runner{opts: opts, logger: opts.Logger}
}

// RunVerification executes the command specs and returns the summary.
// The only error condition is cancellation of the parent context;
// command failures and timeouts are results, not errors.
func (r *Runner) RunVerification(ctx context.Context, sb *Sandbox, specs []datatypes.CommandSpec) (datatypes.TestSummary, error) {
	if sb == nil || sb.destroyed.Load() {
		return datatypes.TestSummary{}, ErrSandboxDestroyed
	}

	results := make([]datatypes.CommandResult, 0, len(specs))
	shortCircuited := false

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return datatypes.Summarize(results), err
		}
		if shortCircuited {
			results = append(results, datatypes.CommandResult{
				Name:     spec.Name,
				Command:  spec.Command,
				Severity: spec.Severity,
				Status:   datatypes.CommandSkipped,
				ExitCode: -1,
			})
			continue
		}

		result := r.runCommand(ctx, sb, spec)
		results = append(results, result)

		if result.Status == datatypes.CommandFailed &&
			spec.Severity == datatypes.SeverityRequired &&
			!r.opts.ContinueAfterRequiredFailure {
			shortCircuited = true
		}
	}

	return datatypes.Summarize(results), nil
}

// runCommand executes one spec with its timeout and bounded capture.
func (r *Runner) runCommand(ctx context.Context, sb *Sandbox, spec datatypes.CommandSpec) datatypes.CommandResult {
	result := datatypes.CommandResult{
		Name:     spec.Name,
		Command:  spec.Command,
		Severity: spec.Severity,
		ExitCode: -1,
	}

	cmdCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	stdout := newLimitedWriter(r.opts.MaxCaptureBytes)
	stderr := newLimitedWriter(r.opts.MaxCaptureBytes)

	cmd := exec.CommandContext(cmdCtx, spec.Command, spec.Args...)
	cmd.Dir = sb.Root
	cmd.Env = r.opts.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result.DurationMS = time.Since(start).Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case err == nil:
		result.Status = datatypes.CommandPassed
		result.ExitCode = 0
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		result.Status = datatypes.CommandFailed
		result.TimedOut = true
		r.logger.Warn("verification command timed out",
			"sandbox_id", sb.ID,
			"command", spec.Name,
			"timeout", spec.Timeout().String(),
			"error", ErrVerificationTimeout.Error(),
		)
	default:
		result.Status = datatypes.CommandFailed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Spawn failure (missing binary, permission). Recorded in
			// stderr so the candidate's failure is explainable.
			result.Stderr = fmt.Sprintf("failed to start: %v", err)
		}
	}

	r.logger.Debug("verification command finished",
		"sandbox_id", sb.ID,
		"command", spec.Name,
		"status", string(result.Status),
		"exit_code", result.ExitCode,
		"duration_ms", result.DurationMS,
	)
	return result
}

// =============================================================================
// Bounded Output Capture
// =============================================================================

// limitedWriter keeps at most max bytes and silently discards the
// rest, so a chatty test suite cannot balloon proposal records.
type limitedWriter struct {
	buf       []byte
	max       int
	truncated bool
}

func newLimitedWriter(max int) *limitedWriter {
	return &limitedWriter{max: max}
}

// Write always reports full consumption; overflow is dropped.
func (w *limitedWriter) Write(p []byte) (int, error) {
	room := w.max - len(w.buf)
	if room <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		w.buf = append(w.buf, p[:room]...)
		w.truncated = true
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// String returns the captured output, with a marker when truncated.
func (w *limitedWriter) String() string {
	if w.truncated {
		return string(w.buf) + "\n[output truncated]"
	}
	return string(w.buf)
}
