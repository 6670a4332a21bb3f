// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability exposes OpenTelemetry instruments for the
// remediation pipeline. Recording is disabled by default and becomes
// a no-op unless SetMetricsEnabled(true) was called, so library users
// without an OTel SDK pay nothing.
package observability

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("remedy.remediation")

var (
	initOnce sync.Once

	proposalsCreated   metric.Int64Counter
	evaluationsDone    metric.Int64Counter
	evaluationSeconds  metric.Float64Histogram
	decisionsRecorded  metric.Int64Counter
	appliesCompleted   metric.Int64Counter
	rollbacksCompleted metric.Int64Counter
)

var metricsEnabled atomic.Bool

// SetMetricsEnabled toggles metric recording. Call after installing a
// meter provider.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
	if enabled {
		initMetrics()
	}
}

// initMetrics creates the instruments once. Creation errors leave the
// instrument nil and the corresponding record call a no-op.
func initMetrics() {
	initOnce.Do(func() {
		proposalsCreated, _ = meter.Int64Counter("remedy.proposals.created",
			metric.WithDescription("Bug reports submitted to the pipeline"))
		evaluationsDone, _ = meter.Int64Counter("remedy.evaluations.completed",
			metric.WithDescription("Background evaluations finished, by outcome"))
		evaluationSeconds, _ = meter.Float64Histogram("remedy.evaluation.duration",
			metric.WithDescription("Wall-clock seconds from submission to evaluated/failed"),
			metric.WithUnit("s"))
		decisionsRecorded, _ = meter.Int64Counter("remedy.decisions.recorded",
			metric.WithDescription("Human approvals and rejections"))
		appliesCompleted, _ = meter.Int64Counter("remedy.applies.completed",
			metric.WithDescription("Live-tree applies, by outcome"))
		rollbacksCompleted, _ = meter.Int64Counter("remedy.rollbacks.completed",
			metric.WithDescription("Backup restores, by outcome"))
	})
}

// RecordProposalCreated counts a submission.
func RecordProposalCreated(ctx context.Context) {
	if !metricsEnabled.Load() || proposalsCreated == nil {
		return
	}
	proposalsCreated.Add(ctx, 1)
}

// RecordEvaluation counts a finished background evaluation.
// outcome is "evaluated", "failed", or "cancelled".
func RecordEvaluation(ctx context.Context, outcome string, seconds float64, candidates int) {
	if !metricsEnabled.Load() || evaluationsDone == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("candidates", candidates),
	)
	evaluationsDone.Add(ctx, 1, attrs)
	if evaluationSeconds != nil {
		evaluationSeconds.Record(ctx, seconds, attrs)
	}
}

// RecordDecision counts an approval or rejection.
func RecordDecision(ctx context.Context, approved, override bool) {
	if !metricsEnabled.Load() || decisionsRecorded == nil {
		return
	}
	decisionsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("approved", approved),
		attribute.Bool("override", override),
	))
}

// RecordApply counts an apply attempt by outcome
// ("applied", "reverted", "conflict", "error").
func RecordApply(ctx context.Context, outcome string) {
	if !metricsEnabled.Load() || appliesCompleted == nil {
		return
	}
	appliesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRollback counts a rollback attempt by outcome
// ("rolled_back", "partial", "error").
func RecordRollback(ctx context.Context, outcome string) {
	if !metricsEnabled.Load() || rollbacksCompleted == nil {
		return
	}
	rollbacksCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
