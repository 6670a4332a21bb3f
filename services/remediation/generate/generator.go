// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generate defines the pipeline's two external boundaries,
// candidate generation and bug localization, plus an implementation
// of the generator against any OpenAI-compatible chat endpoint.
//
// The rest of the pipeline treats both as opaque: generator output is
// carried verbatim on the candidate for audit, and locator output is
// advisory context that can never block generation.
package generate

import (
	"context"
	"encoding/json"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// GeneratedFix is one candidate change set as produced by a Generator,
// before evaluation.
type GeneratedFix struct {
	// Summary is the generator's one-line description of the approach.
	Summary string

	// ChangeSet is the concrete set of file edits.
	ChangeSet datatypes.ChangeSet

	// Metadata is the generator's raw output for this fix, preserved
	// verbatim. The pipeline never interprets it.
	Metadata json.RawMessage
}

// Generator produces candidate fixes for a bug report.
//
// Implementations may return fewer fixes than requested; the pipeline
// tolerates any non-zero count. Zero fixes (or an error) fails the
// proposal.
type Generator interface {
	// Generate returns up to n candidate fixes for the described bug.
	// regions is the locator's advisory output and may be empty.
	Generate(ctx context.Context, description string, regions []datatypes.FileRegion, n int) ([]GeneratedFix, error)
}

// Locator maps a bug description to the file regions likely involved.
//
// Locators are best-effort: a nil locator, an error, or an empty
// result all leave generation running without localized context.
type Locator interface {
	Locate(ctx context.Context, description string) ([]datatypes.FileRegion, error)
}
