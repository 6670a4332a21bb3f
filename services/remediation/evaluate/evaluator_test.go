// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evaluate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/sandbox"
)

// newTestEvaluator builds an evaluator over a tiny project whose
// "test suite" greps marker.txt: candidates that write "fixed" into
// marker.txt pass, everything else fails.
func newTestEvaluator(t *testing.T, opts Options) *Evaluator {
	t.Helper()
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "marker.txt"), []byte("broken\n"), 0644))

	mgr, err := sandbox.NewManager(sandbox.Options{
		WorkDir:     filepath.Join(t.TempDir(), "sandboxes"),
		ProjectRoot: project,
	})
	require.NoError(t, err)

	commands := []datatypes.CommandSpec{
		{
			Name:     "unit-tests",
			Command:  "sh",
			Args:     []string{"-c", "grep -q fixed marker.txt"},
			Severity: datatypes.SeverityRequired,
		},
	}

	ev, err := New(mgr, sandbox.NewRunner(sandbox.RunnerOptions{}), commands, opts)
	require.NoError(t, err)
	return ev
}

func candidate(index int, edits ...datatypes.FileEdit) datatypes.Candidate {
	return datatypes.Candidate{
		ID:        "cand-" + string(rune('a'+index)),
		Index:     index,
		ChangeSet: datatypes.ChangeSet{Edits: edits},
	}
}

func fixingEdit() datatypes.FileEdit {
	return datatypes.FileEdit{Path: "marker.txt", Op: datatypes.EditModify, Content: "fixed\n"}
}

func breakingEdit() datatypes.FileEdit {
	return datatypes.FileEdit{Path: "marker.txt", Op: datatypes.EditModify, Content: "still broken\n"}
}

func TestEvaluateRanksByOutcome(t *testing.T) {
	ev := newTestEvaluator(t, Options{})
	ctx := context.Background()

	candidates := []datatypes.Candidate{
		candidate(0, breakingEdit()),
		candidate(1, fixingEdit()),
		candidate(2, datatypes.FileEdit{Path: "ghost.go", Op: datatypes.EditModify, Content: "x"}), // conflict
	}

	ranked, err := ev.Evaluate(ctx, candidates, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	// The fixing candidate must rank first with a perfect pass rate.
	assert.Equal(t, "cand-b", ranked[0].ID)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 1.0, ranked[0].PassRate)
	require.NotNil(t, ranked[0].Tests)
	assert.Empty(t, ranked[0].FailureReason)

	// The failing and conflicting candidates still come back.
	ids := []string{ranked[1].ID, ranked[2].ID}
	assert.ElementsMatch(t, []string{"cand-a", "cand-c"}, ids)
	for _, c := range ranked[1:] {
		assert.Zero(t, c.PassRate)
	}
}

func TestEvaluateRecordsConflict(t *testing.T) {
	ev := newTestEvaluator(t, Options{})

	ranked, err := ev.Evaluate(context.Background(), []datatypes.Candidate{
		candidate(0, datatypes.FileEdit{Path: "missing.go", Op: datatypes.EditDelete}),
	}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Contains(t, ranked[0].FailureReason, "file conflict")
	assert.Nil(t, ranked[0].Tests, "conflicting candidate never reaches verification")
}

func TestEvaluateAllFailingStillReturns(t *testing.T) {
	ev := newTestEvaluator(t, Options{})

	ranked, err := ev.Evaluate(context.Background(), []datatypes.Candidate{
		candidate(0, breakingEdit()),
		candidate(1, breakingEdit()),
	}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	// Identical outcomes: generation order breaks the tie.
	assert.Equal(t, "cand-a", ranked[0].ID)
	assert.Equal(t, "cand-b", ranked[1].ID)
}

func TestEvaluateCancelled(t *testing.T) {
	ev := newTestEvaluator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ev.Evaluate(ctx, []datatypes.Candidate{candidate(0, fixingEdit())}, nil)
	assert.Error(t, err)
}

func TestRankDeterminism(t *testing.T) {
	mk := func(id string, index int, passRate float64, risk int) datatypes.Candidate {
		return datatypes.Candidate{ID: id, Index: index, PassRate: passRate, RiskScore: risk}
	}
	candidates := []datatypes.Candidate{
		mk("low-pass", 0, 0.5, 10),
		mk("high-risk", 1, 1.0, 60),
		mk("low-risk", 2, 1.0, 20),
		mk("tie-later", 4, 1.0, 20),
	}
	// tie-later duplicates low-risk's scores but was generated later.
	candidates[3].Index = 4

	Rank(candidates)

	wantOrder := []string{"low-risk", "tie-later", "high-risk", "low-pass"}
	for i, want := range wantOrder {
		if candidates[i].ID != want {
			t.Fatalf("rank %d = %s, want %s", i+1, candidates[i].ID, want)
		}
		if candidates[i].Rank != i+1 {
			t.Errorf("Rank field = %d, want %d", candidates[i].Rank, i+1)
		}
	}
}

func TestRetainFailedSandboxes(t *testing.T) {
	ev := newTestEvaluator(t, Options{RetainFailedSandboxes: true})

	ranked, err := ev.Evaluate(context.Background(), []datatypes.Candidate{
		candidate(0, datatypes.FileEdit{Path: "missing.go", Op: datatypes.EditDelete}),
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, ranked[0].SandboxRef)
	if _, statErr := os.Stat(ranked[0].SandboxRef); statErr != nil {
		t.Errorf("retained sandbox missing: %v", statErr)
	}
	_ = os.RemoveAll(ranked[0].SandboxRef)
}

func TestScore(t *testing.T) {
	bigContent := strings.Repeat("line\n", 400)

	t.Run("small_single_file_is_low", func(t *testing.T) {
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "a.go", Op: datatypes.EditModify, Content: "one\ntwo\n"},
		}}
		if got := Score(cs, nil); got > 10 {
			t.Errorf("Score = %d, want small", got)
		}
	})

	t.Run("large_multi_file_is_high", func(t *testing.T) {
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "a.go", Op: datatypes.EditModify, Content: bigContent},
			{Path: "b.go", Op: datatypes.EditModify, Content: bigContent},
			{Path: "c.go", Op: datatypes.EditDelete},
		}}
		small := Score(datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "a.go", Op: datatypes.EditModify, Content: "x\n"},
		}}, nil)
		big := Score(cs, nil)
		if big <= small {
			t.Errorf("big Score = %d not above small %d", big, small)
		}
		if big > 100 {
			t.Errorf("Score = %d exceeds 100", big)
		}
	})

	t.Run("out_of_region_penalized", func(t *testing.T) {
		regions := []datatypes.FileRegion{{Path: "a.go"}}
		inRegion := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "a.go", Op: datatypes.EditModify, Content: "x\n"},
		}}
		stray := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "unrelated.go", Op: datatypes.EditModify, Content: "x\n"},
		}}
		if Score(stray, regions) <= Score(inRegion, regions) {
			t.Error("out-of-region edit not penalized")
		}
	})

	t.Run("no_regions_no_penalty", func(t *testing.T) {
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "anywhere.go", Op: datatypes.EditModify, Content: "x\n"},
		}}
		if Score(cs, nil) != Score(cs, []datatypes.FileRegion{}) {
			t.Error("empty regions scored differently from nil")
		}
	})

	t.Run("diff_lines_counted", func(t *testing.T) {
		patch := "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n-old\n+new\n context\n"
		cs := datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "f", Op: datatypes.EditModify, Diff: patch},
		}}
		if got := Score(cs, nil); got < 0 || got > 100 {
			t.Errorf("Score = %d out of range", got)
		}
		if diffChangedLines(patch) != 2 {
			t.Errorf("diffChangedLines = %d, want 2", diffChangedLines(patch))
		}
	})
}
