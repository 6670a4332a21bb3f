// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evaluate

import (
	"strings"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// Risk score weights. The scale is 0-100, lower is safer. The exact
// numbers matter less than the ordering they induce: small, localized
// edits must always score below sprawling ones.
const (
	maxSizeScore   = 40
	maxFileScore   = 30
	maxRegionScore = 30

	linesPerSizePoint  = 5
	pointsPerExtraFile = 10
	pointsPerStrayFile = 15

	// deleteLineWeight stands in for the unknown size of a deleted
	// file, which the change set does not carry.
	deleteLineWeight = 25
)

// Score estimates the blast radius of a change set in [0, 100].
//
// Three components add up, each capped: edit volume in lines, number
// of files touched beyond the first, and edits to files outside every
// located region. With no regions available the last component is
// zero; absence of localization must not penalize a candidate.
func Score(cs datatypes.ChangeSet, regions []datatypes.FileRegion) int {
	lines := 0
	for _, e := range cs.Edits {
		switch {
		case e.Op == datatypes.EditDelete:
			lines += deleteLineWeight
		case e.Diff != "":
			lines += diffChangedLines(e.Diff)
		default:
			lines += strings.Count(e.Content, "\n") + 1
		}
	}
	score := min(maxSizeScore, lines/linesPerSizePoint)

	files := cs.Paths()
	if extra := len(files) - 1; extra > 0 {
		score += min(maxFileScore, extra*pointsPerExtraFile)
	}

	if len(regions) > 0 {
		stray := 0
		for _, path := range files {
			covered := false
			for _, r := range regions {
				if r.Covers(path) {
					covered = true
					break
				}
			}
			if !covered {
				stray++
			}
		}
		score += min(maxRegionScore, stray*pointsPerStrayFile)
	}

	return min(100, score)
}

// diffChangedLines counts added and removed lines in a unified diff.
func diffChangedLines(patch string) int {
	n := 0
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			n++
		}
	}
	return n
}
