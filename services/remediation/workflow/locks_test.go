// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"testing"
)

func TestPathLocks(t *testing.T) {
	t.Run("disjoint_sets_coexist", func(t *testing.T) {
		l := newPathLocks()
		if err := l.acquire("p-1", []string{"a.go", "b.go"}); err != nil {
			t.Fatalf("acquire p-1: %v", err)
		}
		if err := l.acquire("p-2", []string{"c.go"}); err != nil {
			t.Fatalf("acquire p-2: %v", err)
		}
	})

	t.Run("overlap_refused_all_or_nothing", func(t *testing.T) {
		l := newPathLocks()
		if err := l.acquire("p-1", []string{"a.go", "b.go"}); err != nil {
			t.Fatal(err)
		}

		err := l.acquire("p-2", []string{"b.go", "c.go"})
		if !errors.Is(err, ErrPathsLocked) {
			t.Fatalf("error = %v, want ErrPathsLocked", err)
		}
		var pce *PathConflictError
		if !errors.As(err, &pce) {
			t.Fatal("error is not a *PathConflictError")
		}
		if pce.HeldBy != "p-1" || len(pce.Paths) != 1 || pce.Paths[0] != "b.go" {
			t.Errorf("conflict detail = %+v", pce)
		}

		// The refused acquire must not have taken c.go.
		if err := l.acquire("p-3", []string{"c.go"}); err != nil {
			t.Errorf("c.go leaked from refused acquire: %v", err)
		}
	})

	t.Run("release_frees_paths", func(t *testing.T) {
		l := newPathLocks()
		if err := l.acquire("p-1", []string{"a.go"}); err != nil {
			t.Fatal(err)
		}
		l.release("p-1", []string{"a.go"})
		if err := l.acquire("p-2", []string{"a.go"}); err != nil {
			t.Errorf("acquire after release: %v", err)
		}
	})

	t.Run("release_only_own_paths", func(t *testing.T) {
		l := newPathLocks()
		if err := l.acquire("p-1", []string{"a.go"}); err != nil {
			t.Fatal(err)
		}
		// p-2 releasing a path it does not hold must not free it.
		l.release("p-2", []string{"a.go"})
		if err := l.acquire("p-3", []string{"a.go"}); !errors.Is(err, ErrPathsLocked) {
			t.Errorf("a.go was freed by a non-holder: %v", err)
		}
	})
}
