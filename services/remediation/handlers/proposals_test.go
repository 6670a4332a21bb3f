// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/beehive-labs/remedy/services/remediation/backup"
	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/generate"
	"github.com/beehive-labs/remedy/services/remediation/store"
	"github.com/beehive-labs/remedy/services/remediation/workflow"
)

func TestRespondErrorStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "not_found",
			err:  fmt.Errorf("proposal x: %w", store.ErrNotFound),
			want: http.StatusNotFound,
		},
		{
			name: "state_transition",
			err: &datatypes.StateTransitionError{
				ProposalID: "p-1",
				From:       datatypes.StatusProposed,
				To:         datatypes.StatusApplied,
			},
			want: http.StatusConflict,
		},
		{
			name: "paths_locked",
			err:  &workflow.PathConflictError{ProposalID: "p-1", HeldBy: "p-2", Paths: []string{"a.go"}},
			want: http.StatusConflict,
		},
		{
			name: "apply_reverted",
			err:  fmt.Errorf("%w: disk full", workflow.ErrApplyReverted),
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "partial_restore",
			err: &backup.PartialRestoreError{
				BackupID: "b-1",
				Restored: []string{"a.go"},
				Failed:   []string{"b.go"},
				Err:      errors.New("permission denied"),
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "generation_failure",
			err:  fmt.Errorf("%w: model returned no fixes", generate.ErrGenerationFailed),
			want: http.StatusBadGateway,
		},
		{
			name: "unclassified",
			err:  errors.New("boom"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

			respondError(c, tc.err)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}
