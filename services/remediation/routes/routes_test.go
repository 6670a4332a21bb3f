// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beehive-labs/remedy/services/remediation/backup"
	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/evaluate"
	"github.com/beehive-labs/remedy/services/remediation/generate"
	"github.com/beehive-labs/remedy/services/remediation/sandbox"
	"github.com/beehive-labs/remedy/services/remediation/store"
	"github.com/beehive-labs/remedy/services/remediation/workflow"
)

type passingGenerator struct{}

func (passingGenerator) Generate(ctx context.Context, description string, regions []datatypes.FileRegion, n int) ([]generate.GeneratedFix, error) {
	return []generate.GeneratedFix{{
		Summary: "flip the marker",
		ChangeSet: datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "marker.txt", Op: datatypes.EditModify, Content: "fixed\n"},
		}},
	}}, nil
}

// newTestRouter wires the full pipeline behind a gin engine over a
// temp project whose verification greps marker.txt for "fixed".
func newTestRouter(t *testing.T) (*gin.Engine, *workflow.Workflow) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "marker.txt"), []byte("broken\n"), 0644))

	mgr, err := sandbox.NewManager(sandbox.Options{
		WorkDir:     filepath.Join(t.TempDir(), "sandboxes"),
		ProjectRoot: project,
	})
	require.NoError(t, err)

	ev, err := evaluate.New(mgr, sandbox.NewRunner(sandbox.RunnerOptions{}), []datatypes.CommandSpec{
		{Name: "unit-tests", Command: "sh", Args: []string{"-c", "grep -q fixed marker.txt"}, Severity: datatypes.SeverityRequired},
	}, evaluate.Options{})
	require.NoError(t, err)

	st, err := store.Open(store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	backups, err := backup.NewStore(filepath.Join(t.TempDir(), "backups"), project, nil)
	require.NoError(t, err)

	wf, err := workflow.New(st, backups, ev, project, workflow.Config{Generator: passingGenerator{}})
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, wf)
	return router, wf
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed), "body: %s", rec.Body.String())
	}
	return rec, parsed
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, body := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	router, wf := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/v1/proposals",
		`{"title":"marker broken","description":"marker.txt should say fixed","reported_by":"qa"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, string(datatypes.StatusProposed), body["status"])

	wf.Wait()

	rec, body = doJSON(t, router, http.MethodGet, "/v1/proposals/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(datatypes.StatusEvaluated), body["status"])

	// Applying before a decision is a state violation.
	rec, _ = doJSON(t, router, http.MethodPost, "/v1/proposals/"+id+"/apply", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = doJSON(t, router, http.MethodPost, "/v1/proposals/"+id+"/decision",
		`{"approved":true,"decided_by":"admin","notes":"lgtm"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(datatypes.StatusApproved), body["status"])

	rec, body = doJSON(t, router, http.MethodPost, "/v1/proposals/"+id+"/apply", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(datatypes.StatusApplied), body["status"])
	assert.NotEmpty(t, body["backup_id"])

	rec, body = doJSON(t, router, http.MethodPost, "/v1/proposals/"+id+"/rollback", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(datatypes.StatusRolledBack), body["status"])
}

func TestListProposalsWithStatusFilter(t *testing.T) {
	router, wf := newTestRouter(t)

	rec, _ := doJSON(t, router, http.MethodPost, "/v1/proposals", `{"description":"bug one"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	wf.Wait()

	rec, body := doJSON(t, router, http.MethodGet, "/v1/proposals?status=evaluated", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = doJSON(t, router, http.MethodGet, "/v1/proposals?status=applied", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])

	rec, _ = doJSON(t, router, http.MethodGet, "/v1/proposals?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("unknown_id_is_404", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodGet, "/v1/proposals/no-such-id", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing_description_is_400", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodPost, "/v1/proposals", `{"title":"no description"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("decide_without_decider_is_400", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodPost, "/v1/proposals/some-id/decision", `{"approved":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel_unknown_is_404", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodPost, "/v1/proposals/no-such-id/cancel", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
