// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package remediation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/generate"
)

type noopGenerator struct{}

func (noopGenerator) Generate(ctx context.Context, description string, regions []datatypes.FileRegion, n int) ([]generate.GeneratedFix, error) {
	return []generate.GeneratedFix{{
		Summary: "noop",
		ChangeSet: datatypes.ChangeSet{Edits: []datatypes.FileEdit{
			{Path: "marker.txt", Op: datatypes.EditModify, Content: "fixed\n"},
		}},
	}}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "marker.txt"), []byte("broken\n"), 0644))
	return Config{
		ProjectRoot: project,
		DataDir:     t.TempDir(),
		InMemory:    true,
		GinMode:     "test",
		MaxParallel: 2,
		Generator:   noopGenerator{},
		Commands: []datatypes.CommandSpec{
			{Name: "check", Command: "true", Severity: datatypes.SeverityRequired},
		},
	}
}

func TestNewRequiresProjectRoot(t *testing.T) {
	_, err := New(Config{Commands: []datatypes.CommandSpec{{Name: "x", Command: "true"}}})
	assert.ErrorContains(t, err, "ProjectRoot")
}

func TestNewRequiresVerificationCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands = nil
	_, err := New(cfg)
	assert.ErrorContains(t, err, "VerifyConfigPath")
}

func TestServiceServesPipeline(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	defer svc.Shutdown()

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/proposals",
		strings.NewReader(`{"description":"marker should say fixed"}`))
	req.Header.Set("Content-Type", "application/json")
	svc.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	svc.Workflow().Wait()

	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proposals?status=evaluated", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestVerifyConfigFromYAML(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands = nil
	cfg.VerifyConfigPath = filepath.Join(t.TempDir(), "verify.yaml")
	require.NoError(t, os.WriteFile(cfg.VerifyConfigPath, []byte(
		"commands:\n  - name: check\n    command: \"true\"\n"), 0644))

	svc, err := New(cfg)
	require.NoError(t, err)
	svc.Shutdown()
}
