// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import (
	"errors"
	"strings"
	"testing"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

const goodResponse = `Here are the fixes:
` + "```json" + `
[
  {
    "summary": "guard against nil input",
    "edits": [
      {"path": "parser.go", "op": "modify", "content": "package parser\n"}
    ]
  },
  {
    "summary": "validate at the call site",
    "edits": [
      {"path": "caller.go", "op": "modify", "content": "package caller\n"},
      {"path": "caller_test.go", "op": "create", "content": "package caller\n"}
    ]
  }
]
` + "```"

func TestDecodeFixes(t *testing.T) {
	fixes, err := decodeFixes(goodResponse)
	if err != nil {
		t.Fatalf("decodeFixes() error = %v", err)
	}
	if len(fixes) != 2 {
		t.Fatalf("got %d fixes, want 2", len(fixes))
	}
	if fixes[0].Summary != "guard against nil input" {
		t.Errorf("Summary = %q", fixes[0].Summary)
	}
	if len(fixes[1].ChangeSet.Edits) != 2 {
		t.Errorf("fix 2 has %d edits, want 2", len(fixes[1].ChangeSet.Edits))
	}
	if fixes[1].ChangeSet.Edits[1].Op != datatypes.EditCreate {
		t.Errorf("edit op = %q, want create", fixes[1].ChangeSet.Edits[1].Op)
	}
	if len(fixes[0].Metadata) == 0 {
		t.Error("raw metadata not preserved")
	}
	if !strings.Contains(string(fixes[0].Metadata), "guard against nil input") {
		t.Error("metadata does not carry the raw entry")
	}
}

func TestDecodeFixesUnfenced(t *testing.T) {
	response := `[{"summary": "s", "edits": [{"path": "a.go", "op": "delete"}]}]`
	fixes, err := decodeFixes(response)
	if err != nil {
		t.Fatalf("decodeFixes() error = %v", err)
	}
	if len(fixes) != 1 || fixes[0].ChangeSet.Edits[0].Op != datatypes.EditDelete {
		t.Errorf("unexpected fixes: %+v", fixes)
	}
}

func TestDecodeFixesDropsMalformedEntries(t *testing.T) {
	response := `[
	  {"summary": "bad op", "edits": [{"path": "a.go", "op": "explode"}]},
	  {"summary": "no edits", "edits": []},
	  {"summary": "missing content", "edits": [{"path": "a.go", "op": "modify"}]},
	  {"summary": "good", "edits": [{"path": "a.go", "op": "modify", "content": "x"}]}
	]`
	fixes, err := decodeFixes(response)
	if err != nil {
		t.Fatalf("decodeFixes() error = %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("got %d fixes, want 1 survivor", len(fixes))
	}
	if fixes[0].Summary != "good" {
		t.Errorf("wrong survivor: %q", fixes[0].Summary)
	}
}

func TestDecodeFixesAllBad(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"prose_only", "I could not produce a fix, sorry."},
		{"invalid_json", "```json\n[{broken]\n```"},
		{"all_entries_malformed", `[{"summary": "x", "edits": []}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFixes(tt.response)
			if !errors.Is(err, ErrGenerationFailed) {
				t.Errorf("error = %v, want ErrGenerationFailed", err)
			}
		})
	}
}

func TestBuildUserPrompt(t *testing.T) {
	regions := []datatypes.FileRegion{
		{Path: "parser.go", StartLine: 10, EndLine: 40, Confidence: 0.9},
		{Path: "lexer.go", Confidence: 0.4},
	}
	prompt := buildUserPrompt("crash on empty input", regions, 3)

	for _, want := range []string{"3 independent candidate fixes", "crash on empty input", "parser.go lines 10-40", "lexer.go"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestNewOpenAIGeneratorRequiresModel(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{}); err == nil {
		t.Error("expected error without model")
	}
	if g, err := NewOpenAIGenerator(OpenAIConfig{Model: "qwen2.5-coder", BaseURL: "http://localhost:8080/v1"}); err != nil || g == nil {
		t.Errorf("NewOpenAIGenerator() = %v, %v", g, err)
	}
}
