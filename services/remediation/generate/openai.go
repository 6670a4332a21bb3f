// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// systemPrompt instructs the model to emit machine-readable fixes.
const systemPrompt = `You are a code remediation engine. Given a bug report, produce
independent candidate fixes as strict JSON. Respond with ONLY a JSON array:

[
  {
    "summary": "one line describing the approach",
    "edits": [
      {"path": "relative/file.go", "op": "modify", "content": "full new file contents"},
      {"path": "relative/new.go", "op": "create", "content": "..."},
      {"path": "relative/old.go", "op": "delete"}
    ]
  }
]

Rules: ops are modify, create, or delete. Paths are relative to the
project root. Each candidate must be a complete, self-contained fix.`

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	// BaseURL points at any OpenAI-compatible endpoint. Empty uses
	// the upstream default; local gateways (llama.cpp, ollama,
	// vLLM) work by setting this.
	BaseURL string

	// APIKey may be a dummy value for local endpoints.
	APIKey string

	// Model is the chat model name. Required.
	Model string

	// Temperature defaults to 0.2; candidates gain diversity from
	// sampling, correctness from the sandbox.
	Temperature float32

	// Logger defaults to slog.Default() with component=generate.
	Logger *slog.Logger
}

// OpenAIGenerator implements Generator over a chat-completions API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIGenerator validates config and builds the client.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai generator requires a model")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "generate")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Generate asks the model for n candidate fixes and decodes whatever
// valid subset comes back. Malformed entries are dropped; an entirely
// unusable response returns ErrGenerationFailed.
func (g *OpenAIGenerator) Generate(ctx context.Context, description string, regions []datatypes.FileRegion, n int) ([]GeneratedFix, error) {
	if n <= 0 {
		n = 1
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(description, regions, n)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	fixes, err := decodeFixes(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(fixes) > n {
		fixes = fixes[:n]
	}

	g.logger.Info("candidates generated",
		"model", g.cfg.Model,
		"requested", n,
		"returned", len(fixes),
	)
	return fixes, nil
}

// buildUserPrompt assembles the bug report and localized context.
func buildUserPrompt(description string, regions []datatypes.FileRegion, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce %d independent candidate fixes for this bug report:\n\n%s\n", n, description)
	if len(regions) > 0 {
		b.WriteString("\nLikely affected regions:\n")
		for _, r := range regions {
			if r.StartLine > 0 {
				fmt.Fprintf(&b, "- %s lines %d-%d (confidence %.2f)\n", r.Path, r.StartLine, r.EndLine, r.Confidence)
			} else {
				fmt.Fprintf(&b, "- %s (confidence %.2f)\n", r.Path, r.Confidence)
			}
		}
	}
	return b.String()
}

// =============================================================================
// Response Decoding
// =============================================================================

// wireFix is the JSON layout the model is instructed to emit.
type wireFix struct {
	Summary string `json:"summary"`
	Edits   []struct {
		Path    string `json:"path"`
		Op      string `json:"op"`
		Content string `json:"content"`
		Diff    string `json:"diff"`
	} `json:"edits"`
}

// decodeFixes extracts the JSON array from a model response and maps
// the valid entries to GeneratedFix values. The raw JSON of each
// entry is kept as Metadata.
func decodeFixes(content string) ([]GeneratedFix, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON array in response", ErrGenerationFailed)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	fixes := make([]GeneratedFix, 0, len(entries))
	for _, entry := range entries {
		fix, err := decodeFix(entry)
		if err != nil {
			// Drop the bad entry, keep the rest.
			continue
		}
		fixes = append(fixes, fix)
	}
	if len(fixes) == 0 {
		return nil, fmt.Errorf("%w: no usable fix in %d entr(ies)", ErrGenerationFailed, len(entries))
	}
	return fixes, nil
}

// decodeFix validates one wire entry.
func decodeFix(entry json.RawMessage) (GeneratedFix, error) {
	var w wireFix
	if err := json.Unmarshal(entry, &w); err != nil {
		return GeneratedFix{}, fmt.Errorf("%w: %w", ErrMalformedFix, err)
	}
	if len(w.Edits) == 0 {
		return GeneratedFix{}, fmt.Errorf("%w: fix has no edits", ErrMalformedFix)
	}

	cs := datatypes.ChangeSet{Edits: make([]datatypes.FileEdit, 0, len(w.Edits))}
	for _, e := range w.Edits {
		op := datatypes.EditOp(e.Op)
		if !op.Valid() || e.Path == "" {
			return GeneratedFix{}, fmt.Errorf("%w: edit %q/%q", ErrMalformedFix, e.Op, e.Path)
		}
		if op != datatypes.EditDelete && e.Content == "" && e.Diff == "" {
			return GeneratedFix{}, fmt.Errorf("%w: %s edit for %s carries no content", ErrMalformedFix, op, e.Path)
		}
		cs.Edits = append(cs.Edits, datatypes.FileEdit{
			Path:    e.Path,
			Op:      op,
			Content: e.Content,
			Diff:    e.Diff,
		})
	}

	return GeneratedFix{Summary: w.Summary, ChangeSet: cs, Metadata: entry}, nil
}

// extractJSONArray pulls the array out of a possibly fenced response.
func extractJSONArray(content string) string {
	// Prefer a ```json fence.
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	// Fall back to the outermost brackets.
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		return strings.TrimSpace(content[start : end+1])
	}
	return ""
}
