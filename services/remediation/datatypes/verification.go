// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Verification Commands
// =============================================================================

// Severity classifies a verification command.
type Severity string

const (
	// SeverityRequired commands gate the candidate: a failure marks
	// the candidate failed and skips the remaining commands.
	SeverityRequired Severity = "required"

	// SeverityAdvisory commands inform risk assessment only; their
	// failure never fails the candidate by itself.
	SeverityAdvisory Severity = "advisory"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityRequired || s == SeverityAdvisory
}

// CommandStatus is the outcome of one verification command.
type CommandStatus string

const (
	CommandPassed  CommandStatus = "passed"
	CommandFailed  CommandStatus = "failed"
	CommandSkipped CommandStatus = "skipped"
)

// DefaultCommandTimeout bounds a verification command when its spec
// does not set one.
const DefaultCommandTimeout = 60 * time.Second

// CommandSpec declares one verification command to run inside a
// sandbox, in order, with a wall-clock timeout.
type CommandSpec struct {
	// Name labels the command in results ("lint", "unit-tests").
	Name string `json:"name" yaml:"name"`

	// Command is the executable; Args are passed verbatim. The
	// command runs with the sandbox root as working directory.
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args"`

	// Severity defaults to required when empty.
	Severity Severity `json:"severity" yaml:"severity"`

	// TimeoutSeconds bounds execution; 0 means DefaultCommandTimeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
}

// Timeout returns the effective wall-clock limit for the command.
func (c CommandSpec) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks the spec for the fields the runner depends on.
func (c CommandSpec) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("command spec missing name")
	}
	if c.Command == "" {
		return fmt.Errorf("command spec %q missing command", c.Name)
	}
	if c.Severity != "" && !c.Severity.Valid() {
		return fmt.Errorf("command spec %q has unknown severity %q", c.Name, c.Severity)
	}
	return nil
}

// commandFile is the YAML layout of a verification config file.
type commandFile struct {
	Commands []CommandSpec `yaml:"commands"`
}

// LoadCommandSpecs reads verification commands from a YAML file:
//
//	commands:
//	  - name: lint
//	    command: golangci-lint
//	    args: ["run"]
//	    severity: advisory
//	    timeout_seconds: 30
//	  - name: unit-tests
//	    command: make
//	    args: ["test"]
//	    severity: required
//
// Empty severities default to required.
func LoadCommandSpecs(path string) ([]CommandSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command config: %w", err)
	}

	var file commandFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse command config %s: %w", path, err)
	}
	if len(file.Commands) == 0 {
		return nil, fmt.Errorf("command config %s declares no commands", path)
	}

	for i := range file.Commands {
		if file.Commands[i].Severity == "" {
			file.Commands[i].Severity = SeverityRequired
		}
		if err := file.Commands[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Commands, nil
}

// =============================================================================
// Verification Results
// =============================================================================

// CommandResult records one verification command execution.
type CommandResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Severity Severity      `json:"severity"`
	Status   CommandStatus `json:"status"`

	// ExitCode is -1 when the process never produced one (timeout,
	// spawn failure, skipped).
	ExitCode int `json:"exit_code"`

	// Stdout and Stderr are capped captures; see sandbox.MaxCaptureBytes.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	DurationMS int64 `json:"duration_ms"`

	// TimedOut marks a command killed at its wall-clock limit.
	// Timed-out commands always count as failed.
	TimedOut bool `json:"timed_out"`
}

// TestSummary aggregates the verification results of one candidate.
type TestSummary struct {
	Results []CommandResult `json:"results"`
	Passed  int             `json:"passed"`
	Failed  int             `json:"failed"`
	Skipped int             `json:"skipped"`

	// PassRate is Passed/(Passed+Failed); 0 when nothing ran.
	PassRate float64 `json:"pass_rate"`
}

// Summarize tallies command results into a TestSummary. Skipped
// commands are excluded from the pass-rate denominator.
func Summarize(results []CommandResult) TestSummary {
	s := TestSummary{Results: results}
	for _, r := range results {
		switch r.Status {
		case CommandPassed:
			s.Passed++
		case CommandFailed:
			s.Failed++
		case CommandSkipped:
			s.Skipped++
		}
	}
	if s.Passed+s.Failed > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Passed+s.Failed)
	}
	return s
}
