// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// remedyd is the remediation pipeline server.
//
// Configuration is environment driven:
//
//	REMEDY_PROJECT_ROOT    live source tree to remediate (required)
//	REMEDY_DATA_DIR        proposals, backups, sandboxes (default ./data/remedy)
//	REMEDY_PORT            HTTP listen port (default 7420)
//	REMEDY_VERIFY_CONFIG   YAML verification commands (default <project>/remedy.yaml)
//	REMEDY_MODEL           chat model for fix generation (default gpt-4o-mini)
//	REMEDY_OPENAI_BASE_URL OpenAI-compatible endpoint (vLLM, Ollama, llama.cpp)
//	OPENAI_API_KEY         generation API key
//	REMEDY_CANDIDATES      fixes requested per proposal (default 3)
//	REMEDY_MAX_PARALLEL    concurrent candidate evaluations (default 4)
//	REMEDY_RETAIN_FAILED   keep failing candidates' sandboxes ("true"/"false")
//	REMEDY_LOG_DIR         structured log file directory (empty: stderr only)
//	REMEDY_LOG_LEVEL       debug|info|warn|error (default info)
//	OTEL_EXPORTER_OTLP_ENDPOINT  OTLP collector; empty disables tracing
//	GIN_MODE               debug|release|test
package main

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/beehive-labs/remedy/pkg/logging"
	"github.com/beehive-labs/remedy/services/remediation"
)

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("ignoring non-numeric %s=%q", key, v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("ignoring non-boolean %s=%q", key, v)
	}
	return fallback
}

func main() {
	projectRoot := os.Getenv("REMEDY_PROJECT_ROOT")
	if projectRoot == "" {
		log.Fatal("REMEDY_PROJECT_ROOT is required")
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(getEnvString("REMEDY_LOG_LEVEL", "info")),
		LogDir:  os.Getenv("REMEDY_LOG_DIR"),
		Service: "remedyd",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := remediation.Config{
		ProjectRoot:           projectRoot,
		DataDir:               getEnvString("REMEDY_DATA_DIR", "./data/remedy"),
		Port:                  getEnvInt("REMEDY_PORT", 7420),
		GinMode:               os.Getenv("GIN_MODE"),
		OTelEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableMetrics:         true,
		VerifyConfigPath:      getEnvString("REMEDY_VERIFY_CONFIG", filepath.Join(projectRoot, "remedy.yaml")),
		Model:                 getEnvString("REMEDY_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:         os.Getenv("REMEDY_OPENAI_BASE_URL"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		CandidateCount:        getEnvInt("REMEDY_CANDIDATES", 0),
		MaxParallel:           getEnvInt("REMEDY_MAX_PARALLEL", 0),
		RetainFailedSandboxes: getEnvBool("REMEDY_RETAIN_FAILED", false),
		Logger:                logger.Slog(),
	}

	svc, err := remediation.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize remediation service: %v", err)
	}
	if err := svc.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
