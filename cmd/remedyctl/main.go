// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// remedyctl is the command line client for a running remedyd server.
//
// The server address comes from --server or the REMEDY_SERVER
// environment variable (default http://localhost:7420).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "remedyctl",
	Short: "Control a remedy remediation server",
	Long: `remedyctl drives the autonomous code remediation pipeline.

Submit a bug report, watch candidates get generated and evaluated in
sandboxes, then approve, apply, and (if needed) roll back the fix:

  remedyctl submit --description "NPE in parser on empty input"
  remedyctl list --status evaluated
  remedyctl get <id>
  remedyctl approve <id> --by alice
  remedyctl apply <id>
  remedyctl rollback <id>`,
	SilenceUsage: true,
}

func init() {
	defaultServer := os.Getenv("REMEDY_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:7420"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"remedyd base URL")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cancelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
