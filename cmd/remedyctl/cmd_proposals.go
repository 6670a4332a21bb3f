// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	submitTitle       string
	submitDescription string
	submitReportedBy  string

	listStatus     string
	listJSONOutput bool

	getJSONOutput bool

	decideBy       string
	decideNotes    string
	decideOverride bool
)

// =============================================================================
// SUBMIT
// =============================================================================

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a bug report for autonomous remediation",
	Long: `Submits a bug report. The server generates candidate fixes with an
LLM, evaluates each one in an isolated sandbox against the project's
verification commands, and ranks the results for review.

The command returns immediately with the new proposal ID; evaluation
runs in the background. Poll with "remedyctl get <id>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := func() (*datatypes.Proposal, error) {
			var p datatypes.Proposal
			body := map[string]string{
				"title":       submitTitle,
				"description": submitDescription,
				"reported_by": submitReportedBy,
			}
			if err := doRequest(http.MethodPost, "/v1/proposals", body, &p); err != nil {
				return nil, err
			}
			return &p, nil
		}()
		if err != nil {
			return err
		}
		fmt.Printf("Submitted proposal %s (status: %s)\n", p.ID, p.Status)
		return nil
	},
}

// =============================================================================
// LIST & GET
// =============================================================================

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		proposals, err := listProposals(listStatus)
		if err != nil {
			return err
		}
		if listJSONOutput {
			return printJSON(proposals)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCANDIDATES\tTITLE\tCREATED")
		for _, p := range proposals {
			title := p.Title
			if title == "" {
				title = truncate(p.Description, 40)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				p.ID, p.Status, len(p.Candidates), title,
				p.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <proposal-id>",
	Short: "Show one proposal with its ranked candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getProposal(args[0])
		if err != nil {
			return err
		}
		if getJSONOutput {
			return printJSON(p)
		}

		fmt.Printf("Proposal:    %s\n", p.ID)
		fmt.Printf("Status:      %s\n", p.Status)
		if p.Title != "" {
			fmt.Printf("Title:       %s\n", p.Title)
		}
		fmt.Printf("Description: %s\n", truncate(p.Description, 120))
		if p.FailureReason != "" {
			fmt.Printf("Failure:     %s\n", p.FailureReason)
		}
		if p.Decision != nil {
			verdict := "rejected"
			if p.Decision.Approved {
				verdict = "approved"
			}
			fmt.Printf("Decision:    %s by %s", verdict, p.Decision.DecidedBy)
			if p.Decision.Override {
				fmt.Print(" (override)")
			}
			fmt.Println()
		}
		if p.BackupID != "" {
			fmt.Printf("Backup:      %s\n", p.BackupID)
		}

		if len(p.Candidates) > 0 {
			fmt.Println("\nCandidates:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  RANK\tID\tPASS RATE\tRISK\tFILES\tSUMMARY")
			for _, c := range p.Candidates {
				marker := " "
				if c.ID == p.SelectedCandidateID {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %d\t%s\t%.0f%%\t%d\t%d\t%s\n",
					marker, c.Rank, c.ID, c.PassRate*100, c.RiskScore,
					len(c.ChangeSet.Edits), truncate(c.Summary, 50))
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		return nil
	},
}

// =============================================================================
// DECISIONS & LIFECYCLE
// =============================================================================

var approveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve an evaluated proposal for apply",
	Long: `Approves the selected candidate of an evaluated proposal.

If the candidate's verification pass rate is below 100%, the server
refuses the approval unless --override is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecision(args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject an evaluated proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecision(args[0], false)
	},
}

func runDecision(id string, approved bool) error {
	p, err := postProposalAction(id, "decision", map[string]any{
		"approved":   approved,
		"decided_by": decideBy,
		"notes":      decideNotes,
		"override":   decideOverride,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Proposal %s is now %s\n", p.ID, p.Status)
	return nil
}

var applyCmd = &cobra.Command{
	Use:   "apply <proposal-id>",
	Short: "Apply an approved proposal to the live tree",
	Long: `Applies the approved change set. The server snapshots every touched
file first; if any write fails the snapshot is restored automatically
and the proposal stays approved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := postProposalAction(args[0], "apply", nil)
		if err != nil {
			return err
		}
		fmt.Printf("Applied proposal %s (backup: %s)\n", p.ID, p.BackupID)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <proposal-id>",
	Short: "Restore the pre-apply backup of an applied proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := postProposalAction(args[0], "rollback", nil)
		if err != nil {
			return err
		}
		fmt.Printf("Rolled back proposal %s\n", p.ID)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <proposal-id>",
	Short: "Withdraw a proposal that has not finished evaluation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := postProposalAction(args[0], "cancel", nil)
		if err != nil {
			return err
		}
		fmt.Printf("Cancelled proposal %s\n", p.ID)
		return nil
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	submitCmd.Flags().StringVarP(&submitTitle, "title", "t", "", "Short title for the bug report")
	submitCmd.Flags().StringVarP(&submitDescription, "description", "d", "", "Bug report description (required)")
	submitCmd.Flags().StringVar(&submitReportedBy, "by", "", "Reporter identity")
	_ = submitCmd.MarkFlagRequired("description")

	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by lifecycle status")
	listCmd.Flags().BoolVar(&listJSONOutput, "json", false, "Output as JSON for scripting")

	getCmd.Flags().BoolVar(&getJSONOutput, "json", false, "Output as JSON for scripting")

	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&decideBy, "by", "", "Decider identity (required)")
		c.Flags().StringVar(&decideNotes, "notes", "", "Decision notes")
		_ = c.MarkFlagRequired("by")
	}
	approveCmd.Flags().BoolVar(&decideOverride, "override", false,
		"Approve despite a pass rate below 100%")
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// truncate shortens s to at most n runes, appending "..." when it
// cuts. Rune-based so multibyte titles are never split mid-character.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
