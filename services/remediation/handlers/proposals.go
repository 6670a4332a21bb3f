// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin HTTP handlers for the remediation
// API. Handlers are thin: they bind the request, call the workflow,
// and map typed errors to HTTP statuses.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beehive-labs/remedy/services/remediation/backup"
	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/generate"
	"github.com/beehive-labs/remedy/services/remediation/store"
	"github.com/beehive-labs/remedy/services/remediation/workflow"
)

// SubmitProposalRequest is the body of POST /v1/proposals.
type SubmitProposalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description" binding:"required"`
	ReportedBy  string `json:"reported_by"`
}

// DecisionRequest is the body of POST /v1/proposals/:id/decision.
type DecisionRequest struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by" binding:"required"`
	Notes     string `json:"notes"`
	Override  bool   `json:"override"`
}

// SubmitProposal accepts a bug report and starts background
// evaluation. Returns 202 with the proposed record.
func SubmitProposal(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitProposalRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		p, err := wf.Submit(c.Request.Context(), req.Title, req.Description, req.ReportedBy)
		if err != nil {
			slog.Error("proposal submission failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, p)
	}
}

// GetProposal returns one proposal by ID.
func GetProposal(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := wf.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// ListProposals returns proposals newest-first. The optional ?status=
// query narrows the list to one lifecycle state.
func ListProposals(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		var status datatypes.Status
		if s := c.Query("status"); s != "" {
			status = datatypes.Status(s)
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + s})
				return
			}
		}

		list, err := wf.List(c.Request.Context(), status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposals": list, "count": len(list)})
	}
}

// DecideProposal records an approval or rejection.
func DecideProposal(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DecisionRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		p, err := wf.Decide(c.Request.Context(), c.Param("id"), req.Approved, req.DecidedBy, req.Notes, req.Override)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// ApplyProposal writes an approved proposal's change set to the live
// tree.
func ApplyProposal(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := wf.Apply(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// RollbackProposal restores the pre-apply backup of an applied
// proposal.
func RollbackProposal(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := wf.Rollback(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// CancelProposal withdraws a proposal that has not finished
// evaluation.
func CancelProposal(wf *workflow.Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := wf.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "remedy"})
}

// respondError maps the pipeline's typed errors to HTTP statuses.
//
//	404 unknown proposal
//	409 invalid state transition or contested file paths
//	422 apply failed and was reverted, or restore was partial
//	502 upstream fix generation failed
//	500 everything else
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrInvalidTransition):
		var ste *datatypes.StateTransitionError
		body := gin.H{"error": err.Error()}
		if errors.As(err, &ste) {
			body["from"] = ste.From
			body["to"] = ste.To
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, workflow.ErrPathsLocked):
		var pce *workflow.PathConflictError
		body := gin.H{"error": err.Error()}
		if errors.As(err, &pce) {
			body["held_by"] = pce.HeldBy
			body["paths"] = pce.Paths
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, workflow.ErrApplyReverted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reverted": true})
	case errors.Is(err, backup.ErrPartialRestore):
		var pre *backup.PartialRestoreError
		body := gin.H{"error": err.Error()}
		if errors.As(err, &pre) {
			body["restored"] = pre.Restored
			body["failed"] = pre.Failed
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, generate.ErrGenerationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
