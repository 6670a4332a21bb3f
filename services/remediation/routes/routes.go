// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/beehive-labs/remedy/services/remediation/handlers"
	"github.com/beehive-labs/remedy/services/remediation/workflow"
)

func SetupRoutes(router *gin.Engine, wf *workflow.Workflow) {
	router.GET("/health", handlers.HealthCheck)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		proposals := v1.Group("/proposals")
		{
			proposals.POST("", handlers.SubmitProposal(wf))
			proposals.GET("", handlers.ListProposals(wf))
			proposals.GET("/:id", handlers.GetProposal(wf))
			proposals.POST("/:id/decision", handlers.DecideProposal(wf))
			proposals.POST("/:id/apply", handlers.ApplyProposal(wf))
			proposals.POST("/:id/rollback", handlers.RollbackProposal(wf))
			proposals.POST("/:id/cancel", handlers.CancelProposal(wf))
		}
	}
}
