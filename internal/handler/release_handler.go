package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"grantflow/internal/escrow"
)

type ReleaseHandler struct {
	machine  *escrow.StateMachine
	releases escrow.ReleaseStore
}

func NewReleaseHandler(machine *escrow.StateMachine, releases escrow.ReleaseStore) *ReleaseHandler {
	return &ReleaseHandler{
		machine:  machine,
		releases: releases,
	}
}

// RetryRelease handles POST /releases/:id/retry -- 仅限失败的放款指令
func (h *ReleaseHandler) RetryRelease(c *gin.Context) {
	rel, err := h.releases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.machine.RetryRelease(c.Request.Context(), rel.MilestoneID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "requeued"})
}
