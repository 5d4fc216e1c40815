package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"grantflow/internal/escrow"
)

type MilestoneHandler struct {
	machine  *escrow.StateMachine
	evidence *escrow.EvidenceLog
}

func NewMilestoneHandler(machine *escrow.StateMachine, evidence *escrow.EvidenceLog) *MilestoneHandler {
	return &MilestoneHandler{
		machine:  machine,
		evidence: evidence,
	}
}

// GetMilestone handles GET /milestones/:id
func (h *MilestoneHandler) GetMilestone(c *gin.Context) {
	state, err := h.machine.GetMilestoneState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// SubmitEvidence handles POST /milestones/:id/evidence
func (h *MilestoneHandler) SubmitEvidence(c *gin.Context) {
	var req struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	item, err := h.evidence.Submit(c.Request.Context(), c.Param("id"), req.Type, req.URL)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

// ListEvidence handles GET /milestones/:id/evidence
func (h *MilestoneHandler) ListEvidence(c *gin.Context) {
	items, err := h.evidence.ListFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"evidence": items})
}

// OpenVoting handles POST /milestones/:id/voting/open
func (h *MilestoneHandler) OpenVoting(c *gin.Context) {
	if err := h.machine.OpenVoting(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "voting"})
}

// CastVote handles POST /milestones/:id/votes
func (h *MilestoneHandler) CastVote(c *gin.Context) {
	var req struct {
		Choice    string `json:"choice"`
		Signature string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	voterID, exists := c.Get("subject")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	result, err := h.machine.CastVote(c.Request.Context(), c.Param("id"), voterID.(string), req.Choice, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Reject handles POST /milestones/:id/reject
func (h *MilestoneHandler) Reject(c *gin.Context) {
	if err := h.machine.Reject(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}
