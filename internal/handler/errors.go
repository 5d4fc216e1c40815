package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"grantflow/internal/escrow"
)

// writeError 把领域错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, escrow.ErrInvalidSchedule),
		errors.Is(err, escrow.ErrInvalidEvidenceType),
		errors.Is(err, escrow.ErrInvalidChoice),
		errors.Is(err, escrow.ErrEmptySignature),
		errors.Is(err, escrow.ErrInvalidVotingPower):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrUnknownVoter):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrInvalidTransition),
		errors.Is(err, escrow.ErrInvalidStateForEvidence),
		errors.Is(err, escrow.ErrAlreadySnapshotted),
		errors.Is(err, escrow.ErrTallyAlreadyOpen),
		errors.Is(err, escrow.ErrTallyClosed),
		errors.Is(err, escrow.ErrReleaseNotRetryable),
		errors.Is(err, escrow.ErrScheduleHalted),
		errors.Is(err, escrow.ErrEmptyRoster):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
