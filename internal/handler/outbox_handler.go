package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"grantflow/pkg/outbox"
)

type OutboxHandler struct {
	replay *outbox.ReplayService
}

func NewOutboxHandler(replay *outbox.ReplayService) *OutboxHandler {
	return &OutboxHandler{replay: replay}
}

// ReplayFailed handles POST /outbox/replay -- 运维通道，重放发送失败的事件
func (h *OutboxHandler) ReplayFailed(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	replayed, err := h.replay.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"replayed": replayed})
}
