package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"grantflow/internal/escrow"
)

type ProjectHandler struct {
	schedule *escrow.Schedule
	machine  *escrow.StateMachine
}

func NewProjectHandler(schedule *escrow.Schedule, machine *escrow.StateMachine) *ProjectHandler {
	return &ProjectHandler{
		schedule: schedule,
		machine:  machine,
	}
}

// CreateProject handles POST /projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req escrow.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	project, stages, err := h.schedule.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"project": project,
		"stages":  stages,
	})
}

// GetSchedule handles GET /projects/:id/schedule
func (h *ProjectHandler) GetSchedule(c *gin.Context) {
	project, stages, err := h.machine.GetProjectSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"stages":  stages,
	})
}
