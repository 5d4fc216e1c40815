package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"grantflow/internal/handler"
	"grantflow/pkg/rbac"
)

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func() bool

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	projectHandler *handler.ProjectHandler,
	milestoneHandler *handler.MilestoneHandler,
	releaseHandler *handler.ReleaseHandler,
	outboxHandler *handler.OutboxHandler,
	jwtSecret string,
	logger *zap.Logger,
	readiness map[string]ReadinessCheck,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(LoggingMiddleware(logger))

	// Public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		result := gin.H{}
		ready := true
		for name, check := range readiness {
			ok := check()
			result[name] = ok
			ready = ready && ok
		}
		if !ready {
			c.JSON(http.StatusServiceUnavailable, result)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/projects", RequirePermission(rbac.PermissionCreateProject), projectHandler.CreateProject)
		auth.GET("/projects/:id/schedule", RequirePermission(rbac.PermissionReadSchedule), projectHandler.GetSchedule)

		auth.GET("/milestones/:id", RequirePermission(rbac.PermissionReadSchedule), milestoneHandler.GetMilestone)
		auth.POST("/milestones/:id/evidence", RequirePermission(rbac.PermissionSubmitEvidence), milestoneHandler.SubmitEvidence)
		auth.GET("/milestones/:id/evidence", RequirePermission(rbac.PermissionReadSchedule), milestoneHandler.ListEvidence)
		auth.POST("/milestones/:id/voting/open", RequirePermission(rbac.PermissionOpenVoting), milestoneHandler.OpenVoting)
		auth.POST("/milestones/:id/votes", RequirePermission(rbac.PermissionCastVote), milestoneHandler.CastVote)
		auth.POST("/milestones/:id/reject", RequirePermission(rbac.PermissionRejectStage), milestoneHandler.Reject)

		auth.POST("/releases/:id/retry", RequirePermission(rbac.PermissionRetryRelease), releaseHandler.RetryRelease)
		auth.POST("/outbox/replay", RequirePermission(rbac.PermissionRetryRelease), outboxHandler.ReplayFailed)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
