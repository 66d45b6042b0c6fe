package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/bibflow/holdingpen-backend/internal/http/handlers"
	httpMW "github.com/bibflow/holdingpen-backend/internal/http/middleware"
)

type RouterConfig struct {
	WorkflowHandler *httpH.WorkflowHandler
	CallbackHandler *httpH.CallbackHandler
	EventsHandler   *httpH.EventsHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.WorkflowHandler != nil {
			api.POST("/submissions", cfg.WorkflowHandler.CreateSubmission)
			api.GET("/holdingpen/:id", cfg.WorkflowHandler.GetRun)
			api.POST("/holdingpen/:id/resume", cfg.WorkflowHandler.ResumeRun)
			api.POST("/holdingpen/:id/restart", cfg.WorkflowHandler.RestartRun)
		}
		if cfg.EventsHandler != nil {
			api.GET("/events/workflows", cfg.EventsHandler.Stream)
		}
	}

	// Legacy systems post here; no auth beyond the unguessable nonce.
	callback := r.Group("/callback/workflows")
	{
		if cfg.CallbackHandler != nil {
			callback.POST("/robotupload", cfg.CallbackHandler.Robotupload)
			callback.POST("/webcoll", cfg.CallbackHandler.Webcoll)
		}
	}

	return r
}
