package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coregx/hookrelay"
)

// Gin modes accepted by NewRouter.
const (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

// NewRouter builds the HTTP API on a fresh gin engine.
func NewRouter(h *Handler, logger hookrelay.Logger, mode string) *gin.Engine {
	switch mode {
	case ReleaseMode:
		gin.SetMode(gin.ReleaseMode)
	case TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(Logging(logger))

	engine.GET("/health", h.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	events := engine.Group("/events")
	{
		events.POST("", h.SubmitEvent)
		events.POST("/batch", h.SubmitBatch)
		events.GET("", h.ListEvents)
		events.GET("/:id", h.GetEvent)
	}

	engine.GET("/deliveries/:id", h.GetDelivery)

	subs := engine.Group("/subscriptions")
	{
		subs.POST("", h.CreateSubscription)
		subs.GET("", h.ListSubscriptions)
		subs.GET("/:id", h.GetSubscription)
		subs.PATCH("/:id", h.UpdateSubscription)
		subs.DELETE("/:id", h.DeleteSubscription)
		subs.POST("/:id/pause", h.PauseSubscription)
		subs.POST("/:id/resume", h.ResumeSubscription)
		subs.POST("/:id/rotate-secret", h.RotateSecret)
	}

	dlq := engine.Group("/dlq")
	{
		dlq.GET("", h.ListDLQ)
		dlq.GET("/stats", h.DLQStats)
		dlq.POST("/retry", h.ReplayDLQBatch)
		dlq.POST("/:id/retry", h.ReplayDLQ)
	}

	return engine
}
