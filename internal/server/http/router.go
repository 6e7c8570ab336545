// Package http exposes the context store and config evolution over gin.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "playground/internal/errors"
	"playground/internal/logging"
)

// Deps are the services the router serves.
type Deps struct {
	Contexts       ContextService
	Config         ConfigReader
	Evolution      EvolutionService
	Logger         logging.Logger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	StartedAt      time.Time
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger := logging.OrNop(deps.Logger)
	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	router := gin.New()
	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware(deps.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"uptime": time.Since(startedAt).Round(time.Second).String(),
		}
		if deps.Contexts != nil {
			body["contexts"] = deps.Contexts.Len()
		}
		c.JSON(http.StatusOK, body)
	})

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	if deps.Contexts != nil {
		contexts := NewContextHandler(deps.Contexts)
		group := api.Group("/contexts")
		group.POST("", contexts.Create)
		group.GET("", contexts.List)
		group.GET("/:id", contexts.Get)
		group.PUT("/:id", contexts.Update)
		group.DELETE("/:id", contexts.Delete)
		group.POST("/:id/append", contexts.Append)
	}
	if deps.Config != nil && deps.Evolution != nil {
		config := NewConfigHandler(deps.Config, deps.Evolution)
		group := api.Group("/config")
		group.GET("", config.Get)
		group.POST("/evolve", config.Evolve)
		group.GET("/evolutions", config.History)
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, apperrors.NotFound("route", c.Request.URL.Path))
	})
	return router
}
