// Package server is the HTTP boundary. Identity resolution and authorization
// happen upstream; handlers here only parse requests, resolve time
// expressions once per request, and invoke the coordinators.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iotflow/tierflow/internal/app/aggregate"
	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/app/coordinator"
	"github.com/iotflow/tierflow/internal/ports"
)

type Server struct {
	router *gin.Engine
	writer *coordinator.Writer
	reader *coordinator.Reader
	engine *aggregate.Engine
	store  ports.DurableStore
	cache  ports.CacheTier
	obs    ports.Observability
	cfg    *config.Config
}

func New(writer *coordinator.Writer, reader *coordinator.Reader, engine *aggregate.Engine, store ports.DurableStore, cache ports.CacheTier, obs ports.Observability, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router: gin.New(),
		writer: writer,
		reader: reader,
		engine: engine,
		store:  store,
		cache:  cache,
		obs:    obs,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := s.router.Group("/api/v1/telemetry")
	if s.cfg.Pipeline.RateLimitPerMinute > 0 {
		api.Use(s.rateLimit())
	}
	{
		api.POST("", s.handleSubmit)
		api.GET("/status", s.handleStatus)
		api.GET("/user/:user_id", s.handleGetUserRange)
		api.GET("/:device_id", s.handleGetRange)
		api.GET("/:device_id/latest", s.handleGetLatest)
		api.GET("/:device_id/aggregated", s.handleAggregate)
		api.DELETE("/:device_id", s.handleDeleteRange)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}
