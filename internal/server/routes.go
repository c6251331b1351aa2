package server

import (
	"github.com/nulzo/relay/internal/server/middleware"
	v1 "github.com/nulzo/relay/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.Tracing("relay"))
	s.router.Use(middleware.ErrorHandler())

	// Health check stays public
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst)

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.config.Server.APIKeys))
	api.Use(limiter.Middleware())
	{
		chatHandler := v1.NewChatHandler(s.orchestrator)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		modelHandler := v1.NewModelHandler(s.orchestrator)
		api.GET("/models", modelHandler.ListModels)
		api.GET("/models/:provider/:name", modelHandler.GetModel)
		api.GET("/providers/:id/models", modelHandler.ListRemoteModels)
		api.POST("/refresh", modelHandler.Refresh)

		usageHandler := v1.NewUsageHandler(s.orchestrator)
		api.GET("/usage", usageHandler.Report)
		api.GET("/usage/sessions/:id", usageHandler.Session)
		api.POST("/usage/export", usageHandler.Export)
	}
}
