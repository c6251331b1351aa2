// Package server wires the HTTP surface: routing, middleware, and the v1
// handler set.
package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/orchestrator"
	"github.com/nulzo/relay/internal/server/validator"
)

type Server struct {
	router       *gin.Engine
	config       *config.Config
	logger       *zap.Logger
	orchestrator *orchestrator.Orchestrator
}

func New(cfg *config.Config, logger *zap.Logger, orch *orchestrator.Orchestrator) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.InitValidator()

	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{
		router:       engine,
		config:       cfg,
		logger:       logger,
		orchestrator: orch,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
