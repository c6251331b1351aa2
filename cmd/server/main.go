package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/relay/cmd"
	"github.com/nulzo/relay/internal/cache"
	"github.com/nulzo/relay/internal/catalog"
	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/costtrack"
	"github.com/nulzo/relay/internal/logger"
	"github.com/nulzo/relay/internal/orchestrator"
	"github.com/nulzo/relay/internal/pricing"
	"github.com/nulzo/relay/internal/platform/otel"
	"github.com/nulzo/relay/internal/registry"
	"github.com/nulzo/relay/internal/server"

	// Import providers to trigger init() registration
	_ "github.com/nulzo/relay/internal/providers/anthropic"
	_ "github.com/nulzo/relay/internal/providers/google"
	_ "github.com/nulzo/relay/internal/providers/ollama"
	_ "github.com/nulzo/relay/internal/providers/openai"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Initialize(cfg.Server.Env)
	defer logger.Sync()

	cmd.CheckForUpdates()

	shutdownTracer, err := otel.InitTracer("relay", os.Stdout)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Catalog files on disk win; the built-in seed covers first boot
	file, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}
	if len(file.Models) == 0 {
		file.Models = catalog.Seed()
	}
	reg := registry.New(file)
	logger.Info("model registry loaded", zap.Int("models", len(file.Models)))

	tracker := costtrack.NewTracker(pricing.New(reg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ingestor *costtrack.Ingestor
	if cfg.CostTracking.Enabled {
		store, err := costtrack.NewStore(cfg.CostTracking.LogPath)
		if err != nil {
			logger.Fatal("failed to open usage store", zap.Error(err))
		}
		defer store.Close()

		// The worker must outlive the signal context so records logged
		// during the HTTP drain still persist; Stop does the final flush.
		ingestor = costtrack.NewIngestor(store)
		ingestor.Start(context.Background())
		tracker.WithSink(ingestor)
	}

	var c cache.Cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		c = redisCache
	} else {
		c = cache.NewMemory()
	}

	orch, err := orchestrator.New(cfg, reg, tracker, c)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	srv := server.New(cfg, logger.Get(), orch)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	if ingestor != nil {
		ingestor.Stop()
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", zap.Error(err))
	}
}
