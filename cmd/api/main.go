package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanium/enricher/internal/api"
	"github.com/scanium/enricher/internal/api/middleware"
	"github.com/scanium/enricher/internal/app"
	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/logger"
)

func main() {
	// Logging is configured from the environment before anything else runs.
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enricher, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize enrichment pipeline")
	}

	appLogger.WithFields(logger.Fields{
		"vision_provider":  cfg.Vision.Provider,
		"draft_provider":   cfg.Draft.Provider,
		"max_concurrent":   cfg.Enrich.MaxConcurrent,
		"vision_timeout":   cfg.Enrich.VisionTimeout().String(),
		"draft_timeout":    cfg.Enrich.DraftTimeout().String(),
		"result_retention": cfg.Enrich.ResultRetention().String(),
		"draft_enabled":    cfg.Enrich.EnableDraftGeneration,
	}).Info("Enrichment pipeline ready")

	if len(cfg.Auth.APIKeys) == 0 {
		appLogger.Warn("No API keys configured, enrichment endpoints will reject every request")
	}

	router := api.SetupRouter(enricher.Pipeline, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		APIKeys:       cfg.Auth.APIKeys,
		MaxImageBytes: cfg.Enrich.MaxImageBytes,
		Logger:        appLogger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// In-flight jobs keep running after the listener closes; give them the
	// rest of the shutdown window.
	if err := enricher.Close(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Enrichment jobs cancelled before completion")
	}

	appLogger.Info("Server exited")
}
