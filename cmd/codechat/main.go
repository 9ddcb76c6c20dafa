package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/api"
	"github.com/tunablelabs/codebase-rag/internal/backend"
	"github.com/tunablelabs/codebase-rag/internal/catalog"
	"github.com/tunablelabs/codebase-rag/internal/config"
	"github.com/tunablelabs/codebase-rag/internal/repository"
	"github.com/tunablelabs/codebase-rag/internal/service"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Identity.UserID == "" {
		cfg.Identity.UserID = uuid.New().String()
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize local history cache
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	history := repository.NewHistoryRepository(db)

	// Initialize backend client and catalog
	client := backend.NewClient(cfg.Backend, logger)
	cat := catalog.New()
	reporter := service.NewReporter()

	// Initialize services
	ingestService := service.NewIngestService(cfg, client, cat, history, reporter, logger)
	sessionService := service.NewSessionService(cfg, client, cat, history, logger)
	queryService := service.NewQueryService(cfg, client, cat, history, logger)

	// Load past sessions from the backend, falling back to the local cache
	hydrateCtx, cancelHydrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sessionService.Hydrate(hydrateCtx); err != nil {
		logger.Warn("Failed to hydrate session catalog", zap.Error(err))
	}
	cancelHydrate()

	// Setup router
	router := api.SetupRouter(ingestService, sessionService, queryService, api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: []string{"*"},
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:        cfg.Address(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting codechat gateway",
			zap.String("address", cfg.Address()),
			zap.String("backend", cfg.Backend.BaseURL),
			zap.String("user_id", cfg.Identity.UserID),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
