package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/api"
	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/db"
	"github.com/david/deal-pulse/internal/logging"
	"github.com/david/deal-pulse/internal/secrets"
)

func main() {
	_ = godotenv.Load()

	logger := logging.Must()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	cfg, err := config.Load(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	box, err := secrets.FromEnv(logger)
	if err != nil {
		logger.Fatal("token encryption unavailable", zap.Error(err))
	}

	srv, err := api.NewServer(pool, cfg, box, logger)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	go func() {
		if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
