package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"proofcanvas/infrastructure/config"
	"proofcanvas/infrastructure/di"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger

	// Websocket connections manage their own deadlines, so only the
	// header read is bounded here.
	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           container.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting relay",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.String("instance", container.Hub.Instance()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serverErr:
			logger.Error("Server failed", zap.Error(err))
			break loop
		case <-prune.C:
			if n := container.Server.PruneLimiter(); n > 0 {
				logger.Debug("Pruned connect rate windows", zap.Int("count", n))
			}
		}
	}

	logger.Info("Shutting down relay...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	cleanup()

	_ = logger.Sync()
	log.Println("Relay stopped")
}
