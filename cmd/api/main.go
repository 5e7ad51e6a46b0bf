package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaoru/booru/internal/api"
	"github.com/kaoru/booru/internal/config"
	"github.com/kaoru/booru/internal/logger"
	"github.com/kaoru/booru/internal/repository"
	"github.com/kaoru/booru/internal/service"
	"github.com/kaoru/booru/internal/similarity"
	"github.com/kaoru/booru/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.NewDefault()
	logger.SetDefault(appLog)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	postRepo := repository.NewPostRepository(db)
	sigRepo := repository.NewSignatureRepository(db)

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	engine := similarity.NewEngine(similarity.Options{
		VideoSampleCount: cfg.Similarity.VideoSampleCount,
		ThresholdBits:    cfg.Similarity.ThresholdBits,
		Logger:           appLog,
	})

	downloader := service.NewDownloader(cfg.Upload.DownloadTimeout, cfg.Upload.MaxFileSize)
	postService := service.NewPostService(
		postRepo, sigRepo, objectStorage, engine, downloader, appLog, nil,
	)

	// Replay the persisted corpus into the in-memory index before serving.
	ctx := context.Background()
	if err := postService.WarmIndex(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to warm similarity index")
	}

	router := api.SetupRouter(postService, engine, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		appLog.WithField("port", cfg.Server.Port).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("Forced shutdown")
	}
	appLog.Info("Server exited")
}
