// Command reindex rebuilds the similarity index from the complete post
// corpus: every stored blob is re-downloaded, re-fingerprinted, and both the
// persisted signature rows and the in-memory structures are re-derived.
// Intended for recovery after index corruption or a signature-algorithm
// upgrade; run it while the API server is stopped or tolerate the rebuild
// pause.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kaoru/booru/internal/config"
	"github.com/kaoru/booru/internal/logger"
	"github.com/kaoru/booru/internal/repository"
	"github.com/kaoru/booru/internal/service"
	"github.com/kaoru/booru/internal/similarity"
	"github.com/kaoru/booru/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	workers := flag.Int("workers", 4, "fingerprint extraction workers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
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

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	engine := similarity.NewEngine(similarity.Options{
		VideoSampleCount: cfg.Similarity.VideoSampleCount,
		ThresholdBits:    cfg.Similarity.ThresholdBits,
		Logger:           appLog,
	})

	postService := service.NewPostService(
		repository.NewPostRepository(db),
		repository.NewSignatureRepository(db),
		objectStorage,
		engine,
		nil,
		appLog,
		&service.PostServiceConfig{Workers: *workers},
	)

	stats, err := postService.Reindex(context.Background())
	if err != nil {
		appLog.WithError(err).Fatal("Reindex failed")
	}

	fmt.Printf("Reindex complete: %d/%d posts indexed, %d failed, took %s\n",
		stats.IndexedPosts, stats.TotalPosts, stats.FailedPosts,
		stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
}
