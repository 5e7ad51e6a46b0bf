package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kaoru/booru/internal/domain"
	"github.com/kaoru/booru/internal/logger"
	"github.com/kaoru/booru/internal/media"
	"github.com/kaoru/booru/internal/similarity"
)

// ReindexStats holds statistics for one full reindex run.
type ReindexStats struct {
	TotalPosts   int64
	IndexedPosts int64
	FailedPosts  int64
	StartTime    time.Time
	EndTime      time.Time
}

// Reindex re-derives every fingerprint from stored media and rebuilds the
// engine from scratch. Extraction runs on a worker pool; the engine consumes
// finished items and holds its structures exclusively until the rebuild
// completes, so this is a maintenance operation, not a request path. The run
// is idempotent: an interrupted reindex is simply restarted.
func (s *PostService) Reindex(ctx context.Context) (*ReindexStats, error) {
	jobID := uuid.New().String()
	ctx = logger.WithField(ctx, logger.FieldJobID, jobID)

	stats := &ReindexStats{StartTime: time.Now()}

	total, err := s.posts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	stats.TotalPosts = total

	s.log(ctx).WithField(logger.FieldCount, total).Info("starting full reindex")

	jobs := make(chan domain.Post, s.workers*2)
	items := make(chan *similarity.CorpusItem, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range jobs {
				item, err := s.refingerprint(ctx, &post)
				if err != nil {
					atomic.AddInt64(&stats.FailedPosts, 1)
					s.log(ctx).WithField(logger.FieldPostID, post.ID).WithError(err).
						Error("failed to refingerprint post")
					continue
				}
				items <- item
			}
		}()
	}

	feedErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		feedErr <- s.posts.ForEach(ctx, 0, func(post *domain.Post) error {
			select {
			case jobs <- *post:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	go func() {
		wg.Wait()
		close(items)
	}()

	err = s.engine.Rebuild(ctx, func(ctx context.Context) (*similarity.CorpusItem, error) {
		select {
		case item, ok := <-items:
			if !ok {
				return nil, nil
			}
			atomic.AddInt64(&stats.IndexedPosts, 1)
			return item, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	// Drain so the workers can exit even when the rebuild aborted early.
	for range items {
	}

	if ferr := <-feedErr; err == nil && ferr != nil {
		err = ferr
	}

	stats.EndTime = time.Now()
	if err != nil {
		return stats, err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCount:      stats.IndexedPosts,
		"failed":               stats.FailedPosts,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info("full reindex complete")
	return stats, nil
}

// refingerprint re-extracts one post's fingerprint from its stored blob and
// refreshes the persisted signature rows.
func (s *PostService) refingerprint(ctx context.Context, post *domain.Post) (*similarity.CorpusItem, error) {
	rc, err := s.storage.Download(ctx, post.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", post.StorageKey, err)
	}

	m, err := media.Decode(data)
	if err != nil {
		return nil, err
	}
	fp, err := s.engine.Extractor().Extract(m)
	if err != nil {
		return nil, err
	}

	if err := s.signatures.ReplaceForPost(ctx, post.ID, signatureRows(fp)); err != nil {
		return nil, fmt.Errorf("failed to persist signatures: %w", err)
	}

	return &similarity.CorpusItem{
		PostID:      post.ID,
		CreatedAt:   post.CreatedAt,
		Fingerprint: fp,
	}, nil
}
