package similarity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kaoru/booru/internal/logger"
	"github.com/kaoru/booru/internal/media"
)

// rollbackAttempts bounds how often a failed two-structure commit retries the
// compensating removal before escalating to IndexCorruptionError.
const rollbackAttempts = 3

// Engine owns the exact-match table and the signature index and keeps them
// consistent as posts are created, merged, or deleted. Queries (Submit) run
// concurrently; commits, retractions and rebuilds are serialized, and a
// rebuild blocks queries for its duration.
//
// The two structures are always touched in a fixed order, exact table before
// signature index, so a combined operation can never deadlock against
// another.
type Engine struct {
	// mu makes the two-structure commit atomic from the caller's point of
	// view: readers hold it shared, writers and Rebuild hold it exclusively.
	mu sync.RWMutex

	exact     *ExactTable
	index     *SignatureIndex
	extractor *Extractor
	scorer    *Scorer
	log       *logger.Logger

	rebuilding      atomic.Bool
	rebuildProgress atomic.Int64
}

// Options configures a new Engine.
type Options struct {
	// VideoSampleCount is the number of frames fingerprinted per animated
	// media item.
	VideoSampleCount int

	// ThresholdBits is the near-duplicate decision cutoff in signature bits.
	ThresholdBits int

	Logger *logger.Logger
}

// NewEngine creates an empty engine. The index is populated by Commit calls,
// typically replayed from the persisted corpus at startup.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	index := NewSignatureIndex()
	return &Engine{
		exact:     NewExactTable(),
		index:     index,
		extractor: NewExtractor(opts.VideoSampleCount),
		scorer:    NewScorer(index, opts.ThresholdBits),
		log:       opts.Logger.WithField(logger.FieldComponent, "similarity"),
	}
}

// Extractor returns the engine's fingerprint extractor, for callers that
// need standalone extraction (e.g. reindex workers).
func (e *Engine) Extractor() *Extractor {
	return e.extractor
}

// ThresholdBits returns the configured near-duplicate cutoff.
func (e *Engine) ThresholdBits() int {
	return e.scorer.ThresholdBits()
}

// SubmitResult is the outcome of checking one upload against the corpus.
type SubmitResult struct {
	// Fingerprint is the extracted fingerprint, returned so the caller can
	// commit the post without re-extracting.
	Fingerprint *Fingerprint

	// ExactMatch is the post already storing byte-identical content, if any.
	ExactMatch *int64

	// NearMatches are perceptual duplicates within the threshold, descending
	// by confidence. Empty when ExactMatch is set (the exact hit is
	// authoritative) and on no match; an empty result is not an error.
	NearMatches []Match
}

// Submit decodes and fingerprints an upload and checks it against the
// corpus: the exact table first, then the signature index. It does not
// register the upload; call Commit once the post row is durably stored.
func (e *Engine) Submit(ctx context.Context, raw []byte) (*SubmitResult, error) {
	m, err := media.Decode(raw)
	if err != nil {
		return nil, err
	}
	return e.SubmitMedia(ctx, m)
}

// SubmitMedia is Submit for media decoded by an external pipeline (container
// video formats enter here via media.FromFrames).
func (e *Engine) SubmitMedia(ctx context.Context, m *media.Media) (*SubmitResult, error) {
	fp, err := e.extractor.Extract(m)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if postID, ok := e.exact.Lookup(fp.Digest); ok {
		return &SubmitResult{Fingerprint: fp, ExactMatch: &postID}, nil
	}

	return &SubmitResult{
		Fingerprint: fp,
		NearMatches: e.scorer.FindDuplicatesMulti(fp.Frames),
	}, nil
}

// Commit registers a stored post in both index structures. Either both
// structures reflect the post afterwards or neither does: on a signature
// index failure the exact entry is rolled back, with bounded retries before
// the engine declares corruption.
func (e *Engine) Commit(ctx context.Context, postID int64, createdAt time.Time, fp *Fingerprint) error {
	if fp == nil {
		return fmt.Errorf("similarity: nil fingerprint for post %d", postID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.exact.Insert(fp.Digest, postID); err != nil {
		return err
	}

	if err := e.index.Insert(postID, createdAt, fp.Frames); err != nil {
		for attempt := 1; ; attempt++ {
			if e.exact.Remove(postID) {
				return fmt.Errorf("similarity: commit of post %d rolled back: %w", postID, err)
			}
			if attempt >= rollbackAttempts {
				e.log.WithField(logger.FieldPostID, postID).
					Error("commit rollback failed, index structures diverged")
				return &IndexCorruptionError{
					Detail: fmt.Sprintf("post %d present in exact table but not removable after failed index insert", postID),
				}
			}
		}
	}
	return nil
}

// Retract removes a deleted post from both structures. Idempotent.
func (e *Engine) Retract(postID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exact.Remove(postID)
	e.index.Remove(postID)
}

// Merge handles content A superseded by content B: A's entries are removed,
// B's are left untouched.
func (e *Engine) Merge(supersededID, survivorID int64) {
	if supersededID == survivorID {
		return
	}
	e.Retract(supersededID)
}

// CorpusItem is one post fed to Rebuild.
type CorpusItem struct {
	PostID      int64
	CreatedAt   time.Time
	Fingerprint *Fingerprint
}

// CorpusFunc supplies corpus items to Rebuild one at a time; it returns nil
// when the corpus is exhausted.
type CorpusFunc func(ctx context.Context) (*CorpusItem, error)

// Rebuild clears both structures and re-derives them from the complete
// corpus. It holds the engine exclusively for its duration, blocking queries
// and commits, so it must be run as a background maintenance operation. It
// is idempotent: an interrupted rebuild restarts from scratch. Progress is
// readable through RebuildProgress.
func (e *Engine) Rebuild(ctx context.Context, next CorpusFunc) error {
	if !e.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}
	defer e.rebuilding.Store(false)
	e.rebuildProgress.Store(0)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.exact.Clear()
	e.index.Clear()

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := next(ctx)
		if err != nil {
			return fmt.Errorf("similarity: rebuild aborted: %w", err)
		}
		if item == nil {
			break
		}

		if err := e.exact.Insert(item.Fingerprint.Digest, item.PostID); err != nil {
			// Two corpus posts with one digest: the caller should have
			// rejected the later upload. Keep the earlier entry.
			e.log.WithField(logger.FieldPostID, item.PostID).WithError(err).
				Warn("skipping duplicate digest during rebuild")
			continue
		}
		if err := e.index.Insert(item.PostID, item.CreatedAt, item.Fingerprint.Frames); err != nil {
			e.exact.Remove(item.PostID)
			return fmt.Errorf("similarity: rebuild aborted at post %d: %w", item.PostID, err)
		}
		e.rebuildProgress.Add(1)
	}

	e.log.WithFields(logger.Fields{
		logger.FieldCount:      e.rebuildProgress.Load(),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("index rebuild complete")
	return nil
}

// Rebuilding reports whether a rebuild is currently running.
func (e *Engine) Rebuilding() bool {
	return e.rebuilding.Load()
}

// RebuildProgress returns the number of posts indexed by the current (or
// most recent) rebuild, so callers can detect staleness.
func (e *Engine) RebuildProgress() int64 {
	return e.rebuildProgress.Load()
}

// Len returns the number of indexed posts.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Len()
}

// CheckConsistency verifies that the exact table and the signature index
// cover the same post set. A mismatch is not locally recoverable and calls
// for a forced rebuild.
func (e *Engine) CheckConsistency() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	exactIDs := e.exact.PostIDs()
	indexIDs := e.index.PostIDs()
	if len(exactIDs) != len(indexIDs) {
		return &IndexCorruptionError{
			Detail: fmt.Sprintf("exact table holds %d posts, signature index holds %d", len(exactIDs), len(indexIDs)),
		}
	}
	indexed := make(map[int64]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		indexed[id] = struct{}{}
	}
	for _, id := range exactIDs {
		if _, ok := indexed[id]; !ok {
			return &IndexCorruptionError{
				Detail: fmt.Sprintf("post %d present in exact table but missing from signature index", id),
			}
		}
	}
	return nil
}
