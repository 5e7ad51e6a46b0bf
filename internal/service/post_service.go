package service

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/google/uuid"
	"github.com/kaoru/booru/internal/domain"
	"github.com/kaoru/booru/internal/logger"
	"github.com/kaoru/booru/internal/media"
	"github.com/kaoru/booru/internal/repository"
	"github.com/kaoru/booru/internal/similarity"
	"github.com/kaoru/booru/internal/storage"
)

// PostService owns the upload, reverse-search and maintenance paths that tie
// the persisted corpus, blob storage and the similarity engine together.
type PostService struct {
	posts      *repository.PostRepository
	signatures *repository.SignatureRepository
	storage    storage.ObjectStorage
	engine     *similarity.Engine
	downloader *Downloader
	logger     *logger.Logger
	workers    int
}

// PostServiceConfig holds configuration for the post service.
type PostServiceConfig struct {
	// Workers is the size of the fingerprint extraction pool used by Reindex.
	Workers int
}

// NewPostService creates a new post service.
func NewPostService(
	posts *repository.PostRepository,
	signatures *repository.SignatureRepository,
	objectStorage storage.ObjectStorage,
	engine *similarity.Engine,
	downloader *Downloader,
	log *logger.Logger,
	cfg *PostServiceConfig,
) *PostService {
	workers := 4
	if cfg != nil && cfg.Workers > 0 {
		workers = cfg.Workers
	}
	return &PostService{
		posts:      posts,
		signatures: signatures,
		storage:    objectStorage,
		engine:     engine,
		downloader: downloader,
		logger:     log,
		workers:    workers,
	}
}

// log returns a logger from context if available, otherwise the service logger.
func (s *PostService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// UploadRequest describes one upload. Either Data or ContentURL must be set.
type UploadRequest struct {
	Data       []byte
	ContentURL string
	Safety     domain.PostSafety
	Source     string
}

// SimilarPost pairs a near-duplicate match with its post record.
type SimilarPost struct {
	Post       *domain.Post `json:"post"`
	Distance   int          `json:"distance"`
	Confidence float64      `json:"confidence"`
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	Post *domain.Post `json:"post"`

	// Similar lists near-duplicates that existed at upload time. The upload
	// is accepted anyway; blocking is the caller's policy decision.
	Similar []SimilarPost `json:"similar_posts,omitempty"`
}

// Upload validates, fingerprints and stores one media upload. A byte-exact
// duplicate is rejected with a similarity.ConflictError naming the existing
// post; perceptual near-duplicates are reported but do not block.
func (s *PostService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	data := req.Data
	if len(data) == 0 && req.ContentURL != "" {
		fetched, _, err := s.downloader.Fetch(ctx, req.ContentURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch content url: %w", err)
		}
		data = fetched
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("upload has no content")
	}

	m, err := media.Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.SubmitMedia(ctx, m)
	if err != nil {
		return nil, err
	}
	if res.ExactMatch != nil {
		return nil, &similarity.ConflictError{
			Digest:         res.Fingerprint.Digest,
			ExistingPostID: *res.ExactMatch,
		}
	}
	fp := res.Fingerprint

	safety := req.Safety
	if safety == "" {
		safety = domain.PostSafetyDefault
	}
	post := &domain.Post{
		StorageKey: storageKey(m.MimeType),
		MimeType:   m.MimeType,
		FileSize:   int64(len(data)),
		Width:      m.Width,
		Height:     m.Height,
		FrameCount: fp.FrameCount,
		Checksum:   fp.Digest,
		Safety:     safety,
		Source:     req.Source,
	}

	if err := s.storage.Upload(ctx, post.StorageKey, bytes.NewReader(data), post.FileSize, post.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	if err := s.posts.Create(ctx, post, signatureRows(fp)); err != nil {
		if delErr := s.storage.Delete(ctx, post.StorageKey); delErr != nil {
			s.log(ctx).WithError(delErr).Warn("failed to clean up blob after create failure")
		}
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	if err := s.engine.Commit(ctx, post.ID, post.CreatedAt, fp); err != nil {
		// A racing upload committed the same digest between Submit and
		// Commit. Withdraw this post and surface the conflict.
		if similarity.IsConflict(err) {
			s.rollbackUpload(ctx, post)
			return nil, err
		}
		s.rollbackUpload(ctx, post)
		return nil, fmt.Errorf("failed to index post %d: %w", post.ID, err)
	}

	similar, err := s.resolveMatches(ctx, res.NearMatches)
	if err != nil {
		s.log(ctx).WithError(err).Warn("failed to resolve near matches")
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldPostID: post.ID,
		logger.FieldSize:   post.FileSize,
		logger.FieldCount:  len(similar),
	}).Info("post uploaded")

	return &UploadResult{Post: post, Similar: similar}, nil
}

func (s *PostService) rollbackUpload(ctx context.Context, post *domain.Post) {
	if err := s.posts.Delete(ctx, post.ID); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldPostID, post.ID).
			Warn("failed to roll back post row")
	}
	if err := s.storage.Delete(ctx, post.StorageKey); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldPostID, post.ID).
			Warn("failed to roll back blob")
	}
}

// ReverseSearchResult is the outcome of checking content against the corpus
// without uploading it.
type ReverseSearchResult struct {
	ExactPost    *domain.Post  `json:"exact_post,omitempty"`
	SimilarPosts []SimilarPost `json:"similar_posts"`
}

// ReverseSearch fingerprints content and returns the exact match, if any,
// and ranked near-duplicates. Nothing is stored.
func (s *PostService) ReverseSearch(ctx context.Context, data []byte) (*ReverseSearchResult, error) {
	res, err := s.engine.Submit(ctx, data)
	if err != nil {
		return nil, err
	}

	out := &ReverseSearchResult{SimilarPosts: []SimilarPost{}}
	if res.ExactMatch != nil {
		post, err := s.posts.GetByID(ctx, *res.ExactMatch)
		if err != nil {
			return nil, fmt.Errorf("exact match post %d: %w", *res.ExactMatch, err)
		}
		out.ExactPost = post
		return out, nil
	}

	similar, err := s.resolveMatches(ctx, res.NearMatches)
	if err != nil {
		return nil, err
	}
	out.SimilarPosts = similar
	return out, nil
}

// resolveMatches joins engine matches with their post rows, preserving rank
// order. Matches whose post row has vanished are dropped.
func (s *PostService) resolveMatches(ctx context.Context, matches []similarity.Match) ([]SimilarPost, error) {
	if len(matches) == 0 {
		return []SimilarPost{}, nil
	}
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.PostID)
	}
	posts, err := s.posts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarPost, 0, len(matches))
	for _, m := range matches {
		post, ok := posts[m.PostID]
		if !ok {
			continue
		}
		out = append(out, SimilarPost{
			Post:       post,
			Distance:   m.Distance,
			Confidence: m.Confidence,
		})
	}
	return out, nil
}

// Get retrieves a post by ID.
func (s *PostService) Get(ctx context.Context, id int64) (*domain.Post, error) {
	return s.posts.GetByID(ctx, id)
}

// List returns a page of posts plus the corpus total.
func (s *PostService) List(ctx context.Context, offset, limit int) ([]domain.Post, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 40
	}
	posts, err := s.posts.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.posts.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// Delete removes a post: its row and signatures, its blob, and its index
// entries. The index retraction runs last so a failed delete never leaves
// the engine blind to a still-stored post.
func (s *PostService) Delete(ctx context.Context, id int64) error {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.posts.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, post.StorageKey); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldPostID, id).
			Warn("failed to delete blob")
	}
	s.engine.Retract(id)

	s.log(ctx).WithField(logger.FieldPostID, id).Info("post deleted")
	return nil
}

// Merge supersedes one post's content by another's: the superseded post is
// removed everywhere, the survivor is left untouched.
func (s *PostService) Merge(ctx context.Context, supersededID, survivorID int64) error {
	if supersededID == survivorID {
		return domain.ErrSelfMerge
	}
	if _, err := s.posts.GetByID(ctx, survivorID); err != nil {
		return fmt.Errorf("merge survivor %d: %w", survivorID, err)
	}
	superseded, err := s.posts.GetByID(ctx, supersededID)
	if err != nil {
		return fmt.Errorf("merge superseded %d: %w", supersededID, err)
	}

	if err := s.posts.Delete(ctx, supersededID); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, superseded.StorageKey); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldPostID, supersededID).
			Warn("failed to delete merged blob")
	}
	s.engine.Merge(supersededID, survivorID)

	s.log(ctx).WithFields(logger.Fields{
		"superseded_id": supersededID,
		"survivor_id":   survivorID,
	}).Info("posts merged")
	return nil
}

// WarmIndex replays the persisted fingerprints into the engine. Called once
// at startup so the in-memory structures reflect the corpus without
// re-decoding any media.
func (s *PostService) WarmIndex(ctx context.Context) error {
	start := time.Now()
	loaded := 0

	err := s.signatures.ForEachPost(ctx, 0, func(postID int64, rows []domain.PostSignature) error {
		post, err := s.posts.GetByID(ctx, postID)
		if err != nil {
			// Signatures without a post are stale rows; skip them.
			s.log(ctx).WithField(logger.FieldPostID, postID).WithError(err).
				Warn("skipping orphaned signature rows")
			return nil
		}

		fp, err := fingerprintFromRows(post, rows)
		if err != nil {
			s.log(ctx).WithField(logger.FieldPostID, postID).WithError(err).
				Warn("skipping unreadable signature rows")
			return nil
		}
		if err := s.engine.Commit(ctx, post.ID, post.CreatedAt, fp); err != nil {
			return fmt.Errorf("failed to index post %d: %w", post.ID, err)
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCount:      loaded,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("similarity index warmed from corpus")
	return nil
}

// signatureRows converts a fingerprint's frame signatures into persistable rows.
func signatureRows(fp *similarity.Fingerprint) []domain.PostSignature {
	rows := make([]domain.PostSignature, 0, len(fp.Frames))
	for i, frame := range fp.Frames {
		rows = append(rows, domain.PostSignature{
			FrameIndex: i,
			Signature:  frame.String(),
		})
	}
	return rows
}

// fingerprintFromRows reassembles a fingerprint from persisted rows.
func fingerprintFromRows(post *domain.Post, rows []domain.PostSignature) (*similarity.Fingerprint, error) {
	frames := make([]similarity.Signature, 0, len(rows))
	for _, row := range rows {
		sig, err := similarity.ParseSignature(row.Signature)
		if err != nil {
			return nil, err
		}
		frames = append(frames, sig)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("post %d has no signature rows", post.ID)
	}
	return &similarity.Fingerprint{
		Digest:     post.Checksum,
		Signature:  frames[0],
		Frames:     frames,
		FrameCount: post.FrameCount,
	}, nil
}

// storageKey derives a fresh blob key with an extension matching the mime type.
func storageKey(mimeType string) string {
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return "posts/" + uuid.New().String() + ext
}
