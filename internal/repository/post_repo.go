package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kaoru/booru/internal/domain"
	"gorm.io/gorm"
)

// PostRepository handles post data operations.
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new PostRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *PostRepository: repository instance bound to db.
func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// Create persists a post together with its signature rows in one
// transaction, so the persisted corpus never holds a post without its
// fingerprint.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - post: post record to persist; ID is assigned on return.
//   - signatures: signature rows for the post; PostID is filled in.
// Returns:
//   - error: non-nil if the transaction fails.
func (r *PostRepository) Create(ctx context.Context, post *domain.Post, signatures []domain.PostSignature) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		for i := range signatures {
			signatures[i].PostID = post.ID
		}
		if len(signatures) > 0 {
			if err := tx.Create(&signatures).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a post by its ID.
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*domain.Post, error) {
	var post domain.Post
	if err := r.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// GetByChecksum retrieves a post by its exact content checksum.
func (r *PostRepository) GetByChecksum(ctx context.Context, checksum string) (*domain.Post, error) {
	var post domain.Post
	if err := r.db.WithContext(ctx).First(&post, "checksum = ?", checksum).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// GetByIDs retrieves a batch of posts keyed by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: post IDs to fetch; missing IDs are simply absent from the result.
// Returns:
//   - map[int64]*domain.Post: found posts keyed by ID.
//   - error: non-nil if the query fails.
func (r *PostRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Post, error) {
	if len(ids) == 0 {
		return map[int64]*domain.Post{}, nil
	}
	var posts []domain.Post
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]*domain.Post, len(posts))
	for i := range posts {
		out[posts[i].ID] = &posts[i]
	}
	return out, nil
}

// Delete removes a post and its signature rows in one transaction.
// Deleting a missing post returns domain.ErrPostNotFound.
func (r *PostRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&domain.Post{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrPostNotFound
		}
		return tx.Delete(&domain.PostSignature{}, "post_id = ?", id).Error
	})
}

// List returns a page of posts ordered by ID.
func (r *PostRepository) List(ctx context.Context, offset, limit int) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// Count returns the total number of posts.
func (r *PostRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Post{}).Count(&count).Error
	return count, err
}

// ForEach streams all posts in ID order in fixed-size batches, invoking fn
// for each post. Iteration stops on the first error.
func (r *PostRepository) ForEach(ctx context.Context, batchSize int, fn func(post *domain.Post) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	lastID := int64(0)
	for {
		var batch []domain.Post
		err := r.db.WithContext(ctx).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to list posts after id %d: %w", lastID, err)
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		lastID = batch[len(batch)-1].ID
	}
}
