package repository

import (
	"context"
	"fmt"

	"github.com/kaoru/booru/internal/domain"
	"gorm.io/gorm"
)

// SignatureRepository handles persisted perceptual signatures. The in-memory
// index structures are derived from these rows at startup and by rebuilds.
type SignatureRepository struct {
	db *gorm.DB
}

// NewSignatureRepository creates a new SignatureRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *SignatureRepository: repository instance bound to db.
func NewSignatureRepository(db *gorm.DB) *SignatureRepository {
	return &SignatureRepository{db: db}
}

// ReplaceForPost swaps the signature rows of a post in one transaction,
// used when a post is re-fingerprinted during reindexing.
func (r *SignatureRepository) ReplaceForPost(ctx context.Context, postID int64, signatures []domain.PostSignature) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.PostSignature{}, "post_id = ?", postID).Error; err != nil {
			return err
		}
		for i := range signatures {
			signatures[i].ID = 0
			signatures[i].PostID = postID
		}
		if len(signatures) == 0 {
			return nil
		}
		return tx.Create(&signatures).Error
	})
}

// GetByPost returns the signature rows of a post ordered by frame index.
func (r *SignatureRepository) GetByPost(ctx context.Context, postID int64) ([]domain.PostSignature, error) {
	var sigs []domain.PostSignature
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("frame_index ASC").
		Find(&sigs).Error
	return sigs, err
}

// ForEachPost streams all signatures grouped per post, in post ID order.
// fn receives each post's signature rows ordered by frame index; iteration
// stops on the first error. Used to warm the in-memory index at startup.
func (r *SignatureRepository) ForEachPost(ctx context.Context, batchSize int, fn func(postID int64, sigs []domain.PostSignature) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	lastPostID := int64(0)
	for {
		var postIDs []int64
		err := r.db.WithContext(ctx).
			Model(&domain.PostSignature{}).
			Distinct("post_id").
			Where("post_id > ?", lastPostID).
			Order("post_id ASC").
			Limit(batchSize).
			Pluck("post_id", &postIDs).Error
		if err != nil {
			return fmt.Errorf("failed to list signature posts after %d: %w", lastPostID, err)
		}
		if len(postIDs) == 0 {
			return nil
		}

		var sigs []domain.PostSignature
		err = r.db.WithContext(ctx).
			Where("post_id IN ?", postIDs).
			Order("post_id ASC, frame_index ASC").
			Find(&sigs).Error
		if err != nil {
			return fmt.Errorf("failed to load signatures: %w", err)
		}

		for start := 0; start < len(sigs); {
			end := start
			for end < len(sigs) && sigs[end].PostID == sigs[start].PostID {
				end++
			}
			if err := fn(sigs[start].PostID, sigs[start:end]); err != nil {
				return err
			}
			start = end
		}

		lastPostID = postIDs[len(postIDs)-1]
	}
}
