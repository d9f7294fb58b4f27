package repository

import (
	"context"
	"errors"

	"bilimshare/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LikeRepository defines the interface for like data operations
type LikeRepository interface {
	Find(ctx context.Context, postID, userID string) (*models.Like, error)
	Create(ctx context.Context, like *models.Like) error
	Delete(ctx context.Context, id string) error
	ListByPostIDs(ctx context.Context, postIDs []string) ([]models.Like, error)
	CountByPost(ctx context.Context, postID string) (int64, error)
	PostIDsTouchedBy(ctx context.Context, userID string) ([]string, error)
}

type likeRepository struct {
	db *gorm.DB
}

// NewLikeRepository creates a new like repository
func NewLikeRepository(db *gorm.DB) LikeRepository {
	return &likeRepository{db: db}
}

// Find returns the like of userID on postID, or nil when there is none.
func (r *likeRepository) Find(ctx context.Context, postID, userID string) (*models.Like, error) {
	var like models.Like
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Limit(1).
		Take(&like).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &like, nil
}

// Create inserts like. A second like by the same user on the same post fails
// with a unique violation.
func (r *likeRepository) Create(ctx context.Context, like *models.Like) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(like).Error
}

// Delete removes the like row. Deleting an absent row is not an error.
func (r *likeRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Like{}).Error
}

func (r *likeRepository) ListByPostIDs(ctx context.Context, postIDs []string) ([]models.Like, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	var likes []models.Like
	err := r.db.WithContext(ctx).Where("post_id IN ?", postIDs).Find(&likes).Error
	return likes, err
}

func (r *likeRepository) CountByPost(ctx context.Context, postID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Like{}).
		Where("post_id = ?", postID).
		Count(&count).Error
	return count, err
}

// PostIDsTouchedBy lists the posts whose like rows go away when userID is
// deleted: posts the user liked and liked posts the user authored.
func (r *likeRepository) PostIDsTouchedBy(ctx context.Context, userID string) ([]string, error) {
	authored := r.db.WithContext(ctx).Model(&models.Post{}).Select("id").Where("author = ?", userID)

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Like{}).
		Distinct().
		Where("user_id = ? OR post_id IN (?)", userID, authored).
		Order("post_id").
		Pluck("post_id", &ids).Error
	return ids, err
}
