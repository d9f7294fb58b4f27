package repository

import (
	"context"

	"bilimshare/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListByPostIDs(ctx context.Context, postIDs []string) ([]models.Comment, error)
	Delete(ctx context.Context, id string) error
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(comment).Error
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&comment).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByPostIDs returns the comments of the given posts, oldest first.
func (r *commentRepository) ListByPostIDs(ctx context.Context, postIDs []string) ([]models.Comment, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	var comments []models.Comment
	err := r.db.WithContext(ctx).
		Where("post_id IN ?", postIDs).
		Order("created_at ASC").
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Comment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
