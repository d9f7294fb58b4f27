package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Like represents a user's like on a post.
// The combination of PostID and UserID must be unique.
type Like struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PostID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_likes_post_user" json:"post_id"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_likes_post_user" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	Post *Post `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (l *Like) BeforeCreate(_ *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
