package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Comment is a remark on a post. ParentID links a reply to its parent comment.
type Comment struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Text      string    `gorm:"not null" json:"text"`
	PostID    string    `gorm:"type:varchar(36);not null;index" json:"post_id"`
	AuthorID  string    `gorm:"column:author;type:varchar(36);not null;index" json:"author"`
	ParentID  *string   `gorm:"type:varchar(36);index" json:"parent_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Post   *Post    `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	Author *User    `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"-"`
	Parent *Comment `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsReply reports whether the comment answers another comment.
func (c *Comment) IsReply() bool {
	return c.ParentID != nil && *c.ParentID != ""
}
