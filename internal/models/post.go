package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GeneralCategory is the fallback category for posts created without one.
const GeneralCategory = "Жалпы"

// Post is a published article. Comments and likes cascade with it.
type Post struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	Body      string    `gorm:"not null" json:"body"`
	Category  string    `gorm:"index" json:"category"`
	Image     string    `json:"image"`
	AuthorID  string    `gorm:"column:author;type:varchar(36);not null;index" json:"author"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Author   *User     `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"-"`
	Comments []Comment `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	Likes    []Like    `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Category == "" {
		p.Category = GeneralCategory
	}
	return nil
}
