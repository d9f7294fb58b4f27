// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"bilimshare/internal/database"
	"bilimshare/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewSQLiteDB returns a migrated, isolated in-memory database with foreign
// keys enforced.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Fixture inserts rows for tests with explicit timestamps so ordering is
// deterministic.
type Fixture struct {
	t    *testing.T
	db   *gorm.DB
	base time.Time
	tick int
}

// NewFixture binds a fixture builder to db.
func NewFixture(t *testing.T, db *gorm.DB) *Fixture {
	return &Fixture{t: t, db: db, base: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (f *Fixture) next() time.Time {
	f.tick++
	return f.base.Add(time.Duration(f.tick) * time.Minute)
}

// User inserts a user with the given role.
func (f *Fixture) User(name string, role models.Role) *models.User {
	f.t.Helper()
	u := &models.User{Name: name, Email: uuid.NewString()[:8] + "@bilim.test", Role: role, CreatedAt: f.next()}
	require.NoError(f.t, f.db.Create(u).Error)
	return u
}

// Post inserts a post authored by author.
func (f *Fixture) Post(author *models.User, title, category string) *models.Post {
	f.t.Helper()
	p := &models.Post{Title: title, Body: title + " body", Category: category, AuthorID: author.ID, CreatedAt: f.next()}
	require.NoError(f.t, f.db.Omit("Author").Create(p).Error)
	return p
}

// Comment inserts a comment, optionally replying to parent.
func (f *Fixture) Comment(post *models.Post, author *models.User, text string, parent *models.Comment) *models.Comment {
	f.t.Helper()
	c := &models.Comment{Text: text, PostID: post.ID, AuthorID: author.ID, CreatedAt: f.next()}
	if parent != nil {
		c.ParentID = &parent.ID
	}
	require.NoError(f.t, f.db.Omit("Author", "Parent").Create(c).Error)
	return c
}

// Like inserts a like by user on post.
func (f *Fixture) Like(post *models.Post, user *models.User) *models.Like {
	f.t.Helper()
	l := &models.Like{PostID: post.ID, UserID: user.ID, CreatedAt: f.next()}
	require.NoError(f.t, f.db.Omit("User").Create(l).Error)
	return l
}
