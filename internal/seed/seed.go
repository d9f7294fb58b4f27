// Package seed fills the database with demo accounts and generated posts,
// comments and likes. It is intended for development only.
package seed

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"bilimshare/internal/feed"
	"bilimshare/internal/middleware"
	"bilimshare/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed accounts.yml
var defaultAccounts []byte

// Account is one demo account of the fixture file.
type Account struct {
	Name  string      `yaml:"name"`
	Email string      `yaml:"email"`
	Role  models.Role `yaml:"role"`
}

// Fixture lists the demo accounts and their shared password.
type Fixture struct {
	Password string    `yaml:"password"`
	Accounts []Account `yaml:"accounts"`
}

// ParseFixture decodes and validates a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if f.Password == "" {
		return nil, fmt.Errorf("fixture password is required")
	}
	seen := make(map[string]struct{}, len(f.Accounts))
	for i, a := range f.Accounts {
		if a.Email == "" || a.Name == "" {
			return nil, fmt.Errorf("account %d: name and email are required", i)
		}
		if !a.Role.Valid() {
			return nil, fmt.Errorf("account %s: unknown role %q", a.Email, a.Role)
		}
		key := strings.ToLower(a.Email)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("account %s is listed twice", a.Email)
		}
		seen[key] = struct{}{}
	}
	return &f, nil
}

// DefaultFixture returns the embedded demo accounts.
func DefaultFixture() *Fixture {
	f, err := ParseFixture(defaultAccounts)
	if err != nil {
		panic(err)
	}
	return f
}

// Options controls how much generated content is created.
type Options struct {
	Posts           int
	MaxComments     int
	MaxLikes        int
	Clean           bool
	RandomSeed      int64
	SkipBcrypt      bool
	MaxDays         int
	ReplyPercentage int
}

// Result summarizes a seeding run.
type Result struct {
	Users    int
	Posts    int
	Comments int
	Likes    int
}

// Seeder writes demo data.
type Seeder struct {
	db    *gorm.DB
	faker *gofakeit.Faker
	opts  Options
	now   time.Time
}

// NewSeeder creates a Seeder. A zero RandomSeed picks a time-based seed.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	return &Seeder{db: db, faker: gofakeit.New(seed), opts: opts, now: time.Now()}
}

// ClearAll removes every row, children first.
func (s *Seeder) ClearAll() error {
	for _, m := range []any{&models.Like{}, &models.Comment{}, &models.Post{}, &models.User{}} {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			return fmt.Errorf("clear %T: %w", m, err)
		}
	}
	return nil
}

// Run creates the fixture accounts and the generated content in one transaction.
func (s *Seeder) Run(fx *Fixture) (*Result, error) {
	res := &Result{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if s.opts.Clean {
			if err := (&Seeder{db: tx}).ClearAll(); err != nil {
				return err
			}
		}

		users, err := s.users(fx)
		if err != nil {
			return err
		}
		if err := tx.Create(&users).Error; err != nil {
			return fmt.Errorf("create users: %w", err)
		}
		res.Users = len(users)

		var authors []models.User
		for _, u := range users {
			if u.Role.CanPublish() {
				authors = append(authors, u)
			}
		}
		if len(authors) == 0 || s.opts.Posts <= 0 {
			return nil
		}

		posts := s.posts(authors)
		if err := tx.Omit(clause.Associations).Create(&posts).Error; err != nil {
			return fmt.Errorf("create posts: %w", err)
		}
		res.Posts = len(posts)

		comments := s.comments(posts, users)
		if len(comments) > 0 {
			// Replies reference comments of the same batch, so insert in order.
			if err := tx.Omit(clause.Associations).CreateInBatches(&comments, 1).Error; err != nil {
				return fmt.Errorf("create comments: %w", err)
			}
		}
		res.Comments = len(comments)

		likes := s.likes(posts, users)
		if len(likes) > 0 {
			if err := tx.Omit(clause.Associations).Create(&likes).Error; err != nil {
				return fmt.Errorf("create likes: %w", err)
			}
		}
		res.Likes = len(likes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	middleware.Logger.Info("Seeding finished",
		"users", res.Users, "posts", res.Posts, "comments", res.Comments, "likes", res.Likes)
	return res, nil
}

func (s *Seeder) users(fx *Fixture) ([]models.User, error) {
	hash := fx.Password
	if !s.opts.SkipBcrypt {
		b, err := bcrypt.GenerateFromPassword([]byte(fx.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(b)
	}

	users := make([]models.User, 0, len(fx.Accounts))
	for i, a := range fx.Accounts {
		users = append(users, models.User{
			Name:         a.Name,
			Email:        strings.ToLower(a.Email),
			Role:         a.Role,
			PasswordHash: hash,
			CreatedAt:    s.now.Add(-time.Duration(s.opts.MaxDays)*24*time.Hour + time.Duration(i)*time.Minute),
		})
	}
	return users, nil
}

func (s *Seeder) posts(authors []models.User) []models.Post {
	categories := append(append([]string{}, feed.DefaultCategories...), models.GeneralCategory)
	posts := make([]models.Post, 0, s.opts.Posts)
	for i := 0; i < s.opts.Posts; i++ {
		author := authors[s.faker.Number(0, len(authors)-1)]
		posts = append(posts, models.Post{
			Title:     strings.TrimSuffix(s.faker.Sentence(s.faker.Number(3, 7)), "."),
			Body:      s.faker.Paragraph(2, 3, 12, "\n\n"),
			Category:  categories[s.faker.Number(0, len(categories)-1)],
			Image:     fmt.Sprintf("https://picsum.photos/seed/%s/1200/800", s.faker.LetterN(6)),
			AuthorID:  author.ID,
			CreatedAt: s.pastTime(),
		})
	}
	return posts
}

func (s *Seeder) comments(posts []models.Post, users []models.User) []models.Comment {
	if s.opts.MaxComments <= 0 {
		return nil
	}
	var comments []models.Comment
	for _, p := range posts {
		var onPost []models.Comment
		n := s.faker.Number(0, s.opts.MaxComments)
		for j := 0; j < n; j++ {
			c := models.Comment{
				ID:        s.faker.UUID(),
				Text:      s.faker.Sentence(s.faker.Number(4, 14)),
				PostID:    p.ID,
				AuthorID:  users[s.faker.Number(0, len(users)-1)].ID,
				CreatedAt: p.CreatedAt.Add(time.Duration(j+1) * time.Minute),
			}
			if len(onPost) > 0 && s.faker.Number(1, 100) <= s.opts.ReplyPercentage {
				parent := onPost[s.faker.Number(0, len(onPost)-1)].ID
				c.ParentID = &parent
			}
			onPost = append(onPost, c)
		}
		comments = append(comments, onPost...)
	}
	return comments
}

func (s *Seeder) likes(posts []models.Post, users []models.User) []models.Like {
	if s.opts.MaxLikes <= 0 {
		return nil
	}
	var likes []models.Like
	for _, p := range posts {
		n := s.faker.Number(0, min(s.opts.MaxLikes, len(users)))
		for _, idx := range s.pick(len(users), n) {
			likes = append(likes, models.Like{
				PostID:    p.ID,
				UserID:    users[idx].ID,
				CreatedAt: p.CreatedAt.Add(time.Hour),
			})
		}
	}
	return likes
}

// pick returns n distinct indexes below total.
func (s *Seeder) pick(total, n int) []int {
	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	s.faker.ShuffleAnySlice(idx)
	return idx[:n]
}

func (s *Seeder) pastTime() time.Time {
	minutes := s.faker.Number(0, s.opts.MaxDays*24*60)
	return s.now.Add(-time.Duration(minutes) * time.Minute)
}
