// Package feed loads the four entity collections behind the BilimShare feed
// and derives the view model and aggregates from them.
package feed

import (
	"context"
	"time"

	"bilimshare/internal/models"
	"bilimshare/internal/observability"
	"bilimshare/internal/repository"

	"golang.org/x/sync/errgroup"
)

// PostSource lists every post, newest first.
type PostSource interface {
	List(ctx context.Context) ([]models.Post, error)
}

// UserSource lists users by ID.
type UserSource interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// CommentSource lists comments of posts, oldest first.
type CommentSource interface {
	ListByPostIDs(ctx context.Context, postIDs []string) ([]models.Comment, error)
}

// LikeSource lists likes of posts.
type LikeSource interface {
	ListByPostIDs(ctx context.Context, postIDs []string) ([]models.Like, error)
}

// Collections is one consistent fetch of the four entity sets.
type Collections struct {
	Posts    []models.Post
	Users    []models.User
	Comments []models.Comment
	Likes    []models.Like
}

// FetcherInput wires the sources and the per-query deadline.
type FetcherInput struct {
	Posts    PostSource
	Users    UserSource
	Comments CommentSource
	Likes    LikeSource
	Timeout  time.Duration
}

// Fetcher runs the fetch cycle: posts first, then authors, comments and
// likes concurrently.
type Fetcher struct {
	posts    PostSource
	users    UserSource
	comments CommentSource
	likes    LikeSource
	timeout  time.Duration
}

// NewFetcher creates a Fetcher. A zero timeout defaults to ten seconds.
func NewFetcher(in FetcherInput) *Fetcher {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		posts:    in.Posts,
		users:    in.Users,
		comments: in.Comments,
		likes:    in.Likes,
		timeout:  timeout,
	}
}

// Fetch loads one snapshot of the collections. Any failing query aborts the
// cycle and no partial collections are returned.
func (f *Fetcher) Fetch(ctx context.Context) (*Collections, error) {
	posts, err := query(ctx, f.timeout, "posts", f.posts.List)
	if err != nil {
		return nil, repository.ToAppError(err)
	}

	out := &Collections{Posts: posts}
	authorIDs := AuthorIDs(posts)
	postIDs := PostIDs(posts)

	g, gctx := errgroup.WithContext(ctx)
	if len(authorIDs) > 0 {
		g.Go(func() error {
			users, err := query(gctx, f.timeout, "users", func(ctx context.Context) ([]models.User, error) {
				return f.users.ListByIDs(ctx, authorIDs)
			})
			out.Users = users
			return err
		})
	}
	if len(postIDs) > 0 {
		g.Go(func() error {
			comments, err := query(gctx, f.timeout, "comments", func(ctx context.Context) ([]models.Comment, error) {
				return f.comments.ListByPostIDs(ctx, postIDs)
			})
			out.Comments = comments
			return err
		})
		g.Go(func() error {
			likes, err := query(gctx, f.timeout, "likes", func(ctx context.Context) ([]models.Like, error) {
				return f.likes.ListByPostIDs(ctx, postIDs)
			})
			out.Likes = likes
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, repository.ToAppError(err)
	}

	return out, nil
}

func query[T any](ctx context.Context, timeout time.Duration, table string, fn func(context.Context) ([]T, error)) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := observability.StartQuerySpan(ctx, table)
	start := time.Now()
	rows, err := fn(ctx)
	observability.StoreQueryLatency.WithLabelValues(table).Observe(time.Since(start).Seconds())
	observability.EndSpan(span, err)
	return rows, err
}

// AuthorIDs returns the distinct non-empty author IDs of posts in first-seen order.
func AuthorIDs(posts []models.Post) []string {
	seen := make(map[string]struct{}, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if p.AuthorID == "" {
			continue
		}
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		ids = append(ids, p.AuthorID)
	}
	return ids
}

// PostIDs returns the IDs of posts in order.
func PostIDs(posts []models.Post) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
