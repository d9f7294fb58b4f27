package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bilimshare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postSourceStub struct {
	listFn func(context.Context) ([]models.Post, error)
}

func (s *postSourceStub) List(ctx context.Context) ([]models.Post, error) { return s.listFn(ctx) }

type userSourceStub struct {
	calls       atomic.Int32
	listByIDsFn func(context.Context, []string) ([]models.User, error)
}

func (s *userSourceStub) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	s.calls.Add(1)
	return s.listByIDsFn(ctx, ids)
}

type commentSourceStub struct {
	calls           atomic.Int32
	listByPostIDsFn func(context.Context, []string) ([]models.Comment, error)
}

func (s *commentSourceStub) ListByPostIDs(ctx context.Context, ids []string) ([]models.Comment, error) {
	s.calls.Add(1)
	return s.listByPostIDsFn(ctx, ids)
}

type likeSourceStub struct {
	calls           atomic.Int32
	listByPostIDsFn func(context.Context, []string) ([]models.Like, error)
}

func (s *likeSourceStub) ListByPostIDs(ctx context.Context, ids []string) ([]models.Like, error) {
	s.calls.Add(1)
	return s.listByPostIDsFn(ctx, ids)
}

type stubSources struct {
	posts    *postSourceStub
	users    *userSourceStub
	comments *commentSourceStub
	likes    *likeSourceStub
}

func newStubSources(posts []models.Post) *stubSources {
	return &stubSources{
		posts: &postSourceStub{listFn: func(context.Context) ([]models.Post, error) { return posts, nil }},
		users: &userSourceStub{listByIDsFn: func(context.Context, []string) ([]models.User, error) { return nil, nil }},
		comments: &commentSourceStub{listByPostIDsFn: func(context.Context, []string) ([]models.Comment, error) {
			return nil, nil
		}},
		likes: &likeSourceStub{listByPostIDsFn: func(context.Context, []string) ([]models.Like, error) { return nil, nil }},
	}
}

func (s *stubSources) fetcher(timeout time.Duration) *Fetcher {
	return NewFetcher(FetcherInput{Posts: s.posts, Users: s.users, Comments: s.comments, Likes: s.likes, Timeout: timeout})
}

func TestFetcher_EmptyPostsSkipsDependentQueries(t *testing.T) {
	src := newStubSources(nil)

	c, err := src.fetcher(time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c.Posts)
	assert.Zero(t, src.users.calls.Load())
	assert.Zero(t, src.comments.calls.Load())
	assert.Zero(t, src.likes.calls.Load())
}

func TestFetcher_PassesDistinctAuthorAndPostIDs(t *testing.T) {
	posts := []models.Post{
		{ID: "p3", AuthorID: "u2"},
		{ID: "p2", AuthorID: "u1"},
		{ID: "p1", AuthorID: "u2"},
		{ID: "p0", AuthorID: ""},
	}
	src := newStubSources(posts)

	var gotAuthors, gotCommentPosts, gotLikePosts []string
	src.users.listByIDsFn = func(_ context.Context, ids []string) ([]models.User, error) {
		gotAuthors = ids
		return []models.User{{ID: "u1"}, {ID: "u2"}}, nil
	}
	src.comments.listByPostIDsFn = func(_ context.Context, ids []string) ([]models.Comment, error) {
		gotCommentPosts = ids
		return []models.Comment{{ID: "c1", PostID: "p1"}}, nil
	}
	src.likes.listByPostIDsFn = func(_ context.Context, ids []string) ([]models.Like, error) {
		gotLikePosts = ids
		return []models.Like{{ID: "l1", PostID: "p1", UserID: "u1"}}, nil
	}

	c, err := src.fetcher(time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1"}, gotAuthors)
	assert.Equal(t, []string{"p3", "p2", "p1", "p0"}, gotCommentPosts)
	assert.Equal(t, gotCommentPosts, gotLikePosts)
	assert.Len(t, c.Users, 2)
	assert.Len(t, c.Comments, 1)
	assert.Len(t, c.Likes, 1)
}

func TestFetcher_PostsFailureAborts(t *testing.T) {
	src := newStubSources(nil)
	src.posts.listFn = func(context.Context) ([]models.Post, error) {
		return nil, errors.New("relation \"posts\" does not exist")
	}

	c, err := src.fetcher(time.Second).Fetch(context.Background())
	assert.Nil(t, c)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeStore, appErr.Code)
	assert.Contains(t, appErr.Message, "does not exist")
	assert.Zero(t, src.users.calls.Load())
}

func TestFetcher_DependentFailureReturnsNoPartialResult(t *testing.T) {
	src := newStubSources([]models.Post{{ID: "p1", AuthorID: "u1"}})
	src.likes.listByPostIDsFn = func(context.Context, []string) ([]models.Like, error) {
		return nil, errors.New("permission denied for table likes")
	}

	c, err := src.fetcher(time.Second).Fetch(context.Background())
	assert.Nil(t, c)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeStore, appErr.Code)
}

func TestFetcher_QueryTimeout(t *testing.T) {
	src := newStubSources([]models.Post{{ID: "p1", AuthorID: "u1"}})
	src.comments.listByPostIDsFn = func(ctx context.Context, _ []string) ([]models.Comment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c, err := src.fetcher(20 * time.Millisecond).Fetch(context.Background())
	assert.Nil(t, c)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeTimeout, appErr.Code)
}
